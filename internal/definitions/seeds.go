package definitions

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"reflect"
	"sort"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

//go:embed seeds/*.yaml
var seedFiles embed.FS

// Embedded is the Seeder for the workflows bundled with the binary.
type Embedded struct{}

func (Embedded) Name() string { return "embedded" }

func (Embedded) Workflows() ([]*domain.WorkflowDefinition, error) {
	names, err := fs.Glob(seedFiles, "seeds/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var defs []*domain.WorkflowDefinition
	for _, name := range names {
		data, err := seedFiles.ReadFile(name)
		if err != nil {
			return nil, err
		}
		loaded, err := Parse(data, FormatYAML, path.Base(name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}
	return defs, checkUniqueIDs(defs)
}

// Dir is the Seeder for a directory of definition files.
type Dir string

func (d Dir) Name() string { return "dir:" + string(d) }

func (d Dir) Workflows() ([]*domain.WorkflowDefinition, error) {
	return LoadDir(string(d))
}

// File is the Seeder for a single definition file.
type File string

func (f File) Name() string { return "file:" + string(f) }

func (f File) Workflows() ([]*domain.WorkflowDefinition, error) {
	return LoadFile(string(f))
}

type SeedReport struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
	Activated []string `json:"activated"`
}

// Install writes every workflow from the seeders into repo. A workflow that
// does not exist is created; one whose graph differs becomes a new version;
// an identical one is left alone. Workflows declared active are then
// activated, which validates them. Like any update, a new version starts out
// inactive, so a changed workflow declared inactive ends up inactive.
func Install(ctx context.Context, repo ports.WorkflowRepository, logger *slog.Logger, seeders ...ports.Seeder) (*SeedReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "seeder")

	report := &SeedReport{}
	for _, seeder := range seeders {
		defs, err := seeder.Workflows()
		if err != nil {
			return report, fmt.Errorf("seeder %s: %w", seeder.Name(), err)
		}
		for _, def := range defs {
			if err := install(ctx, repo, def, report); err != nil {
				return report, fmt.Errorf("seeder %s: workflow %s: %w", seeder.Name(), def.ID, err)
			}
		}
		logger.Info("seeded workflows", "seeder", seeder.Name(), "count", len(defs))
	}
	return report, nil
}

func install(ctx context.Context, repo ports.WorkflowRepository, def *domain.WorkflowDefinition, report *SeedReport) error {
	existing, err := repo.Get(ctx, def.ID)
	switch {
	case domain.IsNotFound(err):
		if _, err := repo.Create(ctx, def); err != nil {
			return err
		}
		report.Created = append(report.Created, def.ID)
	case err != nil:
		return err
	case sameGraph(existing, def):
		report.Unchanged = append(report.Unchanged, def.ID)
		if existing.Active {
			return nil
		}
	default:
		if _, err := repo.Update(ctx, def, existing.Version); err != nil {
			return err
		}
		report.Updated = append(report.Updated, def.ID)
	}

	if !def.Active {
		return nil
	}
	if _, err := repo.SetActive(ctx, def.ID, true); err != nil {
		return err
	}
	report.Activated = append(report.Activated, def.ID)
	return nil
}

func sameGraph(a, b *domain.WorkflowDefinition) bool {
	if a.Name != b.Name || a.Description != b.Description {
		return false
	}
	if !reflect.DeepEqual(emptyIfNil(a.Tags), emptyIfNil(b.Tags)) {
		return false
	}
	return reflect.DeepEqual(a.Nodes, b.Nodes) && reflect.DeepEqual(a.Edges, b.Edges)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
