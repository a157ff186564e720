package definitions

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/xjson"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatHCL  Format = "hcl"
)

var ErrUnknownFormat = errors.New("unknown definition format")

// FormatFor picks the format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".hcl":
		return FormatHCL, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// document is the on-disk shape shared by YAML and JSON. Edges may be listed
// directly, given as connections, or both; connection edges come last.
type document struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Active      bool           `json:"active" yaml:"active"`
	Tags        []string       `json:"tags" yaml:"tags"`
	Nodes       []domain.Node  `json:"nodes" yaml:"nodes"`
	Edges       []domain.Edge  `json:"edges" yaml:"edges"`
	Connections map[string]any `json:"connections" yaml:"connections"`
}

func (d *document) empty() bool {
	return d.ID == "" && d.Name == "" && len(d.Nodes) == 0 && len(d.Edges) == 0
}

// LoadFile reads every workflow defined in path.
func LoadFile(path string) ([]*domain.WorkflowDefinition, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file %s: %w", path, err)
	}
	return Parse(data, format, path)
}

// LoadDir loads every definition file directly under dir, in file name order.
// Files with other extensions are ignored.
func LoadDir(dir string) ([]*domain.WorkflowDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, err := FormatFor(entry.Name()); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var defs []*domain.WorkflowDefinition
	for _, name := range names {
		loaded, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}
	return defs, checkUniqueIDs(defs)
}

// Parse decodes data in the given format. source names the input in errors.
func Parse(data []byte, format Format, source string) ([]*domain.WorkflowDefinition, error) {
	var (
		docs []document
		err  error
	)
	switch format {
	case FormatYAML:
		docs, err = parseYAML(data)
	case FormatJSON:
		docs, err = parseJSON(data)
	case FormatHCL:
		docs, err = parseHCL(data, source)
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s defines no workflows: %w", source, domain.ErrInvalidInput)
	}

	defs := make([]*domain.WorkflowDefinition, 0, len(docs))
	for i := range docs {
		def, err := docs[i].definition()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		defs = append(defs, def)
	}
	return defs, checkUniqueIDs(defs)
}

func parseYAML(data []byte) ([]document, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var docs []document
	for {
		var doc document
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		if !doc.empty() {
			docs = append(docs, doc)
		}
	}
}

// parseJSON accepts a single workflow object or an array of them.
func parseJSON(data []byte) ([]document, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var docs []document
		if err := xjson.Unmarshal(data, &docs); err != nil {
			return nil, err
		}
		return docs, nil
	}
	var doc document
	if err := xjson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.empty() {
		return nil, nil
	}
	return []document{doc}, nil
}

func (d *document) definition() (*domain.WorkflowDefinition, error) {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return nil, fmt.Errorf("workflow id is required: %w", domain.ErrInvalidInput)
	}

	connected, err := expandConnections(d.Nodes, d.Connections)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}

	def := &domain.WorkflowDefinition{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		Active:      d.Active,
		Tags:        d.Tags,
		Nodes:       d.Nodes,
		Edges:       append(append([]domain.Edge(nil), d.Edges...), connected...),
	}
	if def.Name == "" {
		def.Name = id
	}
	for i := range def.Nodes {
		if def.Nodes[i].Name == "" {
			def.Nodes[i].Name = def.Nodes[i].ID
		}
	}
	return normalize(def)
}

// normalize round-trips def through JSON so parameter values have the types
// a stored workflow has: float64 numbers, []any lists and map[string]any
// objects, whatever format they were written in.
func normalize(def *domain.WorkflowDefinition) (*domain.WorkflowDefinition, error) {
	payload, err := xjson.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", def.ID, err)
	}
	var out domain.WorkflowDefinition
	if err := xjson.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", def.ID, err)
	}
	if out.Edges == nil {
		out.Edges = []domain.Edge{}
	}
	return &out, nil
}

func checkUniqueIDs(defs []*domain.WorkflowDefinition) error {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if seen[def.ID] {
			return fmt.Errorf("workflow %s is defined more than once: %w", def.ID, domain.ErrInvalidInput)
		}
		seen[def.ID] = true
	}
	return nil
}
