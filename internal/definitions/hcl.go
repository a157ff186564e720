package definitions

import (
	"fmt"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/xjson"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// hclFile is the HCL layout: any number of labelled workflow blocks, each
// holding labelled node blocks plus edge blocks and/or a connections map.
//
//	workflow "regiflow-payments" {
//	  node "webhook" {
//	    type       = "trigger"
//	    parameters = { path = "stripe-webhook" }
//	  }
//	  connections = { webhook = ["extract"] }
//	}
type hclFile struct {
	Workflows []hclWorkflow `hcl:"workflow,block"`
}

type hclWorkflow struct {
	ID          string         `hcl:"id,label"`
	Name        string         `hcl:"name,optional"`
	Description string         `hcl:"description,optional"`
	Active      bool           `hcl:"active,optional"`
	Tags        []string       `hcl:"tags,optional"`
	Nodes       []hclNode      `hcl:"node,block"`
	Edges       []hclEdge      `hcl:"edge,block"`
	Connections hcl.Expression `hcl:"connections,optional"`
}

type hclNode struct {
	ID         string         `hcl:"id,label"`
	Name       string         `hcl:"name,optional"`
	Type       string         `hcl:"type"`
	Position   []float64      `hcl:"position,optional"`
	Parameters hcl.Expression `hcl:"parameters,optional"`
}

type hclEdge struct {
	From   string  `hcl:"from"`
	To     string  `hcl:"to"`
	Branch *string `hcl:"branch,optional"`
}

func parseHCL(data []byte, filename string) ([]document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, diags
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, diags
	}

	docs := make([]document, 0, len(parsed.Workflows))
	for _, wf := range parsed.Workflows {
		doc, err := wf.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (w *hclWorkflow) document() (document, error) {
	doc := document{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Active:      w.Active,
		Tags:        w.Tags,
		Nodes:       make([]domain.Node, 0, len(w.Nodes)),
		Edges:       make([]domain.Edge, 0, len(w.Edges)),
	}

	for _, n := range w.Nodes {
		node := domain.Node{ID: n.ID, Name: n.Name, Type: domain.NodeType(n.Type)}
		switch len(n.Position) {
		case 0:
		case 2:
			node.Position = [2]float64{n.Position[0], n.Position[1]}
		default:
			return document{}, fmt.Errorf("workflow %s node %s: position needs two numbers: %w",
				w.ID, n.ID, domain.ErrInvalidInput)
		}

		params, err := objectValue(n.Parameters)
		if err != nil {
			return document{}, fmt.Errorf("workflow %s node %s parameters: %w", w.ID, n.ID, err)
		}
		node.Parameters = params
		doc.Nodes = append(doc.Nodes, node)
	}

	for _, e := range w.Edges {
		doc.Edges = append(doc.Edges, domain.Edge{From: e.From, To: e.To, Branch: e.Branch})
	}

	connections, err := objectValue(w.Connections)
	if err != nil {
		return document{}, fmt.Errorf("workflow %s connections: %w", w.ID, err)
	}
	doc.Connections = connections
	return doc, nil
}

// objectValue evaluates expr without variables and converts the result to
// plain Go values. A missing attribute yields nil.
func objectValue(expr hcl.Expression) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s: %w", val.Type().FriendlyName(), domain.ErrInvalidInput)
	}

	converted, err := ctyToGo(val)
	if err != nil {
		return nil, err
	}
	out, _ := converted.(map[string]any)
	return out, nil
}

func ctyToGo(val cty.Value) (any, error) {
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known without evaluation context: %w", domain.ErrInvalidInput)
	}
	payload, err := ctyjson.SimpleJSONValue{Value: val}.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out any
	if err := xjson.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
