// Package tools declares the inventory functions the assistant may call and
// turns raw call arguments into typed requests.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Kind is the JSON type of a parameter.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
)

// Tool names.
const (
	AddItemName             = "add_item"
	RemoveItemName          = "remove_item"
	GetItemDetailsName      = "get_item_details"
	GetInventorySummaryName = "get_inventory_summary"
)

// ErrUnknownTool is returned by Parse for names not in the registry.
var ErrUnknownTool = errors.New("tools: unknown function")

// ArgumentError reports call arguments that do not match a tool's parameters.
type ArgumentError struct {
	Tool     string
	Problems []string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// Param is one required parameter.
type Param struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
}

// Spec declares one callable tool. Every parameter is required.
type Spec struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// Schema returns the JSON schema of the tool's arguments object.
func (s Spec) Schema() map[string]any {
	props := make(map[string]any, len(s.Params))
	required := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		props[p.Name] = map[string]any{
			"type":        string(p.Kind),
			"description": p.Description,
		}
		required = append(required, p.Name)
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Request is one function call from the remote service. ID is unique within
// a session only.
type Request struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

// Registry is an immutable set of tool specs with compiled argument schemas.
type Registry struct {
	specs   []Spec
	index   map[string]int
	schemas []*gojsonschema.Schema
}

// NewRegistry compiles the argument schema of every spec.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{
		specs:   append([]Spec(nil), specs...),
		index:   make(map[string]int, len(specs)),
		schemas: make([]*gojsonschema.Schema, len(specs)),
	}
	for i, s := range r.specs {
		if _, dup := r.index[s.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool %q", s.Name)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s.Schema()))
		if err != nil {
			return nil, fmt.Errorf("tools: compile schema for %s: %w", s.Name, err)
		}
		r.index[s.Name] = i
		r.schemas[i] = schema
	}
	return r, nil
}

var defaultRegistry = mustRegistry(InventorySpecs()...)

func mustRegistry(specs ...Spec) *Registry {
	r, err := NewRegistry(specs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the registry of the four inventory tools.
func Default() *Registry {
	return defaultRegistry
}

// InventorySpecs returns the inventory tool declarations in advertisement order.
func InventorySpecs() []Spec {
	return []Spec{
		{
			Name:        AddItemName,
			Description: "Add stock to the inventory. Increases the quantity of an existing item and updates its price.",
			Params: []Param{
				{Name: "name", Kind: KindString, Description: "Item name, e.g. \"Abbey Road LP\"."},
				{Name: "quantity", Kind: KindNumber, Description: "How many units to add."},
				{Name: "price_per_item", Kind: KindNumber, Description: "Price of one unit in dollars."},
			},
		},
		{
			Name:        RemoveItemName,
			Description: "Remove stock from the inventory, for example after a sale. Deletes the item when none remain.",
			Params: []Param{
				{Name: "name", Kind: KindString, Description: "Item name."},
				{Name: "quantity", Kind: KindNumber, Description: "How many units to remove."},
			},
		},
		{
			Name:        GetItemDetailsName,
			Description: "Look up the quantity and price of one item.",
			Params: []Param{
				{Name: "name", Kind: KindString, Description: "Item name."},
			},
		},
		{
			Name:        GetInventorySummaryName,
			Description: "List every item in the inventory with its quantity and price.",
		},
	}
}

// Specs returns the registered specs in registration order.
func (r *Registry) Specs() []Spec {
	return append([]Spec(nil), r.specs...)
}

// Lookup returns the spec for name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	i, ok := r.index[name]
	if !ok {
		return Spec{}, false
	}
	return r.specs[i], true
}

// Validate checks args against the named tool's schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	i, ok := r.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := r.schemas[i].Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &ArgumentError{Tool: name, Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, len(result.Errors()))
		for j, desc := range result.Errors() {
			problems[j] = desc.String()
		}
		return &ArgumentError{Tool: name, Problems: problems}
	}
	return nil
}

// Parse validates args and decodes them into the typed call for name.
func (r *Registry) Parse(name string, args map[string]any) (Call, error) {
	if err := r.Validate(name, args); err != nil {
		return nil, err
	}

	var call Call
	switch name {
	case AddItemName:
		call = &AddItem{}
	case RemoveItemName:
		call = &RemoveItem{}
	case GetItemDetailsName:
		call = &GetItemDetails{}
	case GetInventorySummaryName:
		return GetInventorySummary{}, nil
	default:
		return nil, fmt.Errorf("%w: %s has no typed form", ErrUnknownTool, name)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &ArgumentError{Tool: name, Problems: []string{err.Error()}}
	}
	if err := json.Unmarshal(raw, call); err != nil {
		return nil, &ArgumentError{Tool: name, Problems: []string{err.Error()}}
	}

	switch c := call.(type) {
	case *AddItem:
		return *c, nil
	case *RemoveItem:
		return *c, nil
	case *GetItemDetails:
		return *c, nil
	}
	return call, nil
}
