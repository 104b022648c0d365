// Package catalog holds the static registry of callable operations exposed by
// the issue tracker and the source-control host. The registry is built once at
// startup and read-only afterwards, so concurrent lookups need no locking.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/pkonate/teampulse/internal/errors"
)

// ParamType enumerates the value shapes an action parameter accepts.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeList    ParamType = "list"
)

// Param describes one parameter of an action.
type Param struct {
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
}

// Handler executes an action against its external system.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Descriptor describes one callable (tool, action) pair.
type Descriptor struct {
	Tool        string           `json:"tool"`
	Action      string           `json:"action"`
	Description string           `json:"description"`
	Params      map[string]Param `json:"params"`
	Returns     string           `json:"returns"`
	Handler     Handler          `json:"-"`
}

// Operation is a single catalog-bound action with concrete filters, produced
// by the intent parser or the fallback agent and validated before dispatch.
type Operation struct {
	Tool    string         `json:"tool"`
	Action  string         `json:"action"`
	Filters map[string]any `json:"filters,omitempty"`
}

func (op Operation) String() string {
	return op.Tool + "." + op.Action
}

// Registry maps (tool, action) to descriptors.
type Registry struct {
	byKey map[string]*Descriptor
}

func New() *Registry {
	return &Registry{byKey: make(map[string]*Descriptor)}
}

func key(tool, action string) string {
	return tool + "." + action
}

// Register adds a descriptor. Registration happens only during startup wiring;
// a duplicate pair is a programming error.
func (r *Registry) Register(d Descriptor) error {
	k := key(d.Tool, d.Action)
	if _, exists := r.byKey[k]; exists {
		return fmt.Errorf("capability %s already registered", k)
	}
	if d.Handler == nil {
		return fmt.Errorf("capability %s has no handler", k)
	}
	copied := d
	r.byKey[k] = &copied
	return nil
}

// Lookup returns the descriptor for a (tool, action) pair.
func (r *Registry) Lookup(tool, action string) (*Descriptor, bool) {
	d, ok := r.byKey[key(tool, action)]
	return d, ok
}

// Descriptors returns all registered descriptors, ordered by tool then action.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.byKey))
	for _, d := range r.byKey {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tool != out[j].Tool {
			return out[i].Tool < out[j].Tool
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Tools returns the distinct tool names in the registry.
func (r *Registry) Tools() []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range r.byKey {
		if !seen[d.Tool] {
			seen[d.Tool] = true
			out = append(out, d.Tool)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks an operation against its descriptor: the pair must exist,
// required params must be present, and every supplied filter must be declared
// with a matching value shape. A failed check is a typed error, never a panic.
func (r *Registry) Validate(op Operation) error {
	d, ok := r.Lookup(op.Tool, op.Action)
	if !ok {
		return apperrors.Wrap(
			fmt.Errorf("no descriptor for %s", op),
			apperrors.ErrUnknownCapability.Code,
			apperrors.ErrUnknownCapability.Message,
		)
	}

	for name, p := range d.Params {
		v, present := op.Filters[name]
		if !present {
			if p.Required {
				return invalidParams(op, fmt.Sprintf("missing required parameter %q", name))
			}
			continue
		}
		if err := checkType(v, p.Type); err != nil {
			return invalidParams(op, fmt.Sprintf("parameter %q: %v", name, err))
		}
	}

	for name := range op.Filters {
		if _, declared := d.Params[name]; !declared {
			return invalidParams(op, fmt.Sprintf("undeclared parameter %q", name))
		}
	}

	return nil
}

// Execute validates and runs an operation through its handler.
func (r *Registry) Execute(ctx context.Context, op Operation) (any, error) {
	if err := r.Validate(op); err != nil {
		return nil, err
	}
	d, _ := r.Lookup(op.Tool, op.Action)
	return d.Handler(ctx, op.Filters)
}

// Manifest renders the catalog as compact JSON for embedding into prompts, so
// the model only ever names actions that exist.
func (r *Registry) Manifest() string {
	type entry struct {
		Tool        string           `json:"tool"`
		Action      string           `json:"action"`
		Description string           `json:"description"`
		Params      map[string]Param `json:"params,omitempty"`
		Returns     string           `json:"returns,omitempty"`
	}
	entries := make([]entry, 0, len(r.byKey))
	for _, d := range r.Descriptors() {
		entries = append(entries, entry{
			Tool:        d.Tool,
			Action:      d.Action,
			Description: d.Description,
			Params:      d.Params,
			Returns:     d.Returns,
		})
	}
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetIndent("", "  ")
	_ = enc.Encode(entries)
	return sb.String()
}

func invalidParams(op Operation, detail string) error {
	return apperrors.Wrap(
		fmt.Errorf("%s: %s", op, detail),
		apperrors.ErrInvalidParams.Code,
		apperrors.ErrInvalidParams.Message,
	)
}

func checkType(v any, t ParamType) error {
	switch t {
	case TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case TypeInteger:
		switch n := v.(type) {
		case int, int64:
		case float64:
			if n != float64(int64(n)) {
				return fmt.Errorf("expected integer, got fractional number")
			}
		default:
			return fmt.Errorf("expected integer, got %T", v)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case TypeList:
		switch v.(type) {
		case []any, []string:
		default:
			return fmt.Errorf("expected list, got %T", v)
		}
	default:
		return fmt.Errorf("unknown parameter type %q", t)
	}
	return nil
}

// IntValue extracts an integer filter value, tolerating the float64 that
// encoding/json produces for numbers.
func IntValue(filters map[string]any, name string, fallback int) int {
	v, ok := filters[name]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}

// StringValue extracts a string filter value.
func StringValue(filters map[string]any, name string) string {
	if v, ok := filters[name].(string); ok {
		return v
	}
	return ""
}

// ListValue extracts a list-of-strings filter value.
func ListValue(filters map[string]any, name string) []string {
	switch v := filters[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
