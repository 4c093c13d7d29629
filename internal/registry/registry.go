// Package registry holds the canonical tool definitions exposed to
// backends in place of whatever the client declared, and normalises tool
// call arguments coming back. Schemas follow the "ultra-simple" policy:
// object-typed, primitive-or-array-of-primitive properties only, no
// additionalProperties, no oneOf/anyOf, no defaults, no format constraints.
package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/halvorsen-dev/claude-relay/internal/apperr"
	"github.com/halvorsen-dev/claude-relay/internal/config"
)

// Entry is one registry-owned tool definition.
type Entry struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Required    []string
	// Rename maps an incoming (backend-returned) argument name to the
	// canonical name the client-facing schema declares.
	Rename map[string]string
}

// Registry is built once at startup and frozen.
type Registry struct {
	osFamily config.OSFamily
	entries  []Entry
	byName   map[string]Entry
	// reverse is derived once from the forward entries and never mutated,
	// per the design note on cyclic tool-name maps.
	reverse map[string]string
}

// New builds and self-validates the registry for the given host OS family.
// A schema that violates the ultra-simple policy is a startup-fatal
// apperr.InternalError, since a bad schema would otherwise only surface
// as a confusing backend 400 at request time.
func New(osFamily config.OSFamily) (*Registry, error) {
	entries := buildEntries(osFamily)

	r := &Registry{
		osFamily: osFamily,
		entries:  entries,
		byName:   make(map[string]Entry, len(entries)),
		reverse:  make(map[string]string, len(entries)),
	}

	compiler := jsonschema.NewCompiler()
	for i, e := range entries {
		if err := validateUltraSimple(e.Schema); err != nil {
			return nil, apperr.Wrap(apperr.InternalError, fmt.Sprintf("registry entry %q violates ultra-simple schema policy", e.Name), err)
		}
		url := fmt.Sprintf("mem://registry/%d.json", i)
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(e.Schema)))
		if err != nil {
			return nil, apperr.Wrap(apperr.InternalError, fmt.Sprintf("registry entry %q has invalid JSON Schema", e.Name), err)
		}
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, apperr.Wrap(apperr.InternalError, fmt.Sprintf("registry entry %q has invalid JSON Schema", e.Name), err)
		}
		if _, err := compiler.Compile(url); err != nil {
			return nil, apperr.Wrap(apperr.InternalError, fmt.Sprintf("registry entry %q failed schema compilation", e.Name), err)
		}
		r.byName[e.Name] = e
		// One-to-one: the public name is what the backend sees and what
		// the client sees after reverse mapping, so the identity entry
		// keeps reverse_tool_name total over known names.
		r.reverse[e.Name] = e.Name
	}

	return r, nil
}

// ToolsForOS returns the registry's tools, in stable declaration order.
func (r *Registry) ToolsForOS() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ReverseToolName maps a backend-returned tool name back to the client's
// name. Unknown names pass through unchanged so unexpected backend-added
// tools round-trip instead of erroring.
func (r *Registry) ReverseToolName(backendName string) string {
	if name, ok := r.reverse[backendName]; ok {
		return name
	}
	return backendName
}

// CanonicalArgs applies a tool's rename map, drops explicit-null
// properties, coerces string-list arguments into the required object-list
// shape, and fails with InvalidArgs if a required property is still
// missing afterward.
func (r *Registry) CanonicalArgs(toolName string, raw map[string]any) (string, map[string]any, error) {
	entry, ok := r.byName[toolName]
	if !ok {
		// Unknown tool: pass the arguments through unchanged, the name
		// already round-tripped via ReverseToolName.
		return toolName, raw, nil
	}

	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		name := k
		if renamed, ok := entry.Rename[k]; ok {
			name = renamed
		}
		out[name] = v
	}

	coerceListOfStringsToObjects(entry, out)

	for _, req := range entry.Required {
		if _, ok := out[req]; !ok {
			return "", nil, apperr.New(apperr.InvalidArgs, fmt.Sprintf("tool %q missing required argument %q after normalisation", entry.Name, req))
		}
	}

	return entry.Name, out, nil
}

// listObjectFields names the per-tool list argument that may arrive as a
// list of bare strings instead of the required list of objects, and the
// object shape to synthesise.
var listObjectFields = map[string]struct {
	field        string
	contentField string
}{
	"manage_todos": {field: "todos", contentField: "content"},
}

func coerceListOfStringsToObjects(entry Entry, args map[string]any) {
	spec, ok := listObjectFields[entry.Name]
	if !ok {
		return
	}
	raw, ok := args[spec.field]
	if !ok {
		return
	}
	items, ok := raw.([]any)
	if !ok {
		return
	}
	coerced := make([]any, 0, len(items))
	allStrings := true
	for _, it := range items {
		if _, ok := it.(string); !ok {
			allStrings = false
			break
		}
	}
	if !allStrings {
		return
	}
	for _, it := range items {
		s := it.(string)
		coerced = append(coerced, map[string]any{
			spec.contentField: s,
			"status":          "pending",
			"activeForm":      presentContinuous(s),
		})
	}
	args[spec.field] = coerced
}

// presentContinuous synthesises a present-continuous form by appending
// "ing" to the lowercased first word (dropping a single trailing "e"
// first), per the registry's self-healing policy.
func presentContinuous(task string) string {
	fields := strings.Fields(task)
	if len(fields) == 0 {
		return task
	}
	verb := fields[0]
	rest := fields[1:]
	ing := toIng(verb)
	if len(rest) == 0 {
		return ing
	}
	return ing + " " + strings.Join(rest, " ")
}

func toIng(verb string) string {
	lower := strings.ToLower(verb)
	switch {
	case strings.HasSuffix(lower, "e") && !strings.HasSuffix(lower, "ee"):
		return lower[:len(lower)-1] + "ing"
	default:
		return lower + "ing"
	}
}

// validateUltraSimple rejects any schema that uses a construct the policy
// bans, independent of whether the construct is itself valid JSON Schema.
func validateUltraSimple(raw json.RawMessage) error {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if t, _ := doc["type"].(string); t != "object" {
		return fmt.Errorf("top-level type must be \"object\", got %v", doc["type"])
	}
	banned := []string{"additionalProperties", "oneOf", "anyOf", "default", "format"}
	return scanBanned(doc, banned)
}

func scanBanned(node any, banned []string) error {
	switch v := node.(type) {
	case map[string]any:
		for _, b := range banned {
			if _, ok := v[b]; ok {
				return fmt.Errorf("banned keyword %q present", b)
			}
		}
		for _, child := range v {
			if err := scanBanned(child, banned); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range v {
			if err := scanBanned(child, banned); err != nil {
				return err
			}
		}
	}
	return nil
}
