// Package config loads and validates the pipeline's JSON configuration
// document (spec §6): three ordered module-spec arrays plus a top-level
// start_ttl, with `{name}` placeholders in module kwargs resolved from CLI
// key/value pairs before instantiation.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

// DefaultStartTTL is used when the document omits start_ttl.
const DefaultStartTTL = 5

// BindingThread and BindingProcess are the two concurrency bindings spec §5
// requires under one configuration surface: BindingThread runs every worker
// as a goroutine sharing process memory; BindingProcess re-execs this same
// binary once per worker (see internal/procbinding) and bridges queues over
// a pipe.
const (
	BindingThread  = "thread"
	BindingProcess = "process"
)

// ModuleSpec is one (name, kwargs) 2-tuple entry from an endpoint array.
// Kwargs values may still contain unresolved `{name}` placeholders until
// ApplyTemplate runs.
type ModuleSpec struct {
	Name   string         `validate:"required"`
	Kwargs map[string]any `validate:"-"`
}

// UnmarshalJSON decodes a ModuleSpec from its wire form: a 2-element JSON
// array, `[name, {kwargs}]`, not an object.
func (m *ModuleSpec) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("op=config.ModuleSpec.UnmarshalJSON: expected a [name, kwargs] pair: %w", err)
	}
	if err := json.Unmarshal(tuple[0], &m.Name); err != nil {
		return fmt.Errorf("op=config.ModuleSpec.UnmarshalJSON: module name: %w", err)
	}
	m.Kwargs = map[string]any{}
	if len(tuple[1]) > 0 && string(tuple[1]) != "null" {
		if err := json.Unmarshal(tuple[1], &m.Kwargs); err != nil {
			return fmt.Errorf("op=config.ModuleSpec.UnmarshalJSON: module %q kwargs: %w", m.Name, err)
		}
	}
	return nil
}

// MarshalJSON encodes a ModuleSpec back to its [name, kwargs] wire form.
func (m ModuleSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{m.Name, m.Kwargs})
}

// Document is the decoded, validated configuration surface.
type Document struct {
	StartTTL              int          `validate:"gte=0"`
	ConcurrencyBinding    string       `validate:"oneof=thread process"`
	InputEndpointModules  []ModuleSpec `validate:"dive"`
	ReemitterModules      []ModuleSpec `validate:"dive"`
	OutputEndpointModules []ModuleSpec `validate:"dive"`
}

// rawDocument mirrors the JSON wire shape; StartTTL is a pointer so a
// present-but-zero value can be distinguished from an absent key.
type rawDocument struct {
	StartTTL              *int         `json:"start_ttl"`
	ConcurrencyBinding    string       `json:"concurrency_binding"`
	InputEndpointModules  []ModuleSpec `json:"InputEndpointModules"`
	ReemitterModules      []ModuleSpec `json:"ReemitterModules"`
	OutputEndpointModules []ModuleSpec `json:"OutputEndpointModules"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// Parse decodes and validates a configuration document from r.
func Parse(r io.Reader) (Document, error) {
	var raw rawDocument
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Document{}, fmt.Errorf("op=config.Parse: %w", err)
	}

	doc := Document{
		StartTTL:              DefaultStartTTL,
		ConcurrencyBinding:    BindingThread,
		InputEndpointModules:  raw.InputEndpointModules,
		ReemitterModules:      raw.ReemitterModules,
		OutputEndpointModules: raw.OutputEndpointModules,
	}
	if raw.StartTTL != nil {
		doc.StartTTL = *raw.StartTTL
	}
	if raw.ConcurrencyBinding != "" {
		doc.ConcurrencyBinding = raw.ConcurrencyBinding
	}

	if err := getValidator().Struct(doc); err != nil {
		return Document{}, fmt.Errorf("op=config.Parse: %w", err)
	}
	return doc, nil
}

// Load reads and parses the configuration document at path. A path of "-"
// reads from stdin, per spec §6's CLI contract.
func Load(path string) (Document, error) {
	r, err := openSource(path)
	if err != nil {
		return Document{}, fmt.Errorf("op=config.Load: %w", err)
	}
	defer r.Close()
	return Parse(r)
}

func openSource(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// ApplyTemplate resolves every `{name}` placeholder in every module's
// kwargs (recursively, through nested maps and slices) against vars. A
// placeholder naming a key absent from vars is a fatal configuration error.
func (d *Document) ApplyTemplate(vars map[string]string) error {
	for _, specs := range [][]ModuleSpec{d.InputEndpointModules, d.ReemitterModules, d.OutputEndpointModules} {
		for i := range specs {
			substituted, err := substituteValue(specs[i].Kwargs, vars)
			if err != nil {
				return fmt.Errorf("op=config.ApplyTemplate: module %q: %w", specs[i].Name, err)
			}
			specs[i].Kwargs = substituted.(map[string]any)
		}
	}
	return nil
}

func substituteValue(v any, vars map[string]string) (any, error) {
	switch x := v.(type) {
	case string:
		return substituteString(x, vars)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			sv, err := substituteValue(val, vars)
			if err != nil {
				return nil, err
			}
			out[k] = sv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			sv, err := substituteValue(val, vars)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	default:
		return v, nil
	}
}

func substituteString(s string, vars map[string]string) (string, error) {
	var missingKey string
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		key := match[1 : len(match)-1]
		val, ok := vars[key]
		if !ok {
			missingKey = key
			return match
		}
		return val
	})
	if missingKey != "" {
		return "", fmt.Errorf("missing template key %q", missingKey)
	}
	return out, nil
}

// ParseTemplateArgs turns the CLI's flat `--template KEY VAL KEY VAL ...`
// tokens into a vars map. An odd token count is a configuration error (spec
// §6's CLI contract).
func ParseTemplateArgs(tokens []string) (map[string]string, error) {
	if len(tokens)%2 != 0 {
		return nil, fmt.Errorf("op=config.ParseTemplateArgs: odd number of --template arguments (%d)", len(tokens))
	}
	vars := make(map[string]string, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		vars[tokens[i]] = tokens[i+1]
	}
	return vars, nil
}
