// Package kwargs extracts typed values out of a module's configured
// keyword-argument map (config.ModuleSpec.Kwargs), which decodes from JSON
// as map[string]any. There is no corpus library for "pull a typed field out
// of a map[string]any with a default" — it is a handful of type switches,
// not a dependency's worth of problem.
package kwargs

import "fmt"

// String returns kw[key] as a string, or def if the key is absent.
func String(kw map[string]any, key, def string) (string, error) {
	v, ok := kw[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("kwargs: %q must be a string, got %T", key, v)
	}
	return s, nil
}

// RequiredString returns kw[key] as a string, erroring if absent.
func RequiredString(kw map[string]any, key string) (string, error) {
	v, ok := kw[key]
	if !ok {
		return "", fmt.Errorf("kwargs: %q is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("kwargs: %q must be a string, got %T", key, v)
	}
	return s, nil
}

// Int returns kw[key] as an int, or def if the key is absent. JSON numbers
// decode as float64, so that is the accepted input type.
func Int(kw map[string]any, key string, def int) (int, error) {
	v, ok := kw[key]
	if !ok {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("kwargs: %q must be a number, got %T", key, v)
	}
	return int(f), nil
}

// StringSlice returns kw[key] as a []string, or def if the key is absent.
func StringSlice(kw map[string]any, key string, def []string) ([]string, error) {
	v, ok := kw[key]
	if !ok {
		return def, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("kwargs: %q must be an array, got %T", key, v)
	}
	out := make([]string, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("kwargs: %q[%d] must be a string, got %T", key, i, item)
		}
		out[i] = s
	}
	return out, nil
}

// Bool returns kw[key] as a bool, or def if the key is absent.
func Bool(kw map[string]any, key string, def bool) (bool, error) {
	v, ok := kw[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("kwargs: %q must be a bool, got %T", key, v)
	}
	return b, nil
}
