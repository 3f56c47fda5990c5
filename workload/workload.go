// Package workload holds the per-frame stages that can be selected by name
// from the configuration file.
package workload

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/andewx/compressor"
)

type factory func(params map[string]any) (compressor.Workload, error)

var registry = map[string]factory{
	"clear":       newClear,
	"passthrough": newPassthrough,
}

// New builds the workload registered under name from its params block.
func New(name string, params map[string]any) (compressor.Workload, error) {
	f, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown workload %q, have %s", name, strings.Join(Names(), ", "))
	}
	w, err := f(params)
	if err != nil {
		return nil, errors.Wrapf(err, "workload %q", name)
	}
	return w, nil
}

// Names lists the registered workloads in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// YAML decodes numbers into int or float64 depending on how they are
// written, so both are accepted everywhere a number is expected.
func number(params map[string]any, key string) (float64, bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case uint64:
		return float64(n), true, nil
	case float32:
		return float64(n), true, nil
	case float64:
		return n, true, nil
	}
	return 0, false, errors.Errorf("param %q: want a number, got %T", key, v)
}

func uintParam(params map[string]any, key string, def uint32) (uint32, error) {
	n, ok, err := number(params, key)
	if err != nil || !ok {
		return def, err
	}
	if n < 0 || n > float64(^uint32(0)) || n != float64(uint32(n)) {
		return 0, errors.Errorf("param %q: %v is not a 32-bit unsigned integer", key, n)
	}
	return uint32(n), nil
}

func floatParam(params map[string]any, key string, def float32) (float32, error) {
	n, ok, err := number(params, key)
	if err != nil || !ok {
		return def, err
	}
	return float32(n), nil
}

func boolParam(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Errorf("param %q: want a bool, got %T", key, v)
	}
	return b, nil
}

// colorParam reads an [r, g, b, a] list. Alpha may be omitted.
func colorParam(params map[string]any, key string, def [4]float32) ([4]float32, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	list, ok := v.([]any)
	if !ok || len(list) < 3 || len(list) > 4 {
		return def, errors.Errorf("param %q: want a list of 3 or 4 numbers", key)
	}
	color := [4]float32{0, 0, 0, 1}
	for i, c := range list {
		f, _, err := number(map[string]any{key: c}, key)
		if err != nil {
			return def, err
		}
		if f < 0 || f > 1 {
			return def, errors.Errorf("param %q: component %d out of [0, 1]", key, i)
		}
		color[i] = float32(f)
	}
	return color, nil
}
