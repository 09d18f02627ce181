package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by a Source for a key it has no value for.
var ErrNotFound = errors.New("configuration key not found")

// Source is a typed key/value accessor over configuration options.
// Keys are dotted paths, e.g. "eviction.threads_min".
type Source interface {
	Int(key string) (int64, error)
	Float(key string) (float64, error)
	Bool(key string) (bool, error)
	// String returns ok=false when the key is unset or set to "none".
	String(key string) (value string, ok bool, err error)
}

// Layers is a Source that resolves a key from the last layer that defines it,
// so user supplied layers override the defaults underneath them.
type Layers []map[string]any

// NewSource builds a Source over the built-in defaults plus the given override layers.
func NewSource(overrides ...map[string]any) Layers {
	layers := Layers{Defaults()}
	for _, o := range overrides {
		if o != nil {
			layers = append(layers, o)
		}
	}
	return layers
}

// With returns a copy of the source with one more override layer on top.
func (l Layers) With(override map[string]any) Layers {
	next := make(Layers, 0, len(l)+1)
	next = append(next, l...)
	return append(next, override)
}

func (l Layers) lookup(key string) (any, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if v, ok := l[i][key]; ok {
			return v, true
		}
	}
	return nil, false
}

func (l Layers) Int(key string) (int64, error) {
	v, ok := l.lookup(key)
	if !ok {
		return 0, errors.Wrapf(ErrNotFound, "%s", key)
	}
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, errors.Newf("%s: value %d overflows", key, t)
		}
		return int64(t), nil
	case float64:
		return int64(t), nil
	case string:
		n, err := ParseSize(t)
		if err != nil {
			return 0, errors.Wrapf(err, "%s", key)
		}
		return n, nil
	default:
		return 0, errors.Newf("%s: unexpected type %T", key, v)
	}
}

func (l Layers) Float(key string) (float64, error) {
	v, ok := l.lookup(key)
	if !ok {
		return 0, errors.Wrapf(ErrNotFound, "%s", key)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, nil
		}
		n, err := ParseSize(t)
		if err != nil {
			return 0, errors.Wrapf(err, "%s", key)
		}
		return float64(n), nil
	default:
		return 0, errors.Newf("%s: unexpected type %T", key, v)
	}
}

func (l Layers) Bool(key string) (bool, error) {
	v, ok := l.lookup(key)
	if !ok {
		return false, errors.Wrapf(ErrNotFound, "%s", key)
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case int:
		return t != 0, nil
	case int64:
		return t != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, errors.Wrapf(err, "%s", key)
		}
		return b, nil
	default:
		return false, errors.Newf("%s: unexpected type %T", key, v)
	}
}

func (l Layers) String(key string) (string, bool, error) {
	v, ok := l.lookup(key)
	if !ok || v == nil {
		return "", false, nil
	}
	s, isString := v.(string)
	if !isString {
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return "", false, nil
	}
	return s, true, nil
}

// ParseSource decodes a yaml document into a Source layered over the defaults.
func ParseSource(data []byte) (Layers, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "unmarshal yaml")
	}
	flat := make(map[string]any, len(doc))
	flatten("", doc, flat)
	return NewSource(flat), nil
}

// LoadSource reads a yaml configuration file.
func LoadSource(path string) (Layers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config yaml file %s", path)
	}
	src, err := ParseSource(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return src, nil
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// ParseSize parses a byte count with an optional B, KB, MB, GB or TB suffix. The
// prefixes are 1024-based; KiB style suffixes are accepted as well.
func ParseSize(s string) (int64, error) {
	n, err := crhumanize.ParseBytes[int64](binaryUnits(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid size %q", s)
	}
	return n, nil
}

// binaryUnits rewrites a K, M, G, T, P or E prefix into its Ki, Mi... form.
func binaryUnits(s string) string {
	s = strings.TrimSpace(s)
	u := strings.TrimSuffix(strings.ToUpper(s), "B")
	if u == "" {
		return s
	}
	switch u[len(u)-1] {
	case 'K', 'M', 'G', 'T', 'P', 'E':
		return u + "i"
	}
	return s
}
