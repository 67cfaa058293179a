package config

import (
	"github.com/pkg/errors"
)

// Options holds free-form network or criterion options.
// Values are as decoded from YAML.
type Options map[string]interface{}

// Int returns an integer option, or def if it is absent.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch v := v.(type) {
	case int:
		return v, nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	}
	return 0, errors.Errorf("option %s: expected integer but got %v", key, v)
}

// Float returns a numeric option, or def if it is absent.
func (o Options) Float(key string, def float64) (float64, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch v := v.(type) {
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, errors.Errorf("option %s: expected number but got %v", key, v)
}

// Bool returns a boolean option, or def if it is absent.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, errors.Errorf("option %s: expected boolean but got %v", key, v)
}

// String returns a string option, or def if it is absent.
func (o Options) String(key string, def string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.Errorf("option %s: expected string but got %v", key, v)
}

// Ints returns an integer list option, or nil if it is
// absent.
func (o Options) Ints(key string) ([]int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, errors.Errorf("option %s: expected list but got %v", key, v)
	}
	res := make([]int, len(list))
	for i, x := range list {
		n, err := Options{key: x}.Int(key, 0)
		if err != nil {
			return nil, err
		}
		res[i] = n
	}
	return res, nil
}
