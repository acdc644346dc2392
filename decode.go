// decode.go: Struct decoding of configuration subtrees
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"reflect"
	"sort"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/mitchellh/mapstructure"
)

// BindTagName is the struct tag read by Bind.
const BindTagName = "strata"

// Bind decodes every key under prefix into target, a pointer to a struct or
// map. Dotted keys become nested fields. Raw strings are converted with the
// configuration's converters, so any type with a converter can be a field.
// An empty prefix binds the whole configuration.
func (c *Configuration) Bind(prefix string, target any) error {
	if target == nil || reflect.ValueOf(target).Kind() != reflect.Pointer {
		return errors.New(ErrCodeInvalidConfig, "bind target must be a non-nil pointer")
	}

	props, err := c.Properties()
	if err != nil {
		return err
	}
	tree := nestKeys(props, prefix)

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          BindTagName,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			c.converterHook(prefix),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "failed to create decoder")
	}
	if err := decoder.Decode(tree); err != nil {
		return errors.Wrap(err, ErrCodeConversionFailed, "failed to bind configuration").
			WithContext("prefix", prefix)
	}
	return nil
}

// converterHook converts strings to any type the converter manager
// supports. Other values are passed through to the next hook.
func (c *Configuration) converterHook(prefix string) mapstructure.DecodeHookFuncType {
	stringType := reflect.TypeFor[string]()
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to == stringType || to.Kind() == reflect.Interface && to.NumMethod() == 0 {
			return data, nil
		}
		if !c.converters.IsTargetTypeSupported(to) {
			return data, nil
		}
		return c.converters.Convert(prefix, reflect.ValueOf(data).String(), to)
	}
}

// nestKeys turns the keys under prefix into a nested map. When a key is both
// a leaf and a parent ("a=1", "a.b=2") the parent wins.
func nestKeys(props map[string]string, prefix string) map[string]interface{} {
	root := make(map[string]interface{})
	if prefix != "" && !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		if strings.HasPrefix(k, prefix) && len(k) > len(prefix) {
			keys = append(keys, k)
		}
	}
	// Shorter keys first, so parents replace leaves deterministically
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		parts := strings.Split(k[len(prefix):], ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[p] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if _, isMap := node[leaf].(map[string]interface{}); !isMap {
			node[leaf] = props[k]
		}
	}
	return root
}
