// converters_builtin.go: Converters for the standard value types
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for time.Time, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

var (
	trueWords  = map[string]bool{"true": true, "t": true, "yes": true, "y": true, "on": true, "1": true}
	falseWords = map[string]bool{"false": true, "f": true, "no": true, "n": true, "off": true, "0": true}
)

func registerBuiltinConverters(m *ConverterManager) {
	m.add(reflect.TypeFor[string](), ConverterFunc(func(value string, _ *ConversionContext) (any, error) {
		return value, nil
	}))
	m.add(reflect.TypeFor[bool](), ConverterFunc(convertBool))

	for _, t := range []reflect.Type{
		reflect.TypeFor[int](), reflect.TypeFor[int8](), reflect.TypeFor[int16](),
		reflect.TypeFor[int32](), reflect.TypeFor[int64](),
	} {
		m.add(t, intConverter(t))
	}
	for _, t := range []reflect.Type{
		reflect.TypeFor[uint](), reflect.TypeFor[uint8](), reflect.TypeFor[uint16](),
		reflect.TypeFor[uint32](), reflect.TypeFor[uint64](),
	} {
		m.add(t, uintConverter(t))
	}
	for _, t := range []reflect.Type{reflect.TypeFor[float32](), reflect.TypeFor[float64]()} {
		m.add(t, floatConverter(t))
	}

	m.add(reflect.TypeFor[time.Duration](), ConverterFunc(convertDuration))
	m.add(reflect.TypeFor[time.Time](), ConverterFunc(convertTime))
	m.add(reflect.TypeFor[*url.URL](), ConverterFunc(convertURL))
	m.add(reflect.TypeFor[[]string](), ConverterFunc(convertStringSlice))
}

// convertBool accepts the usual words for true and false and declines
// anything else.
func convertBool(value string, ctx *ConversionContext) (any, error) {
	ctx.AddSupportedFormats("bool", "true/false", "yes/no", "y/n", "on/off", "t/f", "1/0")
	s := strings.ToLower(strings.TrimSpace(value))
	switch {
	case trueWords[s]:
		return true, nil
	case falseWords[s]:
		return false, nil
	}
	return nil, nil
}

// intConverter parses decimal, 0x, 0o and 0b literals and the min and max
// keywords. Empty input is declined.
func intConverter(t reflect.Type) PropertyConverter {
	bits := t.Bits()
	return ConverterFunc(func(value string, ctx *ConversionContext) (any, error) {
		ctx.AddSupportedFormats(t.String(), "<decimal>", "0x<hex>", "0o<octal>", "0b<binary>", "min", "max")
		s := strings.TrimSpace(value)
		var n int64
		switch strings.ToLower(s) {
		case "":
			return nil, nil
		case "min", "min_value":
			n = math.MinInt64 >> (64 - bits)
		case "max", "max_value":
			n = math.MaxInt64 >> (64 - bits)
		default:
			var err error
			if n, err = strconv.ParseInt(s, 0, bits); err != nil {
				return nil, err
			}
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	})
}

func uintConverter(t reflect.Type) PropertyConverter {
	bits := t.Bits()
	return ConverterFunc(func(value string, ctx *ConversionContext) (any, error) {
		ctx.AddSupportedFormats(t.String(), "<decimal>", "0x<hex>", "0o<octal>", "0b<binary>", "min", "max")
		s := strings.TrimSpace(value)
		var n uint64
		switch strings.ToLower(s) {
		case "":
			return nil, nil
		case "min", "min_value":
			n = 0
		case "max", "max_value":
			n = math.MaxUint64 >> (64 - bits)
		default:
			var err error
			if n, err = strconv.ParseUint(s, 0, bits); err != nil {
				return nil, err
			}
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	})
}

func floatConverter(t reflect.Type) PropertyConverter {
	bits := t.Bits()
	return ConverterFunc(func(value string, ctx *ConversionContext) (any, error) {
		ctx.AddSupportedFormats(t.String(), "<decimal>", "<exponent>", "NaN", "Inf", "max")
		s := strings.TrimSpace(value)
		var f float64
		switch strings.ToLower(s) {
		case "":
			return nil, nil
		case "max", "max_value":
			f = math.MaxFloat64
			if bits == 32 {
				f = math.MaxFloat32
			}
		default:
			var err error
			if f, err = strconv.ParseFloat(s, bits); err != nil {
				return nil, err
			}
		}
		return reflect.ValueOf(f).Convert(t).Interface(), nil
	})
}

func convertDuration(value string, ctx *ConversionContext) (any, error) {
	ctx.AddSupportedFormats("duration", "<n>ns|us|ms|s|m|h")
	s := strings.TrimSpace(value)
	if s == "" {
		return nil, nil
	}
	return time.ParseDuration(s)
}

func convertTime(value string, ctx *ConversionContext) (any, error) {
	ctx.AddSupportedFormats("time", timeLayouts...)
	s := strings.TrimSpace(value)
	if s == "" {
		return nil, nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func convertURL(value string, ctx *ConversionContext) (any, error) {
	ctx.AddSupportedFormats("url", "<scheme>://<host>/<path>")
	s := strings.TrimSpace(value)
	if s == "" {
		return nil, nil
	}
	return url.Parse(s)
}

// convertStringSlice splits on commas and trims each element.
func convertStringSlice(value string, ctx *ConversionContext) (any, error) {
	ctx.AddSupportedFormats("list", "a,b,c")
	if strings.TrimSpace(value) == "" {
		return []string{}, nil
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts, nil
}
