// converter.go: Property converter contracts
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"reflect"
	"strings"
)

// ConversionContext carries the lookup a converter runs in. Converters add
// the formats they accept so failures can list them.
type ConversionContext struct {
	Key        string
	TargetType reflect.Type

	formats []string
}

// AddSupportedFormats records formats accepted by a converter.
func (c *ConversionContext) AddSupportedFormats(converter string, formats ...string) {
	for _, f := range formats {
		c.formats = append(c.formats, f+" ("+converter+")")
	}
}

// SupportedFormats returns the formats recorded so far.
func (c *ConversionContext) SupportedFormats() []string {
	return append([]string(nil), c.formats...)
}

func (c *ConversionContext) formatList() string {
	if len(c.formats) == 0 {
		return "none"
	}
	return strings.Join(c.formats, ", ")
}

// PropertyConverter turns a raw string into a typed value. Returning
// (nil, nil) declines the value so the next converter is tried. Returning an
// error stops the conversion.
type PropertyConverter interface {
	Convert(value string, ctx *ConversionContext) (any, error)
}

// ConverterFunc adapts a function to PropertyConverter.
type ConverterFunc func(value string, ctx *ConversionContext) (any, error)

// Convert implements PropertyConverter.
func (f ConverterFunc) Convert(value string, ctx *ConversionContext) (any, error) {
	return f(value, ctx)
}

// TypedConverter is a converter that knows its target type. Services
// providing this capability are loaded by ConverterManager.LoadFrom.
type TypedConverter interface {
	PropertyConverter
	TargetType() reflect.Type
}

// ConversionPath tells how a converter was found for a target type.
type ConversionPath int

const (
	PathExplicit ConversionPath = iota
	PathBoxed
	PathSupertype
	PathInterface
	PathFactory
)

// String returns the name of the path.
func (p ConversionPath) String() string {
	switch p {
	case PathExplicit:
		return "explicit"
	case PathBoxed:
		return "boxed"
	case PathSupertype:
		return "supertype"
	case PathInterface:
		return "interface"
	case PathFactory:
		return "factory"
	default:
		return "unknown"
	}
}

// ConverterRegistration is one resolved converter. Registered is the type
// the converter was registered for, which differs from the queried type for
// every path except explicit.
type ConverterRegistration struct {
	Target     reflect.Type
	Registered reflect.Type
	Converter  PropertyConverter
	Path       ConversionPath
}

// typedFunc wraps a strongly typed parse function.
type typedFunc[T any] struct {
	parse func(string) (T, error)
}

func (f typedFunc[T]) Convert(value string, _ *ConversionContext) (any, error) {
	v, err := f.parse(value)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (f typedFunc[T]) TargetType() reflect.Type { return reflect.TypeFor[T]() }

// NewTypedConverter builds a TypedConverter for T from a parse function.
func NewTypedConverter[T any](parse func(string) (T, error)) TypedConverter {
	return typedFunc[T]{parse: parse}
}
