// combination.go: Policies merging the candidates of all sources for one key
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
)

// Candidate is one source's contribution to a key.
type Candidate struct {
	Value   *PropertyValue
	Source  string
	Ordinal int
}

// CombinationPolicy merges the candidates for key, given from the lowest to
// the highest ordinal source, into one value. A nil result means absent.
type CombinationPolicy func(key string, candidates []Candidate) (*PropertyValue, error)

// DefaultPolicy lets the highest ordinal non-nil value win. Two sources of
// equal ordinal disagreeing on a key is a conflict, unless a higher ordinal
// source settles the key afterwards.
func DefaultPolicy(key string, candidates []Candidate) (*PropertyValue, error) {
	var (
		winner   *Candidate
		conflict *Candidate
	)
	for i := range candidates {
		c := &candidates[i]
		if c.Value == nil {
			continue
		}
		switch {
		case winner == nil || c.Ordinal > winner.Ordinal:
			winner, conflict = c, nil
		case c.Ordinal == winner.Ordinal && c.Value.Value() != winner.Value.Value():
			conflict = c
		}
	}
	if winner == nil {
		return nil, nil
	}
	if conflict != nil {
		return nil, errors.New(ErrCodeConflictingValue,
			fmt.Sprintf("sources %q and %q have ordinal %d and disagree on %q",
				winner.Source, conflict.Source, winner.Ordinal, key)).
			WithContext("key", key).
			WithContext("ordinal", strconv.Itoa(winner.Ordinal))
	}
	return winner.Value, nil
}

// LastWinsPolicy lets the last non-nil candidate win. Equal ordinal sources
// are visited in reverse name order, so the lexicographically first name wins.
func LastWinsPolicy(key string, candidates []Candidate) (*PropertyValue, error) {
	var winner *PropertyValue
	for _, c := range candidates {
		if c.Value != nil {
			winner = c.Value
		}
	}
	return winner, nil
}

// JoinPolicy concatenates the distinct values of all candidates, highest
// ordinal first, separated by sep.
func JoinPolicy(sep string) CombinationPolicy {
	return func(key string, candidates []Candidate) (*PropertyValue, error) {
		var (
			parts   []string
			sources []string
			seen    = make(map[string]bool)
		)
		for i := len(candidates) - 1; i >= 0; i-- {
			c := candidates[i]
			if c.Value == nil || seen[c.Value.Value()] {
				continue
			}
			seen[c.Value.Value()] = true
			parts = append(parts, c.Value.Value())
			sources = append(sources, c.Source)
		}
		if len(parts) == 0 {
			return nil, nil
		}
		return NewPropertyValueBuilder(key, strings.Join(parts, sep)).
			SetSource(strings.Join(sources, sep)).
			Build(), nil
	}
}
