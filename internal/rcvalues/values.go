/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rcvalues holds the remote-control parameter values bound to pages.
//
// A value set has two maps keyed by the remote-control property id: controller
// values (high level, user facing) and entity values (the exposed properties of
// the graphic). Both are merged when assembling combo templates.
package rcvalues

import "sort"

// Entry holds one remote-control value.
type Entry struct {
	Value     string `json:"value" yaml:"value"`
	IsDefault bool   `json:"is_default,omitempty" yaml:"is_default,omitempty"`
	// AssetPath is set when the value references another asset that must be
	// resident before the value can be applied.
	AssetPath string `json:"asset_path,omitempty" yaml:"asset_path,omitempty"`
}

// Values is a set of controller and entity values.
type Values struct {
	Controllers map[string]Entry `json:"controllers,omitempty" yaml:"controllers,omitempty"`
	Entities    map[string]Entry `json:"entities,omitempty" yaml:"entities,omitempty"`
}

// New returns an empty value set.
func New() Values {
	return Values{
		Controllers: make(map[string]Entry),
		Entities:    make(map[string]Entry),
	}
}

// IsEmpty reports whether the set holds no values.
func (v Values) IsEmpty() bool {
	return len(v.Controllers) == 0 && len(v.Entities) == 0
}

// Clone returns a deep copy.
func (v Values) Clone() Values {
	out := New()
	for k, e := range v.Controllers {
		out.Controllers[k] = e
	}
	for k, e := range v.Entities {
		out.Entities[k] = e
	}
	return out
}

// SetController sets a controller value.
func (v *Values) SetController(id, value string) {
	if v.Controllers == nil {
		v.Controllers = make(map[string]Entry)
	}
	v.Controllers[id] = Entry{Value: value}
}

// SetEntity sets an entity value.
func (v *Values) SetEntity(id, value string) {
	if v.Entities == nil {
		v.Entities = make(map[string]Entry)
	}
	v.Entities[id] = Entry{Value: value}
}

// SetEntityAsset sets an entity value that references an asset path.
func (v *Values) SetEntityAsset(id, value, assetPath string) {
	if v.Entities == nil {
		v.Entities = make(map[string]Entry)
	}
	v.Entities[id] = Entry{Value: value, AssetPath: assetPath}
}

// Merge copies every value of other into v. Values already present in v are
// overwritten.
func (v *Values) Merge(other Values) {
	if v.Controllers == nil {
		v.Controllers = make(map[string]Entry)
	}
	if v.Entities == nil {
		v.Entities = make(map[string]Entry)
	}
	for k, e := range other.Controllers {
		v.Controllers[k] = e
	}
	for k, e := range other.Entities {
		v.Entities[k] = e
	}
}

// HasIDCollisions reports whether any controller or entity id exists in both sets.
func (v Values) HasIDCollisions(other Values) bool {
	for k := range other.Controllers {
		if _, ok := v.Controllers[k]; ok {
			return true
		}
	}
	for k := range other.Entities {
		if _, ok := v.Entities[k]; ok {
			return true
		}
	}
	return false
}

// EntityKeys returns the entity ids in sorted order.
func (v Values) EntityKeys() []string {
	keys := make([]string, 0, len(v.Entities))
	for k := range v.Entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasSameEntityValues compares only the entity values keyed by keys. A key
// missing from both sets counts as equal.
func (v Values) HasSameEntityValues(other Values, keys []string) bool {
	for _, k := range keys {
		a, okA := v.Entities[k]
		b, okB := other.Entities[k]
		if okA != okB {
			return false
		}
		if okA && a.Value != b.Value {
			return false
		}
	}
	return true
}

// AssetReferences returns the distinct asset paths referenced by any value, sorted.
func (v Values) AssetReferences() []string {
	seen := make(map[string]struct{})
	for _, e := range v.Controllers {
		if e.AssetPath != "" {
			seen[e.AssetPath] = struct{}{}
		}
	}
	for _, e := range v.Entities {
		if e.AssetPath != "" {
			seen[e.AssetPath] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
