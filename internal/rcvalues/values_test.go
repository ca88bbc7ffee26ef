package rcvalues

import (
	"reflect"
	"testing"
)

func TestValues_HasIDCollisions(t *testing.T) {
	a := New()
	a.SetEntity("e1", "hello")
	a.SetController("c1", "x")

	tests := []struct {
		name  string
		other func() Values
		want  bool
	}{
		{"disjoint", func() Values { v := New(); v.SetEntity("e2", "a"); return v }, false},
		{"entity overlap", func() Values { v := New(); v.SetEntity("e1", "b"); return v }, true},
		{"controller overlap", func() Values { v := New(); v.SetController("c1", "y"); return v }, true},
		{"empty", func() Values { return Values{} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.HasIDCollisions(tt.other()); got != tt.want {
				t.Fatalf("HasIDCollisions()=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestValues_HasSameEntityValuesComparesOnlyKeys(t *testing.T) {
	a := New()
	a.SetEntity("title", "Breaking")
	a.SetEntity("subtitle", "one")

	b := New()
	b.SetEntity("title", "Breaking")
	b.SetEntity("subtitle", "two")

	if !a.HasSameEntityValues(b, []string{"title"}) {
		t.Fatalf("expected equal on title only")
	}
	if a.HasSameEntityValues(b, []string{"title", "subtitle"}) {
		t.Fatalf("expected difference on subtitle")
	}
	if !a.HasSameEntityValues(b, []string{"missing"}) {
		t.Fatalf("missing from both should compare equal")
	}

	c := New()
	if a.HasSameEntityValues(c, []string{"title"}) {
		t.Fatalf("missing on one side should differ")
	}
}

func TestValues_MergeAndClone(t *testing.T) {
	a := New()
	a.SetEntity("e1", "a")
	b := New()
	b.SetEntity("e2", "b")
	b.SetController("c1", "c")

	a.Merge(b)
	if len(a.Entities) != 2 || len(a.Controllers) != 1 {
		t.Fatalf("merge result: %+v", a)
	}

	clone := a.Clone()
	clone.SetEntity("e1", "changed")
	if a.Entities["e1"].Value != "a" {
		t.Fatalf("clone shares storage with source")
	}

	var zero Values
	zero.Merge(b)
	if len(zero.Entities) != 1 {
		t.Fatalf("merge into zero value: %+v", zero)
	}
}

func TestValues_AssetReferences(t *testing.T) {
	v := New()
	v.SetEntityAsset("bg", "x", "textures/bg.png")
	v.SetEntityAsset("logo", "y", "textures/logo.png")
	v.SetEntityAsset("logo2", "z", "textures/logo.png")
	v.SetEntity("title", "plain")

	got := v.AssetReferences()
	want := []string{"textures/bg.png", "textures/logo.png"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AssetReferences()=%v, want %v", got, want)
	}
	if keys := v.EntityKeys(); len(keys) != 4 || keys[0] != "bg" {
		t.Fatalf("EntityKeys()=%v", keys)
	}
}
