package resources

import (
	"sort"
	"testing"
)

func TestDict_InheritanceAndShadowing(t *testing.T) {
	parent := NewDict(nil)
	parent.Register("F1", "/fonts/base.ttf")
	parent.Register("F2", "/fonts/shared.ttf")

	page := NewDict(parent)
	page.Register("F2", "/fonts/local.ttf")

	if !page.Has("F1") {
		t.Error("inherited resource not resolved")
	}
	e, ok := page.Resolve("F2")
	if !ok || e.FilePath != "/fonts/local.ttf" {
		t.Errorf("local entry should shadow parent, got %+v", e)
	}
	fonts := page.Fonts()
	if fonts["F1"] != "/fonts/base.ttf" || fonts["F2"] != "/fonts/local.ttf" {
		t.Errorf("Fonts() = %v", fonts)
	}
}

func TestDict_EnsureCreatesMinimalEntry(t *testing.T) {
	d := NewDict(nil)
	d.Register("F1", "/fonts/base.ttf")

	d.Ensure("F1")
	if len(d.Synthetic()) != 0 {
		t.Error("Ensure on an existing name created a synthetic entry")
	}

	d.Ensure("Fpair")
	if !d.Has("Fpair") {
		t.Error("ensured name does not resolve")
	}
	syn := d.Synthetic()
	sort.Strings(syn)
	if len(syn) != 1 || syn[0] != "Fpair" {
		t.Errorf("Synthetic() = %v, want [Fpair]", syn)
	}
	if _, ok := d.Fonts()["Fpair"]; ok {
		t.Error("synthetic entry without a file must not appear in Fonts()")
	}
}

func TestDict_EnsureSeesParent(t *testing.T) {
	parent := NewDict(nil)
	parent.Register("F1", "/fonts/base.ttf")
	page := NewDict(parent)

	page.Ensure("F1")
	if len(page.Synthetic()) != 0 {
		t.Error("Ensure duplicated an inherited resource")
	}
}
