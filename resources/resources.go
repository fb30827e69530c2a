// Package resources tracks a page's font resource dictionary,
// including entries inherited from an enclosing pages node. The merger
// and compositor consult it before emitting Tf and extend it when they
// inject pair fonts.
package resources

// Entry describes one font resource. Synthetic entries were created by
// the engine and must be backed by an embedded font file on write-out.
type Entry struct {
	FilePath  string
	Synthetic bool
}

// Dict is a font resource dictionary with single-parent inheritance,
// mirroring how page trees inherit /Resources.
type Dict struct {
	parent *Dict
	fonts  map[string]Entry
}

func NewDict(parent *Dict) *Dict {
	return &Dict{parent: parent, fonts: map[string]Entry{}}
}

// Register records a font resource backed by a file on disk.
func (d *Dict) Register(name, filePath string) {
	d.fonts[name] = Entry{FilePath: filePath}
}

// Has reports whether the name resolves locally or through a parent.
func (d *Dict) Has(name string) bool {
	_, ok := d.Resolve(name)
	return ok
}

// Ensure creates a minimal local entry when the name does not resolve,
// so every Tf emitted against this dictionary is valid.
func (d *Dict) Ensure(name string) {
	if d.Has(name) {
		return
	}
	d.fonts[name] = Entry{Synthetic: true}
}

// Resolve walks the inheritance chain, innermost scope first.
func (d *Dict) Resolve(name string) (Entry, bool) {
	for s := d; s != nil; s = s.parent {
		if e, ok := s.fonts[name]; ok {
			return e, true
		}
	}
	return Entry{}, false
}

// Fonts returns resource name to file path for every resolvable entry
// that is backed by a file, locals shadowing inherited names.
func (d *Dict) Fonts() map[string]string {
	out := map[string]string{}
	for s := d; s != nil; s = s.parent {
		for name, e := range s.fonts {
			if _, seen := out[name]; seen {
				continue
			}
			if e.FilePath != "" {
				out[name] = e.FilePath
			}
		}
	}
	return out
}

// Synthetic lists the names Ensure created, for callers that must
// supply real font objects before serialization.
func (d *Dict) Synthetic() []string {
	var out []string
	for name, e := range d.fonts {
		if e.Synthetic {
			out = append(out, name)
		}
	}
	return out
}
