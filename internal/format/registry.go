package format

// Registry holds the closed set of named formats available for detection
// or explicit selection, in registration order. Registration order is
// part of the Detector's tie-break rule (spec.md §4.1), so Registry
// preserves insertion order rather than using a plain map.
type Registry struct {
	order []string
	byName map[string]Format
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Format)}
}

// Register adds f under its own Name(). Registering the same name twice
// replaces the earlier entry but keeps its original position, matching
// the teacher's idempotent map-based registration in logparser.go.
func (r *Registry) Register(f Format) {
	name := f.Name()
	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = f
}

// Get returns the format registered under name, if any.
func (r *Registry) Get(name string) (Format, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// All returns every registered format in registration order.
func (r *Registry) All() []Format {
	out := make([]Format, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// NewDefaultRegistry returns a Registry pre-populated with every built-in
// format, in the order the original Python's FORMATS dict declares them,
// supplemented with the teacher's Apache CLF and ALB/NLB/CLB regex
// formats appended after them (see SPEC_FULL.md §4.1).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewCommon())
	r.Register(NewCommonVhost())
	r.Register(NewNCSAExtended())
	r.Register(NewCommonComplete())
	r.Register(NewW3CExtended())
	r.Register(NewIIS())
	r.Register(NewIncapsulaW3C())
	r.Register(NewShoutcast())
	r.Register(NewAmazonCloudFront())
	r.Register(NewS3())
	r.Register(NewELB())
	r.Register(NewOVH())
	r.Register(NewHAProxy())
	r.Register(NewGandi())
	r.Register(NewApacheCLF())
	r.Register(NewALB())
	r.Register(NewNLB())
	r.Register(NewCLB())
	return r
}
