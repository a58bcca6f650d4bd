package epc

import "sync"

// Handler is a registered method's implementation. It receives the
// call's args Value (conventionally a List) and returns a result Value
// or an application error, which the engine surfaces to the caller as
// ReturnError.
type Handler func(args Value) (Value, error)

// MethodEntry describes one registered method.
type MethodEntry struct {
	Name     string
	Handler  Handler
	ArgSpec  string // empty means "no arg-spec metadata"
	Doc      string // empty means "no docstring metadata"
	HasSpec  bool
	HasDoc   bool
}

// MethodInfo is the metadata-only view of a MethodEntry returned by
// List and by the wire MethodsQuery response.
type MethodInfo struct {
	Name    string
	ArgSpec string
	HasSpec bool
	Doc     string
	HasDoc  bool
}

// Registry is a concurrent name -> MethodEntry map. Registration and
// lookup may happen concurrently with a running connection engine;
// correctness is maintained by a simple reader/writer mutex, matching
// the specification's "readers are cheap, writers are rare" policy.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]MethodEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]MethodEntry)}
}

// Register adds or replaces the entry for name. A duplicate
// registration silently replaces the previous one, leaving exactly one
// entry under that name.
func (r *Registry) Register(name string, handler Handler, argSpec, doc string) {
	r.RegisterOptional(name, handler, argSpec, argSpec != "", doc, doc != "")
}

// RegisterOptional is like Register but lets the caller distinguish
// "empty string" from "no metadata at all", so that introspection can
// report nil rather than an empty string for missing arg-spec/doc.
func (r *Registry) RegisterOptional(name string, handler Handler, argSpec string, hasSpec bool, doc string, hasDoc bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = MethodEntry{
		Name: name, Handler: handler,
		ArgSpec: argSpec, HasSpec: hasSpec,
		Doc: doc, HasDoc: hasDoc,
	}
}

// Unregister removes name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Lookup returns the entry for name and whether it exists.
func (r *Registry) Lookup(name string) (MethodEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns a metadata-only snapshot of every registered method.
// Order is unspecified: a concurrent MethodsQuery and Register race
// benignly, per the specification, and the caller must not assume
// ordering stability across calls.
func (r *Registry) List() []MethodInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MethodInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, MethodInfo{
			Name: e.Name, ArgSpec: e.ArgSpec, HasSpec: e.HasSpec,
			Doc: e.Doc, HasDoc: e.HasDoc,
		})
	}
	return out
}

// methodsQueryResult renders the registry snapshot as the wire-level
// list of (name arg-spec-or-nil docstring-or-nil) triples.
func methodsQueryResult(infos []MethodInfo) Value {
	items := make([]Value, 0, len(infos))
	for _, mi := range infos {
		spec := Nil
		if mi.HasSpec {
			spec = String(mi.ArgSpec)
		}
		doc := Nil
		if mi.HasDoc {
			doc = String(mi.Doc)
		}
		items = append(items, List(Symbol(mi.Name), spec, doc))
	}
	return List(items...)
}

// ParseMethodsResult decodes the Value returned by Engine.QueryMethods
// back into []MethodInfo, the inverse of methodsQueryResult. Elements
// that don't match the (name arg-spec doc) triple shape are skipped.
func ParseMethodsResult(v Value) []MethodInfo {
	if v.Kind() != KindList {
		return nil
	}
	out := make([]MethodInfo, 0, v.Len())
	for _, item := range v.Items() {
		if item.Kind() != KindList || item.Len() != 3 {
			continue
		}
		name := item.At(0)
		if name.Kind() != KindSymbol {
			continue
		}
		mi := MethodInfo{Name: name.Text()}
		if spec := item.At(1); spec.Kind() == KindString {
			mi.ArgSpec, mi.HasSpec = spec.Text(), true
		}
		if doc := item.At(2); doc.Kind() == KindString {
			mi.Doc, mi.HasDoc = doc.Text(), true
		}
		out = append(out, mi)
	}
	return out
}
