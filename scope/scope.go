// Package scope provides a mutable, request-scoped field store carried
// through context.Context.
//
// A Scope is attached to the context by pointer, so every goroutine and
// callback derived from a request's context shares the same store: a field
// written deep inside a call chain is visible to everything else still
// executing within that request, while concurrent requests each hold their
// own Scope and never observe one another's writes.
package scope

import (
	"context"
	"maps"
	"sync"
)

type ctxKey struct{}

// Scope is an isolated mutable field map tied to one request's call chain.
// The zero value is not usable; create one via Begin or Run.
type Scope struct {
	mu     sync.RWMutex
	fields map[string]any
}

// Begin returns a context carrying a new Scope seeded with initial.
// The initial map is copied; the caller may reuse it afterwards.
func Begin(ctx context.Context, initial map[string]any) context.Context {
	s := &Scope{fields: make(map[string]any, len(initial))}
	maps.Copy(s.fields, initial)

	return context.WithValue(ctx, ctxKey{}, s)
}

// Run establishes a new Scope seeded with initial and executes fn inside it.
// fn's error is returned unchanged. The Scope remains shared with any work
// fn spawned that outlives the call.
func Run(ctx context.Context, initial map[string]any, fn func(ctx context.Context) error) error {
	return fn(Begin(ctx, initial))
}

// FromContext extracts the Scope, returns nil if not present.
func FromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}

	if s, ok := ctx.Value(ctxKey{}).(*Scope); ok {
		return s
	}

	return nil
}

// Get returns a snapshot of the current scope's fields. The returned map is
// a copy; later writes to the scope do not show up in it. Outside any scope
// it returns an empty, non-nil map.
func Get(ctx context.Context) map[string]any {
	s := FromContext(ctx)
	if s == nil {
		return map[string]any{}
	}

	return s.Snapshot()
}

// Merge shallow-merges partial into the current scope; keys in partial
// overwrite existing keys. Outside any scope it is a no-op, so shared
// library code may call it unconditionally.
func Merge(ctx context.Context, partial map[string]any) {
	s := FromContext(ctx)
	if s == nil {
		return
	}

	s.Merge(partial)
}

// Value returns a single field from the current scope.
func Value(ctx context.Context, key string) (any, bool) {
	s := FromContext(ctx)
	if s == nil {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.fields[key]

	return v, ok
}

// Snapshot returns a copy of the scope's fields.
func (s *Scope) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.fields))
	maps.Copy(out, s.fields)

	return out
}

// Merge shallow-merges partial into the scope, last write wins.
func (s *Scope) Merge(partial map[string]any) {
	if len(partial) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	maps.Copy(s.fields, partial)
}

// Set writes a single field.
func (s *Scope) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fields[key] = value
}
