package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrObjectLoad matches every [LoadError].
var ErrObjectLoad = errors.New("object load failed")

// LoadError reports that the host loader could not produce an object.
type LoadError struct {
	Handle Handle
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Handle, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrObjectLoad) succeed for any LoadError.
func (e *LoadError) Is(target error) bool { return target == ErrObjectLoad }

// Loader loads the object behind a handle. It is supplied by the hosting
// application and is the only place the store performs I/O.
type Loader func(ctx context.Context, h Handle) (Object, error)

// Store caches loaded objects keyed by [Handle].
//
// The engine walks its plan sequentially, so the store only ever has one
// writer at a time. The mutex exists so progress observers and loaders that
// call back into the store (see [Store.Peek]) stay safe.
type Store struct {
	loader Loader

	mu    sync.Mutex
	cache map[Handle]Object
	loads int
}

// New creates an empty [Store] backed by loader.
func New(loader Loader) *Store {
	return &Store{
		loader: loader,
		cache:  make(map[Handle]Object),
	}
}

// Get returns the object for h, loading it on first access.
//
// Loader failures are returned as a *[LoadError]. The lock is not held while
// the loader runs so loaders may resolve linked objects through the same store.
func (s *Store) Get(ctx context.Context, h Handle) (Object, error) {
	if h.Type == TypeNone || !h.Type.IsValid() {
		return nil, &LoadError{Handle: h, Err: fmt.Errorf("type %q has no loadable objects", h.Type)}
	}

	s.mu.Lock()
	if obj, ok := s.cache[h]; ok {
		s.mu.Unlock()
		return obj, nil
	}
	s.mu.Unlock()

	if s.loader == nil {
		return nil, &LoadError{Handle: h, Err: errors.New("no loader configured")}
	}
	obj, err := s.loader(ctx, h)
	if err != nil {
		return nil, &LoadError{Handle: h, Err: err}
	}
	if obj == nil {
		return nil, &LoadError{Handle: h, Err: errors.New("loader returned no object")}
	}

	s.mu.Lock()
	s.cache[h] = obj
	s.loads++
	s.mu.Unlock()
	return obj, nil
}

// Peek returns a cached object without loading.
func (s *Store) Peek(h Handle) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.cache[h]
	return obj, ok
}

// Invalidate drops the cached entry for h.
func (s *Store) Invalidate(h Handle) {
	s.mu.Lock()
	delete(s.cache, h)
	s.mu.Unlock()
}

// Purge drops every cached entry.
func (s *Store) Purge() {
	s.mu.Lock()
	s.cache = make(map[Handle]Object)
	s.mu.Unlock()
}

// Loads returns how many times the loader produced an object.
func (s *Store) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// Len returns the number of cached objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
