package miniapp

import "sync"

// SlotRegistry tracks the desktop grid hosts and the per-app slots that
// miniapp windows are mounted into. Refs are compared by equality, so a stale
// owner cannot unregister a slot that has since been taken over.
type SlotRegistry[T comparable] struct {
	mu    sync.RWMutex
	grids map[string]T
	apps  map[string]T
}

// NewSlotRegistry returns an empty registry.
func NewSlotRegistry[T comparable]() *SlotRegistry[T] {
	return &SlotRegistry[T]{
		grids: make(map[string]T),
		apps:  make(map[string]T),
	}
}

func (r *SlotRegistry[T]) RegisterDesktopGridHost(desktop string, ref T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grids[desktop] = ref
}

// UnregisterDesktopGridHost removes the grid host only if ref still owns it.
func (r *SlotRegistry[T]) UnregisterDesktopGridHost(desktop string, ref T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unregister(r.grids, desktop, ref)
}

func (r *SlotRegistry[T]) DesktopGridHost(desktop string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.grids[desktop]
	return ref, ok
}

func (r *SlotRegistry[T]) RegisterDesktopAppSlot(appID string, ref T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[appID] = ref
}

// UnregisterDesktopAppSlot removes the app slot only if ref still owns it.
func (r *SlotRegistry[T]) UnregisterDesktopAppSlot(appID string, ref T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unregister(r.apps, appID, ref)
}

func (r *SlotRegistry[T]) DesktopAppSlot(appID string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.apps[appID]
	return ref, ok
}

// AppIDs lists the occupied app slots.
func (r *SlotRegistry[T]) AppIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.apps))
	for id := range r.apps {
		ids = append(ids, id)
	}
	return ids
}

func unregister[T comparable](m map[string]T, key string, ref T) bool {
	cur, ok := m[key]
	if !ok || cur != ref {
		return false
	}
	delete(m, key)
	return true
}
