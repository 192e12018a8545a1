package pipeline

import "encoding/json"

// Pipeline is an ordered, key-indexed container. Every key in the order slice
// is present exactly once in the map and vice versa, so FIFO/LIFO access by
// insertion and O(1) lookup by key coexist.
type Pipeline[K comparable, V any] struct {
	items map[K]V
	order []K
}

// New returns an empty pipeline.
func New[K comparable, V any]() *Pipeline[K, V] {
	return &Pipeline[K, V]{items: map[K]V{}}
}

// Len reports how many entries the pipeline holds.
func (p *Pipeline[K, V]) Len() int {
	if p == nil {
		return 0
	}
	return len(p.order)
}

// Has reports whether key is present.
func (p *Pipeline[K, V]) Has(key K) bool {
	if p == nil {
		return false
	}
	_, ok := p.items[key]
	return ok
}

// Get returns the value stored under key.
func (p *Pipeline[K, V]) Get(key K) (V, bool) {
	var zero V
	if p == nil {
		return zero, false
	}
	v, ok := p.items[key]
	return v, ok
}

// PushFront inserts value at the head. An existing entry with the same key is
// replaced and moved.
func (p *Pipeline[K, V]) PushFront(key K, value V) {
	p.ensure()
	if _, ok := p.items[key]; ok {
		p.order = removeKey(p.order, key)
	}
	p.items[key] = value
	p.order = append([]K{key}, p.order...)
}

// PushBack appends value at the tail. An existing entry with the same key is
// replaced and moved.
func (p *Pipeline[K, V]) PushBack(key K, value V) {
	p.ensure()
	if _, ok := p.items[key]; ok {
		p.order = removeKey(p.order, key)
	}
	p.items[key] = value
	p.order = append(p.order, key)
}

// PopFront removes and returns the head entry.
func (p *Pipeline[K, V]) PopFront() (K, V, bool) {
	var (
		zeroK K
		zeroV V
	)
	if p.Len() == 0 {
		return zeroK, zeroV, false
	}
	key := p.order[0]
	p.order = p.order[1:]
	value := p.items[key]
	delete(p.items, key)
	return key, value, true
}

// PopBack removes and returns the tail entry.
func (p *Pipeline[K, V]) PopBack() (K, V, bool) {
	var (
		zeroK K
		zeroV V
	)
	if p.Len() == 0 {
		return zeroK, zeroV, false
	}
	last := len(p.order) - 1
	key := p.order[last]
	p.order = p.order[:last]
	value := p.items[key]
	delete(p.items, key)
	return key, value, true
}

// Front returns the head entry without removing it.
func (p *Pipeline[K, V]) Front() (K, V, bool) {
	var (
		zeroK K
		zeroV V
	)
	if p.Len() == 0 {
		return zeroK, zeroV, false
	}
	key := p.order[0]
	return key, p.items[key], true
}

// Back returns the tail entry without removing it.
func (p *Pipeline[K, V]) Back() (K, V, bool) {
	var (
		zeroK K
		zeroV V
	)
	if p.Len() == 0 {
		return zeroK, zeroV, false
	}
	key := p.order[len(p.order)-1]
	return key, p.items[key], true
}

// Remove deletes key from both the map and the order, keeping the relative
// order of the remaining entries.
func (p *Pipeline[K, V]) Remove(key K) (V, bool) {
	var zero V
	if p == nil {
		return zero, false
	}
	value, ok := p.items[key]
	if !ok {
		return zero, false
	}
	delete(p.items, key)
	p.order = removeKey(p.order, key)
	return value, true
}

// Entry is a key/value pair yielded by Drain and Entries.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Drain empties the pipeline and returns its entries in insertion order.
func (p *Pipeline[K, V]) Drain() []Entry[K, V] {
	entries := p.Entries()
	if p != nil {
		p.items = map[K]V{}
		p.order = nil
	}
	return entries
}

// Entries returns the entries in order without mutating the pipeline.
func (p *Pipeline[K, V]) Entries() []Entry[K, V] {
	if p.Len() == 0 {
		return nil
	}
	out := make([]Entry[K, V], 0, len(p.order))
	for _, key := range p.order {
		out = append(out, Entry[K, V]{Key: key, Value: p.items[key]})
	}
	return out
}

// Keys returns a copy of the key order.
func (p *Pipeline[K, V]) Keys() []K {
	if p.Len() == 0 {
		return nil
	}
	out := make([]K, len(p.order))
	copy(out, p.order)
	return out
}

// Values returns the values in order.
func (p *Pipeline[K, V]) Values() []V {
	if p.Len() == 0 {
		return nil
	}
	out := make([]V, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.items[key])
	}
	return out
}

// Clone returns a shallow copy; values are copied by assignment.
func (p *Pipeline[K, V]) Clone() *Pipeline[K, V] {
	out := New[K, V]()
	if p == nil {
		return out
	}
	for _, key := range p.order {
		out.items[key] = p.items[key]
	}
	out.order = p.Keys()
	return out
}

type encoded[K comparable, V any] struct {
	Jobs  map[K]V `json:"jobs"`
	Order []K     `json:"order"`
}

// MarshalJSON encodes the pipeline as {"jobs": {...}, "order": [...]}.
func (p *Pipeline[K, V]) MarshalJSON() ([]byte, error) {
	enc := encoded[K, V]{Jobs: map[K]V{}, Order: []K{}}
	if p != nil {
		for _, key := range p.order {
			enc.Jobs[key] = p.items[key]
		}
		enc.Order = append(enc.Order, p.order...)
	}
	return json.Marshal(enc)
}

// UnmarshalJSON restores a pipeline, dropping order entries that have no value
// and appending values missing from the order so the bijection holds.
func (p *Pipeline[K, V]) UnmarshalJSON(data []byte) error {
	var enc encoded[K, V]
	if err := json.Unmarshal(data, &enc); err != nil {
		return err
	}
	p.items = map[K]V{}
	p.order = nil
	for _, key := range enc.Order {
		value, ok := enc.Jobs[key]
		if !ok || p.Has(key) {
			continue
		}
		p.items[key] = value
		p.order = append(p.order, key)
	}
	for key, value := range enc.Jobs {
		if p.Has(key) {
			continue
		}
		p.items[key] = value
		p.order = append(p.order, key)
	}
	return nil
}

func (p *Pipeline[K, V]) ensure() {
	if p.items == nil {
		p.items = map[K]V{}
	}
}

func removeKey[K comparable](order []K, key K) []K {
	for i, candidate := range order {
		if candidate == key {
			return append(order[:i:i], order[i+1:]...)
		}
	}
	return order
}
