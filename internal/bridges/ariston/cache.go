package ariston

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Attribute is one auxiliary key/value pair of an entry.
type Attribute struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Entry is the cached state of one parameter. Range and Options are never
// both set.
type Entry struct {
	Value      any         `json:"value"`
	Units      string      `json:"units,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
	Range      *Range      `json:"range,omitempty"`
	Options    []Option    `json:"options,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Attribute returns the value of a named attribute.
func (e Entry) Attribute(key string) (any, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// clone returns a deep copy safe to hand to callers.
func (e *Entry) clone() Entry {
	out := *e
	if e.Range != nil {
		r := *e.Range
		out.Range = &r
	}
	if e.Options != nil {
		out.Options = append([]Option(nil), e.Options...)
	}
	if e.Attributes != nil {
		out.Attributes = make([]Attribute, len(e.Attributes))
		for i, a := range e.Attributes {
			out.Attributes[i] = Attribute{Key: a.Key, Value: cloneValue(a.Value)}
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []float64:
		return append([]float64(nil), t...)
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Change reports a key whose value changed and its new entry.
type Change struct {
	Key   string `json:"key"`
	Entry Entry  `json:"entry"`
}

// PendingSet is an in-flight write holding the value to restore on failure.
type PendingSet struct {
	Key      string    `json:"key"`
	New      any       `json:"new"`
	Old      any       `json:"old"`
	Attempts int       `json:"attempts"`
	Started  time.Time `json:"started"`
	Deadline time.Time `json:"deadline"`

	existed bool
}

// Cache holds the last known entry per key.
//
// Each key maps to an immutable *Entry that writers replace as a whole under
// a short write lock, so readers never see a partially updated entry and no
// lock is held across network I/O.
//
// Writers are serialised by writeMu, which is held until subscribers have
// been notified, so changes are delivered in the order they were applied.
//
// Thread Safety: All methods are safe for concurrent use. Subscribers must
// not write to the cache.
type Cache struct {
	writeMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]*Entry
	pending map[string]*PendingSet

	// settled records, per key, the sequence number of the last finished
	// write. Reads taken before that number are older than the write.
	settleSeq uint64
	settled   map[string]uint64

	subsMu  sync.RWMutex
	subs    map[int]func([]Change)
	nextSub int

	now func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		pending: make(map[string]*PendingSet),
		settled: make(map[string]uint64),
		subs:    make(map[int]func([]Change)),
		now:     time.Now,
	}
}

// Get returns a copy of the entry for key.
func (c *Cache) Get(key string) (Entry, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return e.clone(), nil
}

// Snapshot returns a point-in-time copy of every entry.
func (c *Cache) Snapshot() map[string]Entry {
	c.mu.RLock()
	refs := make(map[string]*Entry, len(c.entries))
	for k, e := range c.entries {
		refs[k] = e
	}
	c.mu.RUnlock()

	// Entries are immutable, so copying outside the lock is safe.
	out := make(map[string]Entry, len(refs))
	for k, e := range refs {
		out[k] = e.clone()
	}
	return out
}

// Keys returns the cached keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Pending returns the in-flight writes.
func (c *Cache) Pending() []PendingSet {
	c.mu.RLock()
	out := make([]PendingSet, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, *p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Subscribe registers fn to receive changed entries after every write.
// fn runs on the writer's goroutine and must not block. The returned
// function removes the subscription.
func (c *Cache) Subscribe(fn func([]Change)) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// mark returns a write sequence number to pass to mergeSince. Take it before
// issuing the remote read whose result will be merged.
func (c *Cache) mark() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settleSeq
}

// merge replaces the given keys and leaves all others untouched. Keys with
// a pending write keep their optimistic value; the rest of the entry is
// taken from the update.
func (c *Cache) merge(updates map[string]*Entry) []Change {
	return c.mergeSince(updates, math.MaxUint64)
}

// mergeSince is merge for data read after mark was taken. Keys whose write
// finished after mark also keep their cached value, since the read may
// predate the device accepting it.
func (c *Cache) mergeSince(updates map[string]*Entry, mark uint64) []Change {
	if len(updates) == 0 {
		return nil
	}
	now := c.now()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var changes []Change
	c.mu.Lock()
	for k, upd := range updates {
		if upd == nil {
			continue
		}
		next := *upd
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = now
		}
		prev, existed := c.entries[k]
		if existed && c.heldLocked(k, mark) {
			next.Value = prev.Value
		}
		c.entries[k] = &next
		if !existed || !valuesEqual(prev.Value, next.Value) {
			changes = append(changes, Change{Key: k, Entry: next.clone()})
		}
	}
	c.mu.Unlock()

	c.notify(changes)
	return changes
}

// heldLocked reports whether key's cached value must survive a merge of data
// read at mark.
func (c *Cache) heldLocked(key string, mark uint64) bool {
	if _, pending := c.pending[key]; pending {
		return true
	}
	seq, ok := c.settled[key]
	return ok && mark != math.MaxUint64 && seq > mark
}

// applyOptimistic records a pending write for p.Key and sets its cached
// value to p.New. The caller must hold the key's set lock.
func (c *Cache) applyOptimistic(p PendingSet) {
	now := c.now()
	if p.Started.IsZero() {
		p.Started = now
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	prev, existed := c.entries[p.Key]
	var next Entry
	if existed {
		next = *prev
	}
	next.Value = p.New
	next.UpdatedAt = now
	c.entries[p.Key] = &next
	p.existed = existed
	c.pending[p.Key] = &p
	change := Change{Key: p.Key, Entry: next.clone()}
	c.mu.Unlock()

	c.notify([]Change{change})
}

// recordAttempt updates the attempt counter of a pending write.
func (c *Cache) recordAttempt(key string, attempts int) {
	c.mu.Lock()
	if p, ok := c.pending[key]; ok {
		p.Attempts = attempts
	}
	c.mu.Unlock()
}

// finishPending removes the pending write for key. With rollback set, the
// previous value is restored only if the cached value is still the
// optimistic one, so a newer value written meanwhile is kept. It reports
// whether a rollback was applied.
func (c *Cache) finishPending(key string, rollback bool) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, key)
	c.settleSeq++
	c.settled[key] = c.settleSeq

	if !rollback {
		c.mu.Unlock()
		return false
	}

	cur, exists := c.entries[key]
	if !exists || !valuesEqual(cur.Value, p.New) {
		c.mu.Unlock()
		return false
	}

	var change Change
	if !p.existed {
		delete(c.entries, key)
		change = Change{Key: key, Entry: Entry{UpdatedAt: c.now()}}
	} else {
		next := *cur
		next.Value = p.Old
		next.UpdatedAt = c.now()
		c.entries[key] = &next
		change = Change{Key: key, Entry: next.clone()}
	}
	c.mu.Unlock()

	c.notify([]Change{change})
	return true
}

// pendingCount returns the number of in-flight writes.
func (c *Cache) pendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

func (c *Cache) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	c.subsMu.RLock()
	fns := make([]func([]Change), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subsMu.RUnlock()

	for _, fn := range fns {
		fn(changes)
	}
}

// valuesEqual compares cache values. Cached values are always nil, bool,
// float64 or string.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	default:
		return false
	}
}
