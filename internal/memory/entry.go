package memory

// DefaultCapacity is the number of keys remembered per topic.
const DefaultCapacity = 5

// Entry is a bounded, recency-ordered list of dedup keys for one topic.
// Keys are stored oldest first, so the most recent key is always last.
type Entry struct {
	Capacity int      `json:"capacity"`
	Keys     []string `json:"keys"`
}

// NewEntry returns an empty entry holding at most capacity keys.
func NewEntry(capacity int) Entry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return Entry{Capacity: capacity}
}

// Push records key as the most recent one. A key already present moves to the
// end instead of being duplicated; the oldest keys are evicted past capacity.
func (e *Entry) Push(key string) {
	if key == "" {
		return
	}
	if e.Capacity <= 0 {
		e.Capacity = DefaultCapacity
	}
	for i, k := range e.Keys {
		if k == key {
			e.Keys = append(e.Keys[:i], e.Keys[i+1:]...)
			break
		}
	}
	e.Keys = append(e.Keys, key)
	if over := len(e.Keys) - e.Capacity; over > 0 {
		e.Keys = append([]string(nil), e.Keys[over:]...)
	}
}

// Len returns the number of remembered keys.
func (e Entry) Len() int { return len(e.Keys) }

// Recent returns the keys most recent first.
func (e Entry) Recent() []string {
	out := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		out[len(e.Keys)-1-i] = k
	}
	return out
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	return Entry{Capacity: e.Capacity, Keys: append([]string(nil), e.Keys...)}
}

// trim enforces capacity on an entry loaded from a store.
func (e *Entry) trim(capacity int) {
	if capacity > 0 {
		e.Capacity = capacity
	}
	if e.Capacity <= 0 {
		e.Capacity = DefaultCapacity
	}
	if over := len(e.Keys) - e.Capacity; over > 0 {
		e.Keys = append([]string(nil), e.Keys[over:]...)
	}
}
