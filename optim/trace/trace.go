package trace

import "sync"

// Recorder keeps the most recent cycle records up to a fixed capacity.
// Older records are dropped. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	records  []CycleRecord
	next     int // ring position of the next write once full
	total    int
}

// NewRecorder creates a Recorder holding up to capacity records.
// A capacity <= 0 disables recording.
func NewRecorder(capacity int) *Recorder {
	if capacity < 0 {
		capacity = 0
	}
	return &Recorder{capacity: capacity, records: make([]CycleRecord, 0, capacity)}
}

// Record stores a cycle record, evicting the oldest when full.
func (r *Recorder) Record(rec CycleRecord) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if r.capacity == 0 {
		return
	}
	if len(r.records) < r.capacity {
		r.records = append(r.records, rec)
		return
	}
	r.records[r.next] = rec
	r.next = (r.next + 1) % r.capacity
}

// Records returns the retained records, oldest first.
func (r *Recorder) Records() []CycleRecord {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CycleRecord, 0, len(r.records))
	out = append(out, r.records[r.next:]...)
	out = append(out, r.records[:r.next]...)
	return out
}

// Total returns how many records were ever recorded, retained or not.
func (r *Recorder) Total() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
