package bus

import (
	"encoding/json"
	"sync"

	"github.com/meshworks/relay/pkg/types"
)

// ring is the bounded event history buffer
type ring struct {
	mu    sync.RWMutex
	buf   []*types.Event
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]*types.Event, capacity)}
}

func (r *ring) append(e *types.Event) {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// scan walks the buffer newest first applying filter, offset, and limit
func (r *ring) scan(f *types.EventFilter, limit, offset int) []*types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Event
	skipped := 0
	for i := 0; i < r.count; i++ {
		idx := (r.next - 1 - i + len(r.buf)*2) % len(r.buf)
		e := r.buf[idx]
		if f != nil {
			var dataJSON []byte
			if len(f.DataPaths) > 0 {
				dataJSON, _ = json.Marshal(e.Data)
			}
			if !matchFilter(f, e, dataJSON) {
				continue
			}
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (r *ring) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
