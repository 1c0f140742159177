package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Relay moves messages between the members of one room. Messages from a
// single publisher must be delivered in publish order.
type Relay interface {
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers fn for every message and returns its cancel func.
	Subscribe(fn func(Message)) (func(), error)
}

// MemoryRelay connects rooms living in one process. Delivery is synchronous
// and goes through JSON, like a real transport.
type MemoryRelay struct {
	mu   sync.Mutex
	subs map[int]func(Message)
	next int
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{subs: map[int]func(Message){}}
}

func (r *MemoryRelay) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	r.mu.Lock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Message), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		var copy Message
		if err := json.Unmarshal(data, &copy); err != nil {
			return fmt.Errorf("decode %s message: %w", msg.Type, err)
		}
		fn(copy)
	}
	return nil
}

func (r *MemoryRelay) Subscribe(fn func(Message)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}, nil
}
