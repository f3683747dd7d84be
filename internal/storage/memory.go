package storage

import (
	"context"
	"sync"
	"time"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

// Object is one stored entry in a MemoryStore.
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// Call records one operation issued against a MemoryStore.
type Call struct {
	Op  string
	Src domain.ObjectAddress
	Dst domain.ObjectAddress
}

// MemoryStore is an in-process ObjectStore. It records every call and can be
// told to fail or stall specific operations.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[domain.ObjectAddress]Object
	calls   []Call
	faults  map[string]error
	latency time.Duration
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[domain.ObjectAddress]Object),
		faults:  make(map[string]error),
	}
}

// Put seeds an object without recording a call.
func (m *MemoryStore) Put(addr domain.ObjectAddress, obj Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[addr] = cloneObject(obj)
}

// Get returns a copy of the stored object.
func (m *MemoryStore) Get(addr domain.ObjectAddress) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[addr]
	if !ok {
		return Object{}, false
	}
	return cloneObject(obj), true
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Calls returns the operations issued so far, in order.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Ops returns the names of the operations issued so far, in order.
func (m *MemoryStore) Ops() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// SetLatency makes every call block for d or until its context ends.
func (m *MemoryStore) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

func (m *MemoryStore) Fetch(ctx context.Context, addr domain.ObjectAddress) ([]byte, error) {
	if err := m.begin(ctx, Call{Op: OpFetch, Src: addr}); err != nil {
		return nil, classify(OpFetch, addr, "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[addr]
	if !ok {
		return nil, notFound(OpFetch, addr, ErrObjectNotFound)
	}
	return append([]byte(nil), obj.Data...), nil
}

func (m *MemoryStore) Store(ctx context.Context, addr domain.ObjectAddress, data []byte, contentType string) error {
	if err := m.begin(ctx, Call{Op: OpStore, Dst: addr}); err != nil {
		return classify(OpStore, addr, "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[addr] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

func (m *MemoryStore) Copy(ctx context.Context, src, dst domain.ObjectAddress) error {
	if err := m.begin(ctx, Call{Op: OpCopy, Src: src, Dst: dst}); err != nil {
		return classify(OpCopy, src, "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[src]
	if !ok {
		return notFound(OpCopy, src, ErrObjectNotFound)
	}
	m.objects[dst] = cloneObject(obj)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, addr domain.ObjectAddress) error {
	if err := m.begin(ctx, Call{Op: OpDelete, Src: addr}); err != nil {
		return classify(OpDelete, addr, "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[addr]; !ok {
		return notFound(OpDelete, addr, ErrObjectNotFound)
	}
	delete(m.objects, addr)
	return nil
}

// begin records the call, then applies latency and injected faults.
func (m *MemoryStore) begin(ctx context.Context, call Call) error {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	fault := m.faults[call.Op]
	latency := m.latency
	m.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fault
}

func cloneObject(obj Object) Object {
	out := Object{
		Data:        append([]byte(nil), obj.Data...),
		ContentType: obj.ContentType,
	}
	if obj.Metadata != nil {
		out.Metadata = make(map[string]string, len(obj.Metadata))
		for k, v := range obj.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

var _ ObjectStore = (*MemoryStore)(nil)
