package s3util

import (
	"context"
	"sync"

	"github.com/fpang/s3-adder/internal/jobutil"
)

// MemoryGateway is an in-memory Gateway for tests and local dry runs.
// It is safe for concurrent use.
type MemoryGateway struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string][]error
	fetches  int
	stores   int
}

var _ Gateway = (*MemoryGateway)(nil)

// NewMemoryGateway returns an empty gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		objects:  make(map[string][]byte),
		failures: make(map[string][]error),
	}
}

// Put seeds an object without counting as a Store.
func (m *MemoryGateway) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Object returns a copy of the object at key.
func (m *MemoryGateway) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// FailNext queues errors returned, in order, by the next operations on key.
func (m *MemoryGateway) FailNext(key string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = append(m.failures[key], errs...)
}

// Calls returns the number of Fetch and Store calls made.
func (m *MemoryGateway) Calls() (fetches, stores int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches, m.stores
}

func (m *MemoryGateway) popFailure(key string) error {
	queue := m.failures[key]
	if len(queue) == 0 {
		return nil
	}
	m.failures[key] = queue[1:]
	return queue[0]
}

// Fetch implements Gateway.
func (m *MemoryGateway) Fetch(_ context.Context, key string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if err := m.popFailure(key); err != nil {
		return Object{}, err
	}
	data, ok := m.objects[key]
	if !ok {
		return Object{}, &jobutil.Error{Kind: jobutil.KindNotFound, Op: "fetch", Key: key, Attempts: 1}
	}
	return Object{Data: append([]byte(nil), data...), Attempts: 1}, nil
}

// Store implements Gateway.
func (m *MemoryGateway) Store(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores++
	if err := m.popFailure(key); err != nil {
		return err
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}
