package alarm

import (
	"context"
	"errors"
	"sync"
)

var errRadio = errors.New("mock: radio write failed")

type write struct {
	data   []byte
	target string
}

// mockTransport records writes and fails the write at index failAt (0-based)
// when failAt >= 0.
type mockTransport struct {
	mu     sync.Mutex
	writes []write
	failAt int
	hook   func(n int)
}

func newMockTransport() *mockTransport {
	return &mockTransport{failAt: -1}
}

func (t *mockTransport) Write(ctx context.Context, data []byte, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	n := len(t.writes)
	hook := t.hook
	if n == t.failAt {
		t.mu.Unlock()
		return errRadio
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.writes = append(t.writes, write{data: cp, target: target})
	t.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (t *mockTransport) packets() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	for i, w := range t.writes {
		out[i] = w.data
	}
	return out
}

func (t *mockTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writes)
}

type memStore struct {
	mu      sync.Mutex
	saved   map[int]Descriptor
	deleted []int
	err     error
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[int]Descriptor)}
}

func (s *memStore) SaveAlarm(d Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved[d.Slot] = d
	return nil
}

func (s *memStore) DeleteAlarm(slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.saved, slot)
	s.deleted = append(s.deleted, slot)
	return nil
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Delays = Delays{}
	return opts
}
