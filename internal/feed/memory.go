package feed

import (
	"context"
	"sync"
)

// Memory is an in-process broker. Slow subscribers drop events rather than
// block publishers.
type Memory struct {
	mu   sync.Mutex
	subs map[*memorySub]struct{}
	buf  int
}

func NewMemory(buf int) *Memory {
	if buf <= 0 {
		buf = 64
	}
	return &Memory{subs: map[*memorySub]struct{}{}, buf: buf}
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.subs {
		if !s.mask.Match(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, mask Mask) (Subscription, error) {
	s := &memorySub{ch: make(chan Event, m.buf), mask: mask, m: m}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

type memorySub struct {
	ch   chan Event
	mask Mask
	m    *Memory
	once sync.Once
}

func (s *memorySub) Events() <-chan Event { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.m.mu.Lock()
		delete(s.m.subs, s)
		s.m.mu.Unlock()
		close(s.ch)
	})
	return nil
}
