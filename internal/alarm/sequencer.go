package alarm

import (
	"context"
	"sync"
)

// DefaultSeed is the first transaction id of a connection session, as
// observed in the vendor app's traffic.
const DefaultSeed uint8 = 0x12

// Sequencer owns the 8-bit transaction id counter of one connection and
// grants exclusive use of it to one alarm operation at a time.
type Sequencer struct {
	mu      sync.Mutex
	current uint8
	issued  bool

	sem chan struct{}
}

// NewSequencer returns a sequencer starting at seed.
func NewSequencer(seed uint8) *Sequencer {
	return &Sequencer{
		current: seed,
		sem:     make(chan struct{}, 1),
	}
}

// Next issues a transaction id. The first call of a session returns the
// seed; later calls increment first, wrapping at 256.
func (s *Sequencer) Next() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.issued {
		s.issued = true
		return s.current
	}
	s.current++
	return s.current
}

// Current returns the last issued id, or the seed if none was issued.
func (s *Sequencer) Current() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Acquire blocks until the caller owns the sequencer or ctx is done. The
// returned release func must be called exactly once.
func (s *Sequencer) Acquire(ctx context.Context) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-s.sem })
	}, nil
}
