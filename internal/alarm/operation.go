package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SeamusWaldron/wakering/internal/protocol"
)

// Transport delivers one whole packet to a characteristic of the ring.
type Transport interface {
	Write(ctx context.Context, data []byte, target string) error
}

// Phase is a state of an alarm transaction.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseConfigure
	PhaseFinalize
	PhaseClose
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseConfigure:
		return "configure"
	case PhaseFinalize:
		return "finalize"
	case PhaseClose:
		return "close"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether p is Done or Failed.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Kind is the intent of an alarm transaction.
type Kind int

const (
	Create Kind = iota
	Modify
	Delete
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Delays are the minimum quiet periods after each phase before the next
// one starts.
type Delays struct {
	Init      time.Duration
	Configure time.Duration
	Finalize  time.Duration
	Close     time.Duration
}

// DefaultDelays returns the pacing the ring was observed to need.
func DefaultDelays() Delays {
	return Delays{
		Init:      1 * time.Second,
		Configure: 2 * time.Second,
		Finalize:  1 * time.Second,
		Close:     2 * time.Second,
	}
}

func (d Delays) after(p Phase) time.Duration {
	switch p {
	case PhaseInit:
		return d.Init
	case PhaseConfigure:
		return d.Configure
	case PhaseFinalize:
		return d.Finalize
	case PhaseClose:
		return d.Close
	}
	return 0
}

// Result is the terminal outcome of an operation.
type Result struct {
	Kind       Kind
	Descriptor Descriptor
	Phase      Phase // Done, or Failed
	FailedAt   Phase // phase that failed; meaningful when Phase is Failed
	Err        error
}

// Operation is one alarm transaction: Init, Configure, Finalize, Close.
// Any write failure moves it to Failed with the phase recorded.
type Operation struct {
	kind   Kind
	desc   Descriptor
	seq    *Sequencer
	tr     Transport
	target string
	delays Delays

	mu     sync.Mutex
	phase  Phase
	result Result
	done   chan struct{}
	once   sync.Once
}

// NewOperation prepares a transaction for d. The caller must own seq for
// the whole run.
func NewOperation(kind Kind, d Descriptor, seq *Sequencer, tr Transport, target string, delays Delays) *Operation {
	return &Operation{
		kind:   kind,
		desc:   d,
		seq:    seq,
		tr:     tr,
		target: target,
		delays: delays,
		phase:  PhaseInit,
		done:   make(chan struct{}),
	}
}

// Phase returns the current phase.
func (o *Operation) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Done is closed when the operation reaches Done or Failed.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Result returns the terminal outcome. It is the zero Result until Done is
// closed.
func (o *Operation) Result() Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Run drives the transaction to a terminal phase. ctx may cancel the
// operation only before Init has been written; after that it runs to
// completion. Running a finished operation returns its recorded error.
func (o *Operation) Run(ctx context.Context) error {
	for {
		phase := o.Phase()
		if phase.Terminal() {
			return o.Result().Err
		}
		if err := o.step(ctx, phase); err != nil {
			o.finish(PhaseFailed, phase, err)
			continue
		}
		if phase == PhaseInit {
			ctx = context.WithoutCancel(ctx)
		}
		wait(ctx, o.delays.after(phase))
		next := phase + 1
		if next == PhaseDone {
			o.finish(PhaseDone, phase, nil)
			continue
		}
		o.mu.Lock()
		o.phase = next
		o.mu.Unlock()
	}
}

func (o *Operation) step(ctx context.Context, phase Phase) error {
	var id uint8
	var pkt []byte
	switch phase {
	case PhaseInit:
		id = o.seq.Next()
		pkt = protocol.BuildInitPacket(id)
	case PhaseConfigure:
		id = o.seq.Current()
		pkt = o.configPacket(id)
	case PhaseFinalize:
		id = o.seq.Next()
		pkt = protocol.BuildFinalizePacket(id)
	case PhaseClose:
		id = o.seq.Next()
		pkt = protocol.BuildClosePacket(id)
	default:
		return fmt.Errorf("alarm: no packet for phase %s", phase)
	}

	slog.Debug("[ALARM] sending",
		"op", o.kind.String(),
		"phase", phase.String(),
		"txid", fmt.Sprintf("0x%02X", id),
		"packet", protocol.FormatHex(pkt),
	)
	if err := o.tr.Write(ctx, pkt, o.target); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportWrite, err)
	}
	return nil
}

func (o *Operation) configPacket(id uint8) []byte {
	if o.kind == Delete {
		f := o.desc.fields()
		f.Enabled = false
		return protocol.BuildAlarmConfigPacket(id, f, protocol.VariantDelete)
	}
	return protocol.BuildAlarmConfigPacket(id, o.desc.fields(), protocol.VariantConfigure)
}

func (o *Operation) finish(terminal, at Phase, err error) {
	o.once.Do(func() {
		res := Result{
			Kind:       o.kind,
			Descriptor: o.desc,
			Phase:      terminal,
		}
		if err != nil {
			res.FailedAt = at
			res.Err = &PhaseError{Kind: o.kind, Phase: at, Err: err}
		}
		o.mu.Lock()
		o.phase = terminal
		o.result = res
		o.mu.Unlock()
		close(o.done)

		if err != nil {
			slog.Error("[ALARM] operation failed", "op", o.kind.String(), "phase", at.String(), "alarm", o.desc, "error", err)
		} else {
			slog.Info("[ALARM] operation done", "op", o.kind.String(), "alarm", o.desc)
		}
	})
}

func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
