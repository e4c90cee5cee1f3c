package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDropped is reported when the buffer is full and DropIfFull is set.
	ErrDropped = errors.New("audit event dropped")
	// ErrClosed is reported for events emitted after Close.
	ErrClosed = errors.New("audit dispatcher closed")
)

// Config controls dispatcher buffering behavior.
type Config struct {
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
}

// FailureFunc is called from the dispatcher goroutine for every event the sink
// could not persist, and from Emit for events that were dropped or arrived after
// Close.
type FailureFunc func(event Event, err error)

// Dispatcher seals events into the chain and forwards them to a sink
// asynchronously, bounding each write with WriteTimeout.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	chain     *Chain
	onFailure FailureFunc
	ch        chan Event
	closing   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	written   atomic.Uint64
	closeOnce sync.Once

	// mu is held shared by senders; Close takes it exclusively so no send can
	// land in ch after the drain starts.
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(cfg Config, sink Sink, chain *Chain, onFailure FailureFunc) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if chain == nil {
		chain = NewChain(Head{})
	}
	if onFailure == nil {
		onFailure = func(Event, error) {}
	}

	d := &Dispatcher{
		cfg:       cfg,
		sink:      sink,
		chain:     chain,
		onFailure: onFailure,
		ch:        make(chan Event, cfg.BufferSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.write(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.write(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(event Event) {
	sealed, err := d.chain.Seal(event)
	if err != nil {
		d.failed.Add(1)
		d.onFailure(event, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	if err := d.sink.Write(ctx, sealed); err != nil {
		d.failed.Add(1)
		d.onFailure(sealed, err)
		return
	}
	d.written.Add(1)
}

// Emit enqueues event. It never waits on the sink; with DropIfFull unset it waits
// only for buffer space, bounded by ctx. Events emitted during or after Close are
// reported to the FailureFunc with ErrClosed.
func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return d.reject(event, ErrClosed)
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
			return nil
		case <-d.closing:
			return d.reject(event, ErrClosed)
		default:
			d.dropped.Add(1)
			return d.reject(event, ErrDropped)
		}
	}

	select {
	case d.ch <- event:
		return nil
	case <-ctx.Done():
		d.dropped.Add(1)
		return d.reject(event, ErrDropped)
	case <-d.closing:
		return d.reject(event, ErrClosed)
	}
}

func (d *Dispatcher) reject(event Event, err error) error {
	d.onFailure(event, err)
	return err
}

// Close stops accepting events and drains the buffer.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		// release senders blocked on a full buffer before waiting for them
		close(d.closing)
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns the number of events the sink rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

// Written returns the number of events the sink accepted.
func (d *Dispatcher) Written() uint64 {
	if d == nil {
		return 0
	}
	return d.written.Load()
}

// Head returns the chain position of the last sealed event.
func (d *Dispatcher) Head() Head {
	return d.chain.Head()
}
