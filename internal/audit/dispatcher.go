package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls how session events queue up in front of the sink.
type Config struct {
	Enabled bool
	// BufferSize is how many events may wait for the sink.
	BufferSize int
	// DropIfFull drops new events while the queue is full. Otherwise Emit
	// waits for room until its ctx ends.
	DropIfFull bool
	// SinkTimeout bounds a single Sink.Emit call. Zero means no bound.
	SinkTimeout time.Duration
}

// Dispatcher hands session events (logins, logouts, refresh outcomes, rejected
// fetches) to one sink from a single goroutine, so the client operation that
// produced an event never waits on the sink.
//
// A nil *Dispatcher accepts every call and records nothing; NewDispatcher
// returns nil when auditing is off.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	queue chan Event

	stop     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	worker   sync.WaitGroup

	dropped atomic.Uint64
}

// NewDispatcher starts the delivery goroutine, or returns nil when cfg is
// disabled. A nil sink discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		stop:  make(chan struct{}),
	}
	d.worker.Add(1)
	go d.deliverLoop()
	return d
}

func (d *Dispatcher) deliverLoop() {
	defer d.worker.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain flushes whatever was queued before Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	d.sink.Emit(ctx, event)
}

// Emit queues event, stamping Timestamp when it is zero. Events emitted after
// Close are discarded without counting as dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopped.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close delivers the queued events and stops the goroutine. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

// Dropped reports how many events never reached the queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
