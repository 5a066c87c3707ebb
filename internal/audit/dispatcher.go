package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	// DropIfFull makes Emit non-blocking. Dropped events are counted and logged.
	DropIfFull bool `yaml:"drop_if_full"`
	// SinkTimeout bounds each sink call. Zero means no bound.
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// Dispatcher forwards events to a sink on a background goroutine.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	logger    *slog.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher. It returns nil when cfg is disabled; all
// methods are safe on a nil receiver.
func NewDispatcher(cfg Config, sink Sink, logger *slog.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
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
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
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
	if err := d.sink.Emit(ctx, event); err != nil {
		d.failed.Add(1)
		d.logger.Warn("audit sink failed",
			slog.String("event_id", event.ID),
			slog.String("action", event.Action),
			slog.String("err", err.Error()),
		)
	}
}

// Emit enqueues event. It never returns an error to the caller.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if d.closed.Load() {
		d.drop(event, "dispatcher closed")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		default:
			d.drop(event, "buffer full")
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.drop(event, "caller context done")
	case <-d.done:
		d.drop(event, "dispatcher closed")
	}
}

func (d *Dispatcher) drop(event Event, why string) {
	d.dropped.Add(1)
	d.logger.Warn("audit event dropped",
		slog.String("event_id", event.ID),
		slog.String("action", event.Action),
		slog.String("severity", string(event.Severity)),
		slog.String("why", why),
	)
}

// Close stops accepting events and drains the buffer into the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped counts events that never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts sink deliveries that returned an error.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
