package changefeed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

const (
	// maxPendingBuffer is the number of events that can queue before new
	// events are dropped instead of blocking request handling.
	maxPendingBuffer = 4_096

	// maxPendingEvents is the batch size that forces a flush.
	maxPendingEvents = 1_000

	// flushInterval is the accumulation period before a flush.
	flushInterval = time.Second * 2

	// shutdownFlushTimeout bounds how long Close waits for the final drain.
	shutdownFlushTimeout = time.Second * 10
)

// Publisher fans change events out to a sink from a single worker goroutine
// so callers never wait on sink IO.
type Publisher struct {
	logger    logger.Logger
	sink      internal.Sink
	buffer    chan internal.ChangeEvent
	drain     chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
	stopping  atomic.Bool
}

// New looks up the sink for the URL's scheme, starts it and begins
// delivering events.
func New(ctx context.Context, log logger.Logger, urlString string) (*Publisher, error) {
	sink, scheme, err := internal.LookupSink(urlString)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Publisher{
		logger: log.WithPrefix("[changefeed]"),
		sink:   sink,
		buffer: make(chan internal.ChangeEvent, maxPendingBuffer),
		drain:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	if err := sink.Start(internal.SinkConfig{Context: ctx, Logger: p.logger, URL: urlString}); err != nil {
		cancel()
		return nil, fmt.Errorf("error starting %s sink: %w", scheme, err)
	}
	p.waitGroup.Add(1)
	go p.run()
	return p, nil
}

// Publish queues the event for delivery. When the buffer is full the event
// is dropped with a warning rather than blocking the caller.
func (p *Publisher) Publish(event internal.ChangeEvent) {
	if p.stopping.Load() {
		internal.DroppedEvents.Inc()
		return
	}
	select {
	case p.buffer <- event:
		internal.PendingEvents.Inc()
	default:
		internal.DroppedEvents.Inc()
		p.logger.Warn("dropped %s, buffer is full", event.String())
	}
}

func (p *Publisher) run() {
	defer p.waitGroup.Done()
	defer util.RecoverPanic(p.logger)
	timer := time.NewTicker(flushInterval)
	defer timer.Stop()

	var pending int
	flush := func() {
		if pending == 0 {
			return
		}
		if err := p.sink.Flush(); err != nil {
			p.logger.Error("error flushing %d change events: %s", pending, err)
			internal.DroppedEvents.Add(float64(pending))
		} else {
			p.logger.Trace("flushed %d change events", pending)
			internal.PublishedEvents.Add(float64(pending))
		}
		internal.PendingEvents.Sub(float64(pending))
		pending = 0
	}
	process := func(event internal.ChangeEvent) {
		flushNow, err := p.sink.Process(event)
		if err != nil {
			p.logger.Error("error processing %s: %s", event.String(), err)
			internal.DroppedEvents.Inc()
			internal.PendingEvents.Dec()
			return
		}
		pending++
		if flushNow || pending >= maxPendingEvents {
			flush()
		}
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.drain:
			for {
				select {
				case event := <-p.buffer:
					process(event)
				default:
					flush()
					return
				}
			}
		case event := <-p.buffer:
			process(event)
		case <-timer.C:
			flush()
		}
	}
}

// Close drains and flushes buffered events, dropping whatever is still
// pending after the timeout, then stops the sink.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		p.logger.Debug("stopping")
		p.stopping.Store(true)
		close(p.drain)
		done := make(chan struct{})
		go func() {
			p.waitGroup.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownFlushTimeout):
			if dropped := len(p.buffer); dropped > 0 {
				p.logger.Warn("timed out flushing change events, dropped %d", dropped)
				internal.DroppedEvents.Add(float64(dropped))
				internal.PendingEvents.Sub(float64(dropped))
			}
			p.cancel()
			<-done
		}
		if err := p.sink.Stop(); err != nil {
			p.logger.Error("error stopping sink: %s", err)
		}
		p.cancel()
		p.logger.Debug("stopped")
	})
	return nil
}
