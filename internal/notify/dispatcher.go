package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Counter receives delivery outcomes; the metrics collector implements it.
type Counter interface {
	Inc(name string)
}

// Dispatcher queues events and delivers them from a fixed worker pool.
// A full queue drops the event and a failed send is logged; neither is retried.
type Dispatcher struct {
	mailer      Mailer
	renderer    Renderer
	queue       chan Event
	workers     int
	sendTimeout time.Duration
	logger      *log.Logger
	counter     Counter

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(mailer Mailer, renderer Renderer, workers, queueSize int, logger *log.Logger, counter Counter) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		mailer:      mailer,
		renderer:    renderer,
		queue:       make(chan Event, queueSize),
		workers:     workers,
		sendTimeout: 10 * time.Second,
		logger:      logger,
		counter:     counter,
	}
}

// Publish enqueues e and reports whether it was accepted.
func (d *Dispatcher) Publish(e Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.count("mail_dropped")
		return false
	}
	select {
	case d.queue <- e:
		return true
	default:
		d.logger.Printf("mail queue full, dropping %s event", e.Kind)
		d.count("mail_dropped")
		return false
	}
}

// Run delivers queued events until Close is called and the queue drains.
// Cancelling ctx aborts in-flight sends but still drains the queue.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for e := range d.queue {
				d.deliver(gctx, e)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close stops accepting events. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	msg, err := d.renderer.Render(e)
	if err != nil {
		d.logger.Printf("mail render failed for %s: %v", e.Kind, err)
		d.count("mail_failed")
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := d.mailer.Send(sendCtx, msg); err != nil {
		d.logger.Printf("mail send failed for %s to %v: %v", e.Kind, msg.To, err)
		d.count("mail_failed")
		return
	}
	d.count("mail_sent")
}

func (d *Dispatcher) count(name string) {
	if d.counter != nil {
		d.counter.Inc(name)
	}
}

var _ Publisher = (*Dispatcher)(nil)
