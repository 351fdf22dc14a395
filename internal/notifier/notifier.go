package notifier

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"wwnotes-sync/internal/domain"
)

type State int

const (
	Idle State = iota
	Listening
)

func (s State) String() string {
	switch s {
	case Listening:
		return "listening"
	default:
		return "idle"
	}
}

// Channel is one best-effort transport for change events. Listen blocks,
// handing every received payload to deliver, until ctx is done or the
// transport fails.
type Channel interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Listen(ctx context.Context, deliver func([]byte)) error
}

type Handler func(ctx context.Context, ev domain.ChangeEvent)

type Options struct {
	SourceID       string
	PollInterval   time.Duration
	JitterRatio    float64
	PublishTimeout time.Duration
	RetryDelay     time.Duration
}

// Notifier fans change events out over every channel and turns incoming
// events, poll ticks and explicit refresh requests into handler calls.
// Handlers run one at a time on the dispatch goroutine.
type Notifier struct {
	channels []Channel
	opts     Options

	mu       sync.Mutex
	state    State
	handlers []Handler
	ticks    []func(ctx context.Context)
	cancel   context.CancelFunc

	events   chan domain.ChangeEvent
	kick     chan struct{}
	wg       sync.WaitGroup
	inflight sync.WaitGroup
}

func New(opts Options, channels ...Channel) *Notifier {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Notifier{
		channels: channels,
		opts:     opts,
		events:   make(chan domain.ChangeEvent, 64),
		kick:     make(chan struct{}, 1),
	}
}

// Subscribe registers h for events published by other sources.
func (n *Notifier) Subscribe(h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, h)
}

// OnTick registers fn to run on every poll tick and refresh request.
func (n *Notifier) OnTick(fn func(ctx context.Context)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ticks = append(n.ticks, fn)
}

func (n *Notifier) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Publish sends ev on every channel in the background. Failures are logged.
func (n *Notifier) Publish(ctx context.Context, ev domain.ChangeEvent) {
	if ev.SourceID == "" {
		ev.SourceID = n.opts.SourceID
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Notifier] failed to encode event: %v", err)
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, ch := range n.channels {
		n.inflight.Add(1)
		go func(ch Channel) {
			defer n.inflight.Done()
			pubCtx, cancel := context.WithTimeout(ctx, n.opts.PublishTimeout)
			defer cancel()
			if err := ch.Publish(pubCtx, payload); err != nil {
				log.Printf("[Notifier] publish on %s failed: %v", ch.Name(), err)
			}
		}(ch)
	}
}

// RequestRefresh asks for an immediate tick. Requests made while one is
// pending coalesce.
func (n *Notifier) RequestRefresh() {
	select {
	case n.kick <- struct{}{}:
	default:
	}
}

// Start moves Idle to Listening: channel listeners, the dispatch loop and the
// poll timer start. Calling Start while listening is a no-op.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Listening {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.state = Listening

	for _, ch := range n.channels {
		n.wg.Add(1)
		go n.listen(ctx, ch)
	}
	n.wg.Add(2)
	go n.dispatch(ctx)
	go n.poll(ctx)
	log.Printf("[Notifier] listening on %d channel(s), poll every %s", len(n.channels), n.opts.PollInterval)
}

// Stop moves Listening to Idle and waits for listeners and pending
// publishes to finish.
func (n *Notifier) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.state = Idle
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	n.wg.Wait()
	n.inflight.Wait()
}

func (n *Notifier) listen(ctx context.Context, ch Channel) {
	defer n.wg.Done()
	for {
		err := ch.Listen(ctx, func(payload []byte) {
			n.receive(ctx, ch.Name(), payload)
		})
		if ctx.Err() != nil {
			return
		}
		log.Printf("[Notifier] %s listener stopped: %v; retrying in %s", ch.Name(), err, n.opts.RetryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.opts.RetryDelay):
		}
	}
}

func (n *Notifier) receive(ctx context.Context, channel string, payload []byte) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("[Notifier] dropping malformed event from %s: %v", channel, err)
		return
	}
	if ev.SourceID != "" && ev.SourceID == n.opts.SourceID {
		return
	}
	if ev.Type != domain.EventDocumentChanged {
		return
	}

	select {
	case n.events <- ev:
	case <-ctx.Done():
	default:
		log.Printf("[Notifier] event queue full, dropping event from %s", channel)
	}
}

func (n *Notifier) dispatch(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.events:
			n.mu.Lock()
			handlers := append([]Handler(nil), n.handlers...)
			n.mu.Unlock()
			for _, h := range handlers {
				h(ctx, ev)
			}
		case <-n.kick:
			n.runTicks(ctx)
		}
	}
}

func (n *Notifier) poll(ctx context.Context) {
	defer n.wg.Done()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(n.opts.PollInterval, n.opts.JitterRatio, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			n.RequestRefresh()
			timer.Reset(jitteredIntervalWithSample(n.opts.PollInterval, n.opts.JitterRatio, rng.Float64()))
		}
	}
}

func (n *Notifier) runTicks(ctx context.Context) {
	n.mu.Lock()
	ticks := append(([]func(context.Context))(nil), n.ticks...)
	n.mu.Unlock()
	for _, fn := range ticks {
		fn(ctx)
	}
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
