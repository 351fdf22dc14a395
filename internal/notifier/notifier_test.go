package notifier

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wwnotes-sync/internal/domain"
	"wwnotes-sync/internal/repository"
)

// bus is an in-process fan-out shared by several memChannels.
type bus struct {
	mu        sync.Mutex
	listeners []func([]byte)
}

func (b *bus) send(payload []byte) {
	b.mu.Lock()
	listeners := append(([]func([]byte))(nil), b.listeners...)
	b.mu.Unlock()
	for _, l := range listeners {
		l(payload)
	}
}

type memChannel struct {
	bus       *bus
	published int32
}

func (c *memChannel) Name() string { return "memory" }

func (c *memChannel) Publish(ctx context.Context, payload []byte) error {
	atomic.AddInt32(&c.published, 1)
	c.bus.send(payload)
	return nil
}

func (c *memChannel) Listen(ctx context.Context, deliver func([]byte)) error {
	c.bus.mu.Lock()
	c.bus.listeners = append(c.bus.listeners, deliver)
	c.bus.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func sampleEvent(source string) domain.ChangeEvent {
	return domain.NewChangeEvent(domain.Document{
		ID:         "doc-1",
		Title:      "Calc Notes",
		UploadedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, source, time.Now())
}

func TestNotifier_StateMachine(t *testing.T) {
	n := New(Options{SourceID: "a", PollInterval: time.Hour})
	if n.State() != Idle {
		t.Fatalf("expected idle, got %s", n.State())
	}

	n.Start(context.Background())
	if n.State() != Listening {
		t.Fatalf("expected listening, got %s", n.State())
	}
	n.Start(context.Background())
	if n.State() != Listening {
		t.Fatalf("second start must stay listening, got %s", n.State())
	}

	n.Stop()
	if n.State() != Idle {
		t.Fatalf("expected idle after stop, got %s", n.State())
	}
}

func TestNotifier_DeliversToOtherSources(t *testing.T) {
	shared := &bus{}
	chA := &memChannel{bus: shared}
	chB := &memChannel{bus: shared}

	a := New(Options{SourceID: "a", PollInterval: time.Hour}, chA)
	b := New(Options{SourceID: "b", PollInterval: time.Hour}, chB)

	var gotA, gotB int32
	var received domain.ChangeEvent
	var mu sync.Mutex
	a.Subscribe(func(ctx context.Context, ev domain.ChangeEvent) { atomic.AddInt32(&gotA, 1) })
	b.Subscribe(func(ctx context.Context, ev domain.ChangeEvent) {
		mu.Lock()
		received = ev
		mu.Unlock()
		atomic.AddInt32(&gotB, 1)
	})

	a.Start(context.Background())
	b.Start(context.Background())
	defer a.Stop()
	defer b.Stop()

	waitFor(t, func() bool {
		shared.mu.Lock()
		defer shared.mu.Unlock()
		return len(shared.listeners) == 2
	})

	a.Publish(context.Background(), sampleEvent("a"))

	waitFor(t, func() bool { return atomic.LoadInt32(&gotB) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&gotA); got != 0 {
		t.Errorf("publisher must not receive its own event, got %d", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if received.Document.ID != "doc-1" || received.SourceID != "a" {
		t.Errorf("unexpected event: %+v", received)
	}
}

func TestNotifier_PublishFillsSourceID(t *testing.T) {
	shared := &bus{}
	var payloadSource string
	var mu sync.Mutex
	shared.listeners = append(shared.listeners, func(p []byte) {
		mu.Lock()
		defer mu.Unlock()
		payloadSource = string(p)
	})

	n := New(Options{SourceID: "node-x"}, &memChannel{bus: shared})
	ev := sampleEvent("")
	n.Publish(context.Background(), ev)
	n.Stop()

	mu.Lock()
	defer mu.Unlock()
	if want := `"sourceId":"node-x"`; !strings.Contains(payloadSource, want) {
		t.Errorf("expected payload to carry %s, got %s", want, payloadSource)
	}
}

func TestNotifier_DropsMalformedAndForeignEvents(t *testing.T) {
	n := New(Options{SourceID: "a", PollInterval: time.Hour})
	var calls int32
	n.Subscribe(func(ctx context.Context, ev domain.ChangeEvent) { atomic.AddInt32(&calls, 1) })
	n.Start(context.Background())
	defer n.Stop()

	ctx := context.Background()
	n.receive(ctx, "test", []byte("{not json"))
	n.receive(ctx, "test", []byte(`{"type":"somethingElse","sourceId":"b"}`))
	n.receive(ctx, "test", []byte(`{"type":"documentChanged","sourceId":"a","document":{"id":"x"}}`))
	n.receive(ctx, "test", []byte(`{"type":"documentChanged","sourceId":"b","document":{"id":"x"}}`))

	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly one delivered event, got %d", got)
	}
}

func TestNotifier_PollTimerTicks(t *testing.T) {
	n := New(Options{SourceID: "a", PollInterval: 20 * time.Millisecond, JitterRatio: 0.2})
	var ticks int32
	n.OnTick(func(ctx context.Context) { atomic.AddInt32(&ticks, 1) })

	n.Start(context.Background())
	defer n.Stop()

	waitFor(t, func() bool { return atomic.LoadInt32(&ticks) >= 2 })
}

func TestNotifier_RequestRefreshCoalesces(t *testing.T) {
	n := New(Options{SourceID: "a", PollInterval: time.Hour})
	var ticks int32
	n.OnTick(func(ctx context.Context) { atomic.AddInt32(&ticks, 1) })

	n.RequestRefresh()
	n.RequestRefresh()
	n.RequestRefresh()

	n.Start(context.Background())
	defer n.Stop()

	waitFor(t, func() bool { return atomic.LoadInt32(&ticks) == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&ticks); got != 1 {
		t.Errorf("expected pending requests to coalesce into one tick, got %d", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 30 * time.Second
	tests := []struct {
		name   string
		jitter float64
		sample float64
		want   time.Duration
	}{
		{name: "no jitter", jitter: 0, sample: 0.9, want: base},
		{name: "lowest sample", jitter: 0.2, sample: 0, want: 24 * time.Second},
		{name: "highest sample", jitter: 0.2, sample: 1, want: 36 * time.Second},
		{name: "midpoint", jitter: 0.2, sample: 0.5, want: base},
		{name: "clamped ratio", jitter: 5, sample: 0, want: time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jitteredIntervalWithSample(base, tt.jitter, tt.sample); got != tt.want {
				t.Errorf("jitteredIntervalWithSample() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStorageChannel_DeliversSlotWrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	slots, err := repository.NewFileSlotBackend(dir)
	if err != nil {
		t.Fatalf("NewFileSlotBackend() error = %v", err)
	}
	writer := NewStorageChannel(slots, "")
	reader := NewStorageChannel(slots, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reader.Listen(ctx, func(p []byte) {
			mu.Lock()
			got = p
			mu.Unlock()
		})
	}()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	if err := writer.Publish(ctx, []byte(`{"type":"documentChanged"}`)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(got) == `{"type":"documentChanged"}`
	})

	cancel()
	<-done
}
