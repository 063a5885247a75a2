package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"go.uber.org/goleak"

	"github.com/sourcemesh/meshd/pkg/peerid"
)

// TestMain verifies Core.Run's ticker goroutines and worker pool never
// outlive ctx cancellation: a leaked ticker or a dispatch goroutine
// stuck past Run's return would otherwise only show up as flaky tests
// elsewhere in the suite.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPeerID(t *testing.T) peerid.PeerId {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	id, err := peerid.FromPrivateKey(priv)
	if err != nil {
		t.Fatalf("FromPrivateKey() error = %v", err)
	}
	return id
}

type recordingDispatcher struct {
	mu    sync.Mutex
	tocks []Tock
	done  chan struct{}
	want  int
}

func newRecordingDispatcher(want int) *recordingDispatcher {
	return &recordingDispatcher{done: make(chan struct{}), want: want}
}

func (d *recordingDispatcher) Dispatch(tock Tock) error {
	d.mu.Lock()
	d.tocks = append(d.tocks, tock)
	n := len(d.tocks)
	d.mu.Unlock()
	if n == d.want {
		close(d.done)
	}
	return nil
}

func (d *recordingDispatcher) snapshot() []Tock {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Tock, len(d.tocks))
	copy(out, d.tocks)
	return out
}

// echoHandler turns every inbound message into a single SendConnected
// Tock back to the sender, and ignores everything else.
type echoHandler struct{}

func (echoHandler) HandleInbound(_ context.Context, in Inbound) ([]Tock, []Event) {
	return []Tock{{Kind: SendConnected, To: in.From, Message: in.Message}}, nil
}
func (echoHandler) HandleTimer(_ context.Context, name string) []Tock { return nil }
func (echoHandler) HandleCommand(_ context.Context, cmd Command) []Tock {
	return []Tock{{Kind: AttemptSend, To: cmd.To, Message: cmd.Payload}}
}
func (echoHandler) HandleDiscovery(_ context.Context, d Discovery) []Tock { return nil }

func TestCoreDispatchesInboundAsTock(t *testing.T) {
	dispatcher := newRecordingDispatcher(1)
	core := NewCore(echoHandler{}, dispatcher, nil, 4, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	sender := newPeerID(t)
	if err := core.SubmitInbound(ctx, Inbound{From: sender, Message: "hello"}); err != nil {
		t.Fatalf("SubmitInbound() error = %v", err)
	}

	select {
	case <-dispatcher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	tocks := dispatcher.snapshot()
	if len(tocks) != 1 || !tocks[0].To.Equal(sender) {
		t.Fatalf("expected one Tock addressed to sender, got %+v", tocks)
	}
}

func TestCoreDispatchesCommandAsTock(t *testing.T) {
	dispatcher := newRecordingDispatcher(1)
	core := NewCore(echoHandler{}, dispatcher, nil, 4, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	target := newPeerID(t)
	if err := core.SubmitCommand(ctx, Command{Kind: CommandConnect, To: target}); err != nil {
		t.Fatalf("SubmitCommand() error = %v", err)
	}

	select {
	case <-dispatcher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	tocks := dispatcher.snapshot()
	if len(tocks) != 1 || tocks[0].Kind != AttemptSend {
		t.Fatalf("expected one AttemptSend Tock, got %+v", tocks)
	}
}

func TestCoreStopsOnContextCancel(t *testing.T) {
	dispatcher := newRecordingDispatcher(0)
	core := NewCore(echoHandler{}, dispatcher, nil, 4, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- core.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context.Canceled, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestEventBusPublishAndDrain(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(Event{Kind: EndpointEvent, Payload: "a"})
	bus.Publish(Event{Kind: EndpointEvent, Payload: "b"})

	first := <-bus.Out()
	second := <-bus.Out()
	if ev, ok := first.(Event); !ok || ev.Payload != "a" {
		t.Fatalf("expected first event payload 'a', got %+v", first)
	}
	if ev, ok := second.(Event); !ok || ev.Payload != "b" {
		t.Fatalf("expected second event payload 'b', got %+v", second)
	}
}

func TestEventBusReportsLaggedWhenFull(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(Event{Kind: EndpointEvent, Payload: "a"})
	bus.Publish(Event{Kind: EndpointEvent, Payload: "b"})
	bus.Publish(Event{Kind: EndpointEvent, Payload: "c"}) // channel full: drops "a", counts one lag

	<-bus.Out() // "b"
	<-bus.Out() // "c"
	bus.Publish(Event{Kind: EndpointEvent, Payload: "d"}) // pending lag flushed ahead of "d"

	first := <-bus.Out()
	if lg, ok := first.(Lagged); !ok || lg.N != 1 {
		t.Fatalf("expected Lagged{N: 1} first, got %+v", first)
	}
	second := <-bus.Out()
	if ev, ok := second.(Event); !ok || ev.Payload != "d" {
		t.Fatalf("expected event 'd' after the Lagged marker, got %+v", second)
	}
}
