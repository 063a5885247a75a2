package scheduler

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sourcemesh/meshd/pkg/peerid"
)

// Inbound is a message decoded from an open stream, paired with the
// peer that sent it.
type Inbound struct {
	From    peerid.PeerId
	Message any
}

// CommandKind names a downstream request the core loop must act on.
type CommandKind int

const (
	CommandAnnounce CommandKind = iota
	CommandQuery
	CommandInterrogate
	CommandConnect
)

// Command is a downstream request (announce, query, interrogate,
// connect) entering the core loop.
type Command struct {
	Kind    CommandKind
	To      peerid.PeerId
	ToInfo  PeerAddrs
	Payload any
}

// Discovery is a peer-and-addresses notification from the discovery
// layer (kad-dht / mDNS), offered to membership's Join path.
type Discovery struct {
	Peer PeerAddrs
}

// Handler reacts to each kind of core-loop input, returning the Tocks
// to dispatch and any upstream Events to publish. Implementations
// wire together gossip.Apply, membership.Protocol, and the
// replication engine; the core loop itself holds no protocol logic.
type Handler interface {
	HandleInbound(ctx context.Context, in Inbound) ([]Tock, []Event)
	HandleTimer(ctx context.Context, name string) []Tock
	HandleCommand(ctx context.Context, cmd Command) []Tock
	HandleDiscovery(ctx context.Context, d Discovery) []Tock
}

// Timer is one periodic input the core loop multiplexes, e.g. gossip
// rebroadcast sweeps or membership's shuffle/tickle/promotion ticks.
type Timer struct {
	Name     string
	Interval time.Duration
}

// Core is the single-threaded cooperative loop of spec.md §4.8. All
// protocol decisions happen synchronously inside Handler callbacks on
// the core goroutine; only the resulting Tocks are fanned out to the
// bounded worker pool for actual I/O.
type Core struct {
	handler    Handler
	dispatcher Dispatcher
	events     *EventBus
	maxWorkers int

	inbound   chan Inbound
	commands  chan Command
	discovery chan Discovery
	timers    []Timer
}

// NewCore builds a Core. maxWorkers bounds concurrent Tock dispatches;
// queue capacities bound the respective inbound channels.
func NewCore(handler Handler, dispatcher Dispatcher, events *EventBus, maxWorkers, queueCapacity int, timers []Timer) *Core {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	return &Core{
		handler:    handler,
		dispatcher: dispatcher,
		events:     events,
		maxWorkers: maxWorkers,
		inbound:    make(chan Inbound, queueCapacity),
		commands:   make(chan Command, queueCapacity),
		discovery:  make(chan Discovery, queueCapacity),
		timers:     timers,
	}
}

// SubmitInbound enqueues a decoded message for processing. Blocks if
// the inbound queue is full, applying backpressure to the stream
// reader rather than the core loop itself.
func (c *Core) SubmitInbound(ctx context.Context, in Inbound) error {
	select {
	case c.inbound <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitCommand enqueues a downstream command.
func (c *Core) SubmitCommand(ctx context.Context, cmd Command) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitDiscovery enqueues a discovery notification.
func (c *Core) SubmitDiscovery(ctx context.Context, d Discovery) error {
	select {
	case c.discovery <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fixed core-loop select sources, before the per-timer cases.
const (
	srcDone = iota
	srcInbound
	srcCommands
	srcDiscovery
	srcFixedCount
)

// Run drives the core loop until ctx is cancelled. It never returns a
// non-nil error except from ctx's own cancellation, matching the
// fire-and-forget worker-pool pattern: individual Tock dispatch
// failures are logged, not propagated.
func (c *Core) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, c.maxWorkers)

	tickers := make([]*time.Ticker, len(c.timers))
	for i, t := range c.timers {
		tickers[i] = time.NewTicker(t.Interval)
	}
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	cases := make([]reflect.SelectCase, srcFixedCount+len(tickers))
	cases[srcDone] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())}
	cases[srcInbound] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.inbound)}
	cases[srcCommands] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.commands)}
	cases[srcDiscovery] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.discovery)}
	for i, t := range tickers {
		cases[srcFixedCount+i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(t.C)}
	}

	for {
		chosen, recv, _ := reflect.Select(cases)

		var tocks []Tock
		var events []Event

		switch {
		case chosen == srcDone:
			eg.Wait()
			return ctx.Err()
		case chosen == srcInbound:
			tocks, events = c.handler.HandleInbound(egCtx, recv.Interface().(Inbound))
		case chosen == srcCommands:
			tocks = c.handler.HandleCommand(egCtx, recv.Interface().(Command))
		case chosen == srcDiscovery:
			tocks = c.handler.HandleDiscovery(egCtx, recv.Interface().(Discovery))
		default:
			tocks = c.handler.HandleTimer(egCtx, c.timers[chosen-srcFixedCount].Name)
		}

		for _, ev := range events {
			if c.events != nil {
				c.events.Publish(ev)
			}
		}
		for _, tock := range tocks {
			c.dispatchAsync(eg, sem, tock)
		}
	}
}

// dispatchAsync hands one Tock to the worker pool without blocking
// the core loop: the semaphore wait and the dispatcher call both
// happen inside the spawned goroutine.
func (c *Core) dispatchAsync(eg *errgroup.Group, sem chan struct{}, tock Tock) {
	eg.Go(func() error {
		sem <- struct{}{}
		defer func() { <-sem }()
		if err := c.dispatcher.Dispatch(tock); err != nil {
			slog.Warn("scheduler: tock dispatch failed", "kind", tock.Kind, "to", tock.To, "error", err)
		}
		return nil
	})
}
