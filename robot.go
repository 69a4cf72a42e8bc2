package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"gitlab.com/zephyrtronium/pick"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/zephyrtronium/bluebot/event"
	"github.com/zephyrtronium/bluebot/gate"
	"github.com/zephyrtronium/bluebot/metrics"
	"github.com/zephyrtronium/bluebot/module"
	"github.com/zephyrtronium/bluebot/privilege"
)

// State is the state of the chat session.
// Sessions only move forward through states.
type State int32

const (
	Disconnected State = iota
	Connected
	Authenticated
	Joined
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	case Joined:
		return "joined"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// errHandshake is the error for failures to log in to the server.
	errHandshake = errors.New("handshake failed")
	// errExit is returned from the loop when a privileged user requests exit.
	errExit = errors.New("exit requested")
)

// Robot is the bot's chat session.
type Robot struct {
	// name is the bot's username.
	name string
	// channel is the joined channel without the leading #.
	channel string
	// prefix is the command prefix.
	prefix string
	// caps is the list of capabilities to request after joining.
	caps []string
	// announce is the distribution of join announcements.
	announce *pick.Dist[string]
	// token provides the bot's OAuth token.
	token oauth2.TokenSource
	// block is the expression of text never to send.
	block *regexp.Regexp
	// every is the gate interval of each tier.
	every [2]time.Duration
	// tick is the loop cadence.
	tick time.Duration
	// refreshEvery is the time between privileged list queries.
	refreshEvery time.Duration
	// timeout, handshakeWait, and joinWait bound network operations.
	timeout       time.Duration
	handshakeWait time.Duration
	joinWait      time.Duration

	tracker  *privilege.Tracker
	registry *module.Registry
	metrics  *metrics.Metrics
	now      func() time.Time

	conn *conn
	gate *gate.Gate

	state atomic.Int32
	// closing is set once the loop begins closing the connection.
	closing atomic.Bool
	// refresh is set when a privileged list query is due.
	refresh atomic.Bool

	// keepalive is a keep-alive reply waiting for a gate slot.
	// Only the loop uses it.
	keepalive *gate.Action
}

// New creates a robot from configuration. Modules are dispatched in the
// order of the registry.
func New(cfg *Config, token oauth2.TokenSource, reg *module.Registry, met *metrics.Metrics) (*Robot, error) {
	blk, err := regexp.Compile(cfg.Bot.Block)
	if err != nil {
		return nil, fmt.Errorf("bad block expression: %w", err)
	}
	if cfg.Bot.Block == "" {
		blk = nil
	}
	announce := make(map[string]int, len(cfg.Bot.Announce))
	total := 0
	for k, v := range cfg.Bot.Announce {
		announce[k] = v
		total += v
	}
	if total == 0 {
		announce = map[string]int{"Bot connected!": 1}
	}
	owner := cfg.Bot.Owner
	if owner == "" {
		owner = cfg.Bot.Channel
	}
	if met == nil {
		met = metrics.Discard()
	}
	robo := &Robot{
		name:          cfg.Bot.Name,
		channel:       cfg.Bot.Channel,
		prefix:        cfg.Bot.Prefix,
		caps:          cfg.Bot.Capabilities,
		announce:      pick.New(pick.FromMap(announce)),
		token:         token,
		block:         blk,
		every:         [2]time.Duration{gate.Unprivileged: cfg.Rate.Unprivileged.Interval(), gate.Privileged: cfg.Rate.Privileged.Interval()},
		tick:          fseconds(cfg.Tick.Every),
		refreshEvery:  fseconds(cfg.Tick.Refresh),
		timeout:       fseconds(cfg.Server.Timeout),
		handshakeWait: fseconds(cfg.Server.Handshake),
		joinWait:      fseconds(cfg.Server.Join),
		tracker:       privilege.NewTracker(owner, cfg.Bot.Name),
		registry:      reg,
		metrics:       met,
		now:           time.Now,
	}
	return robo, nil
}

// State returns the session's current state.
func (robo *Robot) State() State {
	return State(robo.state.Load())
}

func (robo *Robot) setState(ctx context.Context, s State) {
	old := State(robo.state.Swap(int32(s)))
	slog.InfoContext(ctx, "session state", slog.String("from", old.String()), slog.String("to", s.String()))
}

// Start logs in to the server over nc, joins the channel, and sends the
// announcement. The session is Ready once Start returns nil.
// Any failure closes the connection.
func (robo *Robot) Start(ctx context.Context, nc net.Conn) error {
	robo.conn = newConn(nc, robo.timeout)
	robo.gate = gate.New(robo.conn, robo.channel, robo.every[gate.Unprivileged], robo.every[gate.Privileged],
		gate.WithBlock(robo.block),
		gate.WithClock(robo.now),
	)
	robo.setState(ctx, Connected)
	if err := robo.handshake(ctx); err != nil {
		robo.closing.Store(true)
		robo.conn.Close()
		robo.setState(ctx, Closed)
		return err
	}
	return nil
}

// Run runs the session until a privileged user sends the exit command, the
// context closes, or the connection fails. Only a connection failure is an
// error. Run must be called after Start succeeds.
func (robo *Robot) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("couldn't create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(robo.refreshEvery),
		gocron.NewTask(func() { robo.refresh.Store(true) }),
		gocron.WithName("privilege refresh"),
	)
	if err != nil {
		return fmt.Errorf("couldn't schedule privilege refresh: %w", err)
	}
	// Learn the privileged set as soon as possible.
	robo.refresh.Store(true)
	sched.Start()
	defer sched.Shutdown()

	group, ctx := errgroup.WithContext(ctx)
	events := make(chan event.Event, 16)
	group.Go(func() error { return robo.read(ctx, events) })
	group.Go(func() error { return robo.loop(ctx, events) })
	err = group.Wait()
	if errors.Is(err, errExit) {
		return nil
	}
	return err
}

// read classifies lines from the connection and sends them to the loop.
func (robo *Robot) read(ctx context.Context, events chan<- event.Event) error {
	defer close(events)
	for {
		line, err := robo.conn.ReadLine(time.Time{})
		if err != nil {
			if robo.closing.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("couldn't read from server: %w", err)
		}
		robo.metrics.InboundCount.Observe(1)
		ev := event.Parse(line)
		if ev.Kind == event.Empty {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case events <- ev:
		}
	}
}

// pickAnnouncement chooses a join announcement.
func (robo *Robot) pickAnnouncement() string {
	return robo.announce.Pick(rand.Uint32())
}
