package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"

	"github.com/zephyrtronium/bluebot/event"
	"github.com/zephyrtronium/bluebot/gate"
	"github.com/zephyrtronium/bluebot/mailbox"
	"github.com/zephyrtronium/bluebot/message"
	"github.com/zephyrtronium/bluebot/module"
	"github.com/zephyrtronium/bluebot/modules/ping"
)

// server is the test's side of a chat connection.
type server struct {
	t     *testing.T
	nc    net.Conn
	lines chan string
}

func newServer(t *testing.T) (*server, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	s := &server{t: t, nc: b, lines: make(chan string, 64)}
	go func() {
		defer close(s.lines)
		r := bufio.NewReader(b)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			s.lines <- strings.TrimRight(line, "\r\n")
		}
	}()
	t.Cleanup(func() { b.Close() })
	return s, a
}

func (s *server) send(line string) {
	s.t.Helper()
	s.nc.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(s.nc, line+"\r\n"); err != nil {
		s.t.Fatalf("couldn't send %q: %v", line, err)
	}
}

// next expects the next line the robot sends to be want.
func (s *server) next(want string) {
	s.t.Helper()
	select {
	case got, ok := <-s.lines:
		if !ok {
			s.t.Fatalf("connection closed waiting for %q", want)
		}
		if got != want {
			s.t.Fatalf("wrong line: want %q, got %q", want, got)
		}
	case <-time.After(5 * time.Second):
		s.t.Fatalf("timed out waiting for %q", want)
	}
}

// await skips lines the robot sends until it sends want.
func (s *server) await(want string) {
	s.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got, ok := <-s.lines:
			if !ok {
				s.t.Fatalf("connection closed waiting for %q", want)
			}
			if got == want {
				return
			}
		case <-timeout:
			s.t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func testConfig() *Config {
	cfg := defaults()
	cfg.Bot.Name = "bocchi"
	cfg.Bot.Channel = "kessoku"
	cfg.Server.Timeout = 10
	cfg.Server.Handshake = 5
	cfg.Server.Join = 5
	cfg.Tick.Every = 0.01
	cfg.Tick.Refresh = 3600
	return cfg
}

// stepClock returns a clock which advances an hour on each call, so that the
// gate always has a slot.
func stepClock() func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return time.Unix(1700000000, 0).Add(time.Duration(n.Add(1)) * time.Hour)
	}
}

func testRobot(t *testing.T, cfg *Config) *Robot {
	t.Helper()
	reg := module.Register(slog.Default(), new(ping.Module))
	tok := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "kessoku-token"})
	robo, err := New(cfg, tok, reg, nil)
	if err != nil {
		t.Fatalf("couldn't create robot: %v", err)
	}
	robo.now = stepClock()
	return robo
}

// start runs the server side of a successful handshake.
func start(t *testing.T, ctx context.Context, robo *Robot) *server {
	t.Helper()
	s, nc := newServer(t)
	errc := make(chan error, 1)
	go func() { errc <- robo.Start(ctx, nc) }()
	s.next("PASS oauth:kessoku-token")
	s.next("NICK bocchi")
	s.send("PING :tmi.twitch.tv")
	s.next("PONG :tmi.twitch.tv")
	s.send(":tmi.twitch.tv 001 bocchi :Welcome, GLHF!")
	s.next("JOIN #kessoku")
	s.send(":bocchi.tmi.twitch.tv 353 bocchi = #kessoku :bocchi")
	s.send(":bocchi.tmi.twitch.tv 366 bocchi #kessoku :End of /NAMES list")
	s.next("CAP REQ :twitch.tv/commands twitch.tv/tags")
	s.next("PRIVMSG #kessoku :Bot connected!")
	if err := <-errc; err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if got := robo.State(); got != Ready {
		t.Fatalf("wrong state after handshake: want %v, got %v", Ready, got)
	}
	return s
}

func TestHandshake(t *testing.T) {
	robo := testRobot(t, testConfig())
	start(t, context.Background(), robo)
}

func TestHandshakeAuthFailure(t *testing.T) {
	robo := testRobot(t, testConfig())
	s, nc := newServer(t)
	errc := make(chan error, 1)
	go func() { errc <- robo.Start(context.Background(), nc) }()
	s.next("PASS oauth:kessoku-token")
	s.next("NICK bocchi")
	s.send(":tmi.twitch.tv NOTICE * :Login authentication failed")
	err := <-errc
	if !errors.Is(err, errHandshake) {
		t.Errorf("wrong error: want %v, got %v", errHandshake, err)
	}
	if got := robo.State(); got != Closed {
		t.Errorf("wrong state: want %v, got %v", Closed, got)
	}
}

func TestHandshakeJoinTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Join = 0.05
	cfg.Bot.Capabilities = nil
	cfg.Bot.Announce = map[string]int{"ぼっちです": 1}
	robo := testRobot(t, cfg)
	s, nc := newServer(t)
	errc := make(chan error, 1)
	go func() { errc <- robo.Start(context.Background(), nc) }()
	s.next("PASS oauth:kessoku-token")
	s.next("NICK bocchi")
	s.send(":tmi.twitch.tv 001 bocchi :Welcome, GLHF!")
	s.next("JOIN #kessoku")
	s.next("PRIVMSG #kessoku :ぼっちです")
	if err := <-errc; err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if got := robo.State(); got != Ready {
		t.Errorf("wrong state: want %v, got %v", Ready, got)
	}
}

func TestRun(t *testing.T) {
	robo := testRobot(t, testConfig())
	s := start(t, context.Background(), robo)
	errc := make(chan error, 1)
	go func() { errc <- robo.Run(context.Background()) }()

	s.await("PRIVMSG #kessoku :/mods")
	s.send("@msg-id=room_mods :tmi.twitch.tv NOTICE #kessoku :The moderators of this channel are: bocchi, nijika")
	s.send("PING :tmi.twitch.tv")
	s.await("PONG :tmi.twitch.tv")
	// Events are handled in order, so the notice is done.
	if got := robo.gate.Tier(); got != gate.Privileged {
		t.Errorf("wrong tier: want %v, got %v", gate.Privileged, got)
	}

	s.send(":ryo!ryo@ryo.tmi.twitch.tv PRIVMSG #kessoku :!exit")
	s.send(":ryo!ryo@ryo.tmi.twitch.tv PRIVMSG #kessoku :!ping")
	s.await("PRIVMSG #kessoku :Pong!")
	if got := robo.State(); got != Ready {
		t.Errorf("unprivileged exit changed state to %v", got)
	}

	s.send("@badges=broadcaster/1 :kessoku!kessoku@kessoku.tmi.twitch.tv PRIVMSG #kessoku :!exit")
	s.await("QUIT :goodbye")
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("exit returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run didn't return after exit")
	}
	if got := robo.State(); got != Closed {
		t.Errorf("wrong state after exit: want %v, got %v", Closed, got)
	}
}

func TestRunCancel(t *testing.T) {
	robo := testRobot(t, testConfig())
	s := start(t, context.Background(), robo)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- robo.Run(ctx) }()
	s.await("PRIVMSG #kessoku :/mods")
	cancel()
	s.await("QUIT :goodbye")
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("cancel returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run didn't return after cancel")
	}
	if got := robo.State(); got != Closed {
		t.Errorf("wrong state after cancel: want %v, got %v", Closed, got)
	}
}

func TestRunDisconnect(t *testing.T) {
	robo := testRobot(t, testConfig())
	s := start(t, context.Background(), robo)
	errc := make(chan error, 1)
	go func() { errc <- robo.Run(context.Background()) }()
	s.await("PRIVMSG #kessoku :/mods")
	s.nc.Close()
	select {
	case err := <-errc:
		if err == nil {
			t.Error("disconnect returned no error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run didn't return after disconnect")
	}
	if got := robo.State(); got != Closed {
		t.Errorf("wrong state after disconnect: want %v, got %v", Closed, got)
	}
}

// lines records what a gate writes.
type lines []string

func (l *lines) WriteLine(ctx context.Context, line string) error {
	*l = append(*l, line)
	return nil
}

// chatty has something to say on every update.
type chatty struct {
	out mailbox.Mailbox
}

func (m *chatty) Name() string { return "chatty" }

func (m *chatty) Commands() []string { return nil }

func (m *chatty) Handle(ctx context.Context, cmd *message.Command) error { return nil }

func (m *chatty) Output() *mailbox.Mailbox { return &m.out }

func (m *chatty) Update(ctx context.Context) error {
	m.out.Write("hello")
	return nil
}

func TestStepOrder(t *testing.T) {
	ctx := context.Background()
	mod := new(chatty)
	reg := module.Register(slog.Default(), mod)
	tok := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "kessoku-token"})
	robo, err := New(testConfig(), tok, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	var w lines
	now := time.Unix(1700000000, 0)
	clk := func() time.Time { return now }
	robo.now = clk
	robo.gate = gate.New(&w, "kessoku", 1500*time.Millisecond, 300*time.Millisecond, gate.WithClock(clk))
	robo.refresh.Store(true)
	empty := event.Event{Kind: event.Empty}
	pinged := event.Event{Kind: event.Ping, Host: "tmi.twitch.tv"}

	// A keep-alive takes the slot ahead of the refresh and module output.
	if err := robo.step(ctx, pinged); err != nil {
		t.Fatal(err)
	}
	if robo.keepalive != nil {
		t.Errorf("keep-alive still pending after send")
	}
	if !robo.refresh.Load() {
		t.Errorf("refresh sent in the keep-alive's slot")
	}
	// Refused output is consumed rather than retried.
	if mod.out.Updated() {
		t.Errorf("refused output left in the mailbox")
	}

	now = now.Add(time.Second)
	if err := robo.step(ctx, empty); err != nil {
		t.Fatal(err)
	}
	if !robo.refresh.Load() {
		t.Errorf("refresh sent inside the interval")
	}

	// The refresh goes ahead of module output.
	now = now.Add(time.Second)
	if err := robo.step(ctx, empty); err != nil {
		t.Fatal(err)
	}
	if robo.refresh.Load() {
		t.Errorf("refresh still pending after its slot")
	}

	now = now.Add(2 * time.Second)
	if err := robo.step(ctx, empty); err != nil {
		t.Fatal(err)
	}

	// A keep-alive which can't be sent stays pending for the next tick,
	// where it still goes before a due refresh.
	now = now.Add(500 * time.Millisecond)
	if err := robo.step(ctx, pinged); err != nil {
		t.Fatal(err)
	}
	if robo.keepalive == nil {
		t.Errorf("keep-alive dropped inside the interval")
	}
	robo.refresh.Store(true)
	now = now.Add(1600 * time.Millisecond)
	if err := robo.step(ctx, empty); err != nil {
		t.Fatal(err)
	}
	if robo.keepalive != nil {
		t.Errorf("keep-alive still pending after its slot")
	}
	if !robo.refresh.Load() {
		t.Errorf("refresh sent in the keep-alive's slot")
	}

	want := []string{
		"PONG :tmi.twitch.tv",
		"PRIVMSG #kessoku :/mods",
		"PRIVMSG #kessoku :hello",
		"PONG :tmi.twitch.tv",
	}
	if diff := cmp.Diff([]string(w), want); diff != "" {
		t.Errorf("wrong lines (+got/-want):\n%s", diff)
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		s    State
		want string
	}{
		{Disconnected, "disconnected"},
		{Connected, "connected"},
		{Authenticated, "authenticated"},
		{Joined, "joined"},
		{Ready, "ready"},
		{Closed, "closed"},
		{State(99), "unknown"},
	}
	for _, c := range cases {
		t.Run(c.want, func(t *testing.T) {
			if got := c.s.String(); got != c.want {
				t.Errorf("wrong string: want %q, got %q", c.want, got)
			}
		})
	}
}
