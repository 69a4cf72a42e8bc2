package gate_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/bluebot/gate"
)

type spy struct {
	lines []string
	err   error
}

func (s *spy) WriteLine(ctx context.Context, line string) error {
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, line)
	return nil
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Unix(1700000000, 0)}
}

func newGate(w gate.Writer, c *clock) *gate.Gate {
	return gate.New(w, "kessoku", 1500*time.Millisecond, 300*time.Millisecond, gate.WithClock(c.now))
}

func TestFrame(t *testing.T) {
	cases := []struct {
		name string
		a    gate.Action
		want string
	}{
		{"chat", gate.Chat("hello"), "PRIVMSG #kessoku :hello"},
		{"chat-spaces", gate.Chat("bocchi the rock"), "PRIVMSG #kessoku :bocchi the rock"},
		{"keep-alive", gate.KeepAlive("tmi.twitch.tv"), "PONG :tmi.twitch.tv"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := gate.Frame("kessoku", c.a); got != c.want {
				t.Errorf("wrong frame: want %q, got %q", c.want, got)
			}
		})
	}
}

func TestTrySendInterval(t *testing.T) {
	ctx := context.Background()
	var w spy
	c := newClock()
	g := newGate(&w, c)
	ok, err := g.TrySend(ctx, gate.Chat("a"))
	if err != nil || !ok {
		t.Fatalf("first send failed: %t %v", ok, err)
	}
	c.advance(100 * time.Millisecond)
	ok, err = g.TrySend(ctx, gate.Chat("b"))
	if err != nil || ok {
		t.Errorf("send inside interval: %t %v", ok, err)
	}
	c.advance(2 * time.Second)
	ok, err = g.TrySend(ctx, gate.Chat("c"))
	if err != nil || !ok {
		t.Errorf("send after interval failed: %t %v", ok, err)
	}
	want := []string{"PRIVMSG #kessoku :a", "PRIVMSG #kessoku :c"}
	if diff := cmp.Diff(w.lines, want); diff != "" {
		t.Errorf("wrong lines (+got/-want):\n%s", diff)
	}
}

func TestTrySendBound(t *testing.T) {
	// For any elapsed time T, at most floor(T/I)+1 actions transmit.
	ctx := context.Background()
	cases := []struct {
		name string
		step time.Duration
		span time.Duration
	}{
		{"fine", 10 * time.Millisecond, 10 * time.Second},
		{"coarse", 700 * time.Millisecond, 30 * time.Second},
		{"short", time.Millisecond, time.Second},
		{"interval", 1500 * time.Millisecond, 15 * time.Second},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var w spy
			clk := newClock()
			g := newGate(&w, clk)
			start := clk.t
			for clk.t.Sub(start) <= c.span {
				if _, err := g.TrySend(ctx, gate.Chat("x")); err != nil {
					t.Fatal(err)
				}
				clk.advance(c.step)
			}
			elapsed := clk.t.Sub(start)
			bound := int(elapsed/g.Interval()) + 1
			if len(w.lines) > bound {
				t.Errorf("too many sends: want at most %d, got %d", bound, len(w.lines))
			}
			if len(w.lines) < bound/2 {
				t.Errorf("too few sends: want about %d, got %d", bound, len(w.lines))
			}
		})
	}
}

func TestKeepAliveSharesSlot(t *testing.T) {
	ctx := context.Background()
	var w spy
	c := newClock()
	g := newGate(&w, c)
	ok, err := g.TrySend(ctx, gate.KeepAlive("tmi.twitch.tv"))
	if err != nil || !ok {
		t.Fatalf("keep-alive failed: %t %v", ok, err)
	}
	ok, err = g.TrySend(ctx, gate.Chat("hello"))
	if err != nil || ok {
		t.Errorf("chat sent in the same slot as keep-alive: %t %v", ok, err)
	}
	want := []string{"PONG :tmi.twitch.tv"}
	if diff := cmp.Diff(w.lines, want); diff != "" {
		t.Errorf("wrong lines (+got/-want):\n%s", diff)
	}
}

func TestSetTier(t *testing.T) {
	ctx := context.Background()
	var w spy
	c := newClock()
	g := newGate(&w, c)
	if got := g.Tier(); got != gate.Unprivileged {
		t.Errorf("wrong initial tier: want %v, got %v", gate.Unprivileged, got)
	}
	if got := g.Interval(); got != 1500*time.Millisecond {
		t.Errorf("wrong unprivileged interval: got %v", got)
	}
	if _, err := g.TrySend(ctx, gate.Chat("a")); err != nil {
		t.Fatal(err)
	}
	c.advance(400 * time.Millisecond)
	if ok, _ := g.TrySend(ctx, gate.Chat("b")); ok {
		t.Errorf("unprivileged send after 400ms")
	}
	if !g.SetTier(gate.Privileged) {
		t.Errorf("tier change not reported")
	}
	if g.SetTier(gate.Privileged) {
		t.Errorf("repeated tier reported as a change")
	}
	if got := g.Interval(); got != 300*time.Millisecond {
		t.Errorf("wrong privileged interval: got %v", got)
	}
	c.advance(400 * time.Millisecond)
	if ok, _ := g.TrySend(ctx, gate.Chat("c")); !ok {
		t.Errorf("privileged send after 400ms failed")
	}
	c.advance(100 * time.Millisecond)
	if ok, _ := g.TrySend(ctx, gate.Chat("d")); ok {
		t.Errorf("privileged send after 100ms")
	}
	if !g.SetTier(gate.Unprivileged) {
		t.Errorf("tier change back not reported")
	}
	c.advance(400 * time.Millisecond)
	if ok, _ := g.TrySend(ctx, gate.Chat("e")); ok {
		t.Errorf("unprivileged send after 500ms")
	}
	want := []string{"PRIVMSG #kessoku :a", "PRIVMSG #kessoku :c"}
	if diff := cmp.Diff(w.lines, want); diff != "" {
		t.Errorf("wrong lines (+got/-want):\n%s", diff)
	}
}

func TestIntervalStrict(t *testing.T) {
	ctx := context.Background()
	var w spy
	c := newClock()
	g := newGate(&w, c)
	if ok, err := g.TrySend(ctx, gate.Chat("a")); err != nil || !ok {
		t.Fatalf("first send failed: %t %v", ok, err)
	}
	c.advance(1500 * time.Millisecond)
	if ok, _ := g.TrySend(ctx, gate.Chat("b")); ok {
		t.Errorf("send at exactly the interval")
	}
	c.advance(time.Millisecond)
	if ok, _ := g.TrySend(ctx, gate.Chat("c")); !ok {
		t.Errorf("send after the interval failed")
	}
	want := []string{"PRIVMSG #kessoku :a", "PRIVMSG #kessoku :c"}
	if diff := cmp.Diff(w.lines, want); diff != "" {
		t.Errorf("wrong lines (+got/-want):\n%s", diff)
	}
}

func TestDemotion(t *testing.T) {
	// After losing privilege, the next send waits the full unprivileged
	// interval from the last send.
	cases := []struct {
		name  string
		delay time.Duration
		ok    bool
	}{
		{"soon", 800 * time.Millisecond, false},
		{"privileged-gap", 1200 * time.Millisecond, false},
		{"exact", 1500 * time.Millisecond, false},
		{"after", 1501 * time.Millisecond, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			var w spy
			clk := newClock()
			g := newGate(&w, clk)
			g.SetTier(gate.Privileged)
			if ok, err := g.TrySend(ctx, gate.Chat("a")); err != nil || !ok {
				t.Fatalf("privileged send failed: %t %v", ok, err)
			}
			clk.advance(200 * time.Millisecond)
			g.SetTier(gate.Unprivileged)
			clk.advance(c.delay - 200*time.Millisecond)
			ok, err := g.TrySend(ctx, gate.Chat("b"))
			if err != nil {
				t.Fatal(err)
			}
			if ok != c.ok {
				t.Errorf("wrong result %v after the last send: want %t, got %t", c.delay, c.ok, ok)
			}
		})
	}
}

func TestPromotion(t *testing.T) {
	// Gaining privilege lets the next send happen once the shorter interval
	// has passed since the last send.
	ctx := context.Background()
	var w spy
	c := newClock()
	g := newGate(&w, c)
	if ok, err := g.TrySend(ctx, gate.Chat("a")); err != nil || !ok {
		t.Fatalf("first send failed: %t %v", ok, err)
	}
	c.advance(200 * time.Millisecond)
	g.SetTier(gate.Privileged)
	if ok, _ := g.TrySend(ctx, gate.Chat("b")); ok {
		t.Errorf("privileged send 200ms after the last")
	}
	c.advance(101 * time.Millisecond)
	if ok, _ := g.TrySend(ctx, gate.Chat("c")); !ok {
		t.Errorf("privileged send 301ms after the last failed")
	}
}

func TestBlock(t *testing.T) {
	ctx := context.Background()
	var w spy
	c := newClock()
	g := gate.New(&w, "kessoku", time.Second, time.Second, gate.WithClock(c.now), gate.WithBlock(regexp.MustCompile(`(?i)\bbad\b`)))
	if ok, err := g.TrySend(ctx, gate.Chat("this is BAD")); ok || err != nil {
		t.Errorf("blocked message sent: %t %v", ok, err)
	}
	// Blocked messages don't consume the slot.
	if ok, err := g.TrySend(ctx, gate.Chat("this is good")); !ok || err != nil {
		t.Errorf("good message not sent: %t %v", ok, err)
	}
	c.advance(2 * time.Second)
	if ok, err := g.TrySend(ctx, gate.KeepAlive("bad")); !ok || err != nil {
		t.Errorf("keep-alive blocked: %t %v", ok, err)
	}
}

func TestWriteError(t *testing.T) {
	want := errors.New("broken pipe")
	w := spy{err: want}
	g := newGate(&w, newClock())
	ok, err := g.TrySend(context.Background(), gate.Chat("hello"))
	if ok {
		t.Errorf("failed write reported as sent")
	}
	if !errors.Is(err, want) {
		t.Errorf("wrong error: want %v, got %v", want, err)
	}
}
