// Package gate implements the rate-limited outbound path to the chat server.
package gate

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"gitlab.com/zephyrtronium/tmi"
	"golang.org/x/time/rate"
)

// Tier is a rate limit class.
type Tier int

const (
	// Unprivileged is the tier of a bot which is not a moderator.
	Unprivileged Tier = iota
	// Privileged is the tier of a bot which is a moderator or the owner of
	// the channel.
	Privileged
)

func (t Tier) String() string {
	switch t {
	case Unprivileged:
		return "unprivileged"
	case Privileged:
		return "privileged"
	default:
		return "unknown"
	}
}

// Writer sends complete lines to the server.
type Writer interface {
	// WriteLine sends one line, not including its line terminator.
	WriteLine(ctx context.Context, line string) error
}

type kind int

const (
	keepAlive kind = iota
	chat
)

// Action is an outbound protocol action.
type Action struct {
	kind kind
	text string
}

// KeepAlive creates a reply to a keep-alive ping from host.
func KeepAlive(host string) Action {
	return Action{kind: keepAlive, text: host}
}

// Chat creates a chat message send.
func Chat(text string) Action {
	return Action{kind: chat, text: text}
}

// IsKeepAlive reports whether the action is a keep-alive reply.
func (a Action) IsKeepAlive() bool {
	return a.kind == keepAlive
}

// Text is the chat text of the action, or the host of a keep-alive reply.
func (a Action) Text() string {
	return a.text
}

// Gate allows at most one outbound action per interval of the current tier.
// Keep-alive replies and chat sends share the same slot.
type Gate struct {
	w       Writer
	channel string
	block   *regexp.Regexp
	now     func() time.Time

	mu    sync.Mutex
	lim   *rate.Limiter
	last  time.Time
	tier  Tier
	every [2]time.Duration
}

// Option configures a gate.
type Option func(*Gate)

// WithClock sets the gate's source of the current time.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithBlock causes the gate to refuse chat sends matching expr.
// A nil expression blocks nothing.
func WithBlock(expr *regexp.Regexp) Option {
	return func(g *Gate) { g.block = expr }
}

// New creates a gate which writes to w on behalf of channel. The gate begins
// in the unprivileged tier. The intervals must be positive.
func New(w Writer, channel string, unprivileged, privileged time.Duration, opts ...Option) *Gate {
	g := &Gate{
		w:       w,
		channel: channel,
		now:     time.Now,
		tier:    Unprivileged,
		every:   [2]time.Duration{Unprivileged: unprivileged, Privileged: privileged},
	}
	for _, o := range opts {
		o(g)
	}
	g.lim = limiter(unprivileged, time.Time{})
	return g
}

// limiter creates a limiter which allows one action once strictly more than
// every has passed since last. A zero last allows an action immediately.
func limiter(every time.Duration, last time.Time) *rate.Limiter {
	lim := rate.NewLimiter(rate.Every(every+time.Nanosecond), 1)
	if !last.IsZero() {
		lim.AllowN(last, 1)
	}
	return lim
}

// Frame formats the wire line for an action sent to channel.
func Frame(channel string, a Action) string {
	if a.kind == keepAlive {
		return (&tmi.Message{Command: "PONG", Trailing: a.text}).String()
	}
	return tmi.Privmsg("#"+channel, a.text).String()
}

// Blocked reports whether the gate refuses to send an action regardless of
// the rate limit.
func (g *Gate) Blocked(a Action) bool {
	return a.kind == chat && g.block != nil && g.block.MatchString(a.text)
}

// TrySend transmits a if more than the current tier's interval has elapsed
// since the last transmission. The result is true iff the action was written.
// Blocked chat sends never consume the slot.
func (g *Gate) TrySend(ctx context.Context, a Action) (bool, error) {
	if g.Blocked(a) {
		return false, nil
	}
	g.mu.Lock()
	now := g.now()
	ok := g.lim.AllowN(now, 1)
	if ok {
		g.last = now
	}
	g.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := g.w.WriteLine(ctx, Frame(g.channel, a)); err != nil {
		return false, fmt.Errorf("couldn't send %s: %w", g.describe(a), err)
	}
	return true, nil
}

func (g *Gate) describe(a Action) string {
	if a.kind == keepAlive {
		return "keep-alive"
	}
	return "chat message"
}

// SetTier changes the gate's tier, recomputing its interval if the tier
// differs from the current one. The new interval counts from the last
// transmission. It reports whether the tier changed.
func (g *Gate) SetTier(t Tier) bool {
	if t != Privileged {
		t = Unprivileged
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if t == g.tier {
		return false
	}
	g.tier = t
	g.lim = limiter(g.every[t], g.last)
	return true
}

// Tier returns the gate's current tier.
func (g *Gate) Tier() Tier {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tier
}

// Interval returns the minimum time between actions in the current tier.
func (g *Gate) Interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.every[g.tier]
}
