package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gitlab.com/zephyrtronium/tmi"

	"github.com/zephyrtronium/bluebot/event"
	"github.com/zephyrtronium/bluebot/gate"
	"github.com/zephyrtronium/bluebot/message"
)

// handshake logs in, joins the channel, and announces the bot.
func (robo *Robot) handshake(ctx context.Context) error {
	tok, err := robo.token.Token()
	if err != nil {
		return fmt.Errorf("couldn't get access token: %w", err)
	}
	login := []*tmi.Message{
		{Command: "PASS", Params: []string{"oauth:" + strings.TrimPrefix(tok.AccessToken, "oauth:")}},
		{Command: "NICK", Params: []string{robo.name}},
	}
	for _, msg := range login {
		if err := robo.conn.WriteLine(ctx, msg.String()); err != nil {
			return fmt.Errorf("couldn't send login: %w", err)
		}
	}
	if err := robo.await(ctx, time.Now().Add(robo.handshakeWait), welcome); err != nil {
		return fmt.Errorf("%w: %w", errHandshake, err)
	}
	robo.setState(ctx, Authenticated)

	join := tmi.Message{Command: "JOIN", Params: []string{"#" + robo.channel}}
	if err := robo.conn.WriteLine(ctx, join.String()); err != nil {
		return fmt.Errorf("couldn't send join: %w", err)
	}
	err = robo.await(ctx, time.Now().Add(robo.joinWait), joined)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "joined channel", slog.String("channel", robo.channel))
	case errors.Is(err, os.ErrDeadlineExceeded):
		slog.WarnContext(ctx, "no end of names after join; continuing", slog.String("channel", robo.channel))
	default:
		return fmt.Errorf("couldn't join #%s: %w", robo.channel, err)
	}
	robo.setState(ctx, Joined)

	if len(robo.caps) > 0 {
		req := tmi.Message{Command: "CAP", Params: []string{"REQ"}, Trailing: strings.Join(robo.caps, " ")}
		if err := robo.conn.WriteLine(ctx, req.String()); err != nil {
			return fmt.Errorf("couldn't request capabilities: %w", err)
		}
	}
	text := robo.pickAnnouncement()
	sent, err := robo.gate.TrySend(ctx, gate.Chat(text))
	if err != nil {
		return fmt.Errorf("couldn't announce: %w", err)
	}
	if sent {
		robo.metrics.SentCount.Observe(1)
	}
	robo.setState(ctx, Ready)
	return nil
}

// await reads messages until done reports true or fails, the deadline
// passes, or the context closes. Pings are answered directly.
func (robo *Robot) await(ctx context.Context, deadline time.Time, done func(*tmi.Message) (bool, error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := robo.conn.ReadLine(deadline)
		if err != nil {
			return err
		}
		msg, err := tmi.Parse(bytes.NewReader(line))
		if err != nil {
			slog.DebugContext(ctx, "unparsed line during handshake", slog.Any("err", err))
			continue
		}
		if msg.Command == "PING" {
			pong := tmi.Message{Command: "PONG", Trailing: msg.Trailing}
			if err := robo.conn.WriteLine(ctx, pong.String()); err != nil {
				return err
			}
			continue
		}
		ok, err := done(msg)
		if err != nil || ok {
			return err
		}
	}
}

// welcome recognizes the server's acknowledgement of login.
func welcome(msg *tmi.Message) (bool, error) {
	switch {
	case msg.Command == "001", strings.Contains(msg.Trailing, "Welcome, GLHF!"):
		return true, nil
	case msg.Command == "NOTICE" && (strings.Contains(msg.Trailing, "Login authentication failed") || strings.Contains(msg.Trailing, "Improperly formatted auth")):
		return false, errors.New(msg.Trailing)
	}
	return false, nil
}

// joined recognizes the end of the names list sent after joining.
func joined(msg *tmi.Message) (bool, error) {
	return msg.Command == "366", nil
}

// loop drives ticks from the ticker and from inbound events.
func (robo *Robot) loop(ctx context.Context, events <-chan event.Event) error {
	t := time.NewTicker(robo.tick)
	defer t.Stop()
	for {
		var ev event.Event
		select {
		case <-ctx.Done():
			robo.quit(context.WithoutCancel(ctx))
			return nil
		case <-t.C:
			// tick with no event
		case e, ok := <-events:
			if !ok {
				// The reader reports the failure.
				robo.quit(ctx)
				return nil
			}
			ev = e
		}
		err := robo.step(ctx, ev)
		switch {
		case err == nil: // do nothing
		case errors.Is(err, errExit):
			slog.InfoContext(ctx, "exiting")
			robo.quit(ctx)
			return err
		default:
			robo.quit(ctx)
			return err
		}
	}
}

// quit says goodbye and closes the connection. The session is Closed after.
func (robo *Robot) quit(ctx context.Context) {
	if robo.closing.Swap(true) {
		return
	}
	msg := tmi.Message{Command: "QUIT", Trailing: "goodbye"}
	if err := robo.conn.WriteLine(ctx, msg.String()); err != nil {
		slog.DebugContext(ctx, "couldn't send quit", slog.Any("err", err))
	}
	robo.conn.Close()
	robo.setState(ctx, Closed)
}

// step runs one tick. ev is the inbound event for the tick, which is Empty
// for ticks driven by the ticker.
func (robo *Robot) step(ctx context.Context, ev event.Event) error {
	start := time.Now()
	defer func() { robo.metrics.TickLatency.Observe(time.Since(start).Seconds()) }()
	var cmd *message.Command
	switch ev.Kind {
	case event.Ping:
		a := gate.KeepAlive(ev.Host)
		robo.keepalive = &a
	case event.Notice:
		robo.observe(ctx, ev.Content)
	case event.Chat:
		m := message.Parse(ev.Content, ev.Sender, robo.prefix)
		c := m.Command()
		if c == nil {
			break
		}
		c.Privileged = robo.tracker.Privileged(c.Sender)
		if c.Name == "exit" {
			if c.Privileged {
				return errExit
			}
			slog.InfoContext(ctx, "unprivileged exit", slog.String("sender", c.Sender))
			break
		}
		if robo.registry.Handles(c.Name) {
			slog.InfoContext(ctx, "command",
				slog.String("name", c.Name),
				slog.Any("args", c.Args),
				slog.String("sender", c.Sender),
				slog.Bool("privileged", c.Privileged),
			)
			robo.metrics.CommandCount.Observe(1)
			cmd = c
		}
	}
	if robo.keepalive != nil {
		ok, err := robo.gate.TrySend(ctx, *robo.keepalive)
		if err != nil {
			return err
		}
		if ok {
			robo.keepalive = nil
			robo.metrics.KeepAliveCount.Observe(1)
		}
	} else if robo.refresh.Load() {
		ok, err := robo.gate.TrySend(ctx, gate.Chat(robo.tracker.Query()))
		if err != nil {
			return err
		}
		if ok {
			robo.refresh.Store(false)
			robo.metrics.RefreshCount.Observe(1)
		}
	}
	faults, err := robo.registry.Tick(ctx, cmd, robo.offer)
	for _, f := range faults {
		robo.metrics.FaultCount.Observe(1, f.Module, f.Op)
	}
	return err
}

// observe updates the privileged set from a server notice.
func (robo *Robot) observe(ctx context.Context, text string) {
	s, err := robo.tracker.Observe(text, robo.now())
	if err != nil {
		slog.DebugContext(ctx, "notice", slog.String("text", text))
		return
	}
	robo.metrics.PrivilegedUsers.Observe(float64(s.Len()))
	slog.InfoContext(ctx, "privileged users", slog.Any("members", s.Members()))
	if robo.gate.SetTier(robo.tracker.Tier()) {
		slog.InfoContext(ctx, "rate limit tier", slog.String("tier", robo.gate.Tier().String()), slog.Duration("interval", robo.gate.Interval()))
	}
}

// offer hands module output to the gate.
func (robo *Robot) offer(ctx context.Context, text string) (bool, error) {
	ok, err := robo.gate.TrySend(ctx, gate.Chat(text))
	if err != nil {
		return false, err
	}
	if ok {
		robo.metrics.SentCount.Observe(1)
	} else {
		robo.metrics.DroppedCount.Observe(1)
	}
	return ok, nil
}
