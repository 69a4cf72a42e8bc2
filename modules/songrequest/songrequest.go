// Package songrequest implements a module which queues YouTube media
// requested by chatters and hands them to a player.
package songrequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zephyrtronium/bluebot/mailbox"
	"github.com/zephyrtronium/bluebot/message"
)

// Module is the song request module.
type Module struct {
	queue  *Queue
	player Player
	titles Resolver
	now    func() time.Time
	log    *slog.Logger
	out    mailbox.Mailbox

	current *Media
}

// Option configures the module.
type Option func(*Module)

// WithPlayer sets the playback engine. Without a player, requests only
// leave the queue by skip.
func WithPlayer(p Player) Option {
	return func(m *Module) { m.player = p }
}

// WithResolver sets the video title resolver.
func WithResolver(r Resolver) Option {
	return func(m *Module) { m.titles = r }
}

// WithClock sets the module's source of the current time.
func WithClock(now func() time.Time) Option {
	return func(m *Module) { m.now = now }
}

// WithLogger sets the module's logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Module) { m.log = log }
}

// New creates a song request module using a queue.
func New(queue *Queue, opts ...Option) *Module {
	m := &Module{
		queue: queue,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Module) Name() string { return "songrequest" }

func (m *Module) Commands() []string {
	return []string{"songrequest", "sr", "songlist", "queue", "song", "skip"}
}

func (m *Module) Output() *mailbox.Mailbox { return &m.out }

func (m *Module) Handle(ctx context.Context, cmd *message.Command) error {
	switch cmd.Name {
	case "songrequest", "sr":
		return m.request(ctx, cmd)
	case "songlist", "queue":
		head := m.queue.Front()
		if head == nil {
			m.out.Write("The song queue is empty.")
			return nil
		}
		m.out.Write(message.Format("Up next: %s (requested by %s). %d in the queue.", head.Name(), head.Requester, m.queue.Len()))
	case "song":
		if m.current == nil {
			m.out.Write("Nothing is playing.")
			return nil
		}
		m.out.Write(message.Format("Now playing: %s (requested by %s) %s", m.current.Name(), m.current.Requester, m.current.URL()))
	case "skip":
		if !cmd.Privileged {
			return nil
		}
		return m.skip(ctx)
	}
	return nil
}

func (m *Module) request(ctx context.Context, cmd *message.Command) error {
	if len(cmd.Args) == 0 {
		m.out.Write(message.Format("usage: %s%s <YouTube link>", cmd.Prefix, cmd.Name))
		return nil
	}
	video, err := ParseVideo(cmd.Arg(0))
	if err != nil {
		m.out.Write(message.Format("@%s that isn't a YouTube video", cmd.Sender))
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("couldn't make request id: %w", err)
	}
	media := &Media{
		ID:        id,
		Video:     video,
		Requester: cmd.Sender,
		Requested: m.now(),
	}
	if m.titles != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		title, err := m.titles.Title(ctx, video)
		cancel()
		switch {
		case errors.Is(err, ErrNotVideo):
			m.out.Write(message.Format("@%s that video isn't available", cmd.Sender))
			return nil
		case err != nil:
			m.log.WarnContext(ctx, "couldn't resolve video title", slog.String("video", video), slog.Any("err", err))
		default:
			media.Title = title
		}
	}
	n, err := m.queue.Push(media)
	switch {
	case errors.Is(err, ErrFull):
		m.out.Write(message.Format("@%s the song queue is full", cmd.Sender))
		return nil
	case err != nil:
		return err
	}
	m.log.InfoContext(ctx, "song requested", slog.String("video", video), slog.String("requester", cmd.Sender), slog.Int("position", n))
	m.out.Write(message.Format("@%s added %s to the queue at position %d", cmd.Sender, media.Name(), n))
	return nil
}

func (m *Module) skip(ctx context.Context) error {
	if m.current != nil && m.player != nil && m.player.Playing() {
		cur := m.current
		if err := m.player.Stop(); err != nil {
			return err
		}
		m.current = nil
		m.out.Write(message.Format("Skipped %s", cur.Name()))
		return nil
	}
	head, err := m.queue.Pop()
	if err != nil {
		return err
	}
	if head == nil {
		m.out.Write("The song queue is empty.")
		return nil
	}
	m.out.Write(message.Format("Removed %s from the queue", head.Name()))
	return nil
}

// Update hands the next request to the player once it is idle.
// A request leaves the queue only once the player accepts it.
func (m *Module) Update(ctx context.Context) error {
	if m.player == nil || m.player.Playing() {
		return nil
	}
	m.current = nil
	next := m.queue.Front()
	if next == nil {
		return nil
	}
	if err := m.player.Play(ctx, next); err != nil {
		return fmt.Errorf("couldn't play %s: %w", next.Video, err)
	}
	if _, err := m.queue.Pop(); err != nil {
		return err
	}
	m.current = next
	m.out.Write(message.Format("Now playing: %s (requested by %s)", next.Name(), next.Requester))
	return nil
}
