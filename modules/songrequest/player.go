package songrequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Player is a media playback engine.
type Player interface {
	// Play begins playing media. It must not block until playback ends.
	Play(ctx context.Context, m *Media) error
	// Playing reports whether media is playing.
	Playing() bool
	// Stop ends the current playback, if any.
	Stop() error
}

// Exec is a Player which runs an external program for each media request,
// e.g. mpv --no-video. The media URL is appended to the arguments.
type Exec struct {
	// Command is the program and its leading arguments.
	Command []string
	// Log receives diagnostics. If nil, the default logger is used.
	Log *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

func (p *Exec) Play(ctx context.Context, m *Media) error {
	if len(p.Command) == 0 {
		return errors.New("no player command")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return errors.New("already playing")
	}
	args := append(p.Command[1:len(p.Command):len(p.Command)], m.URL())
	cmd := exec.CommandContext(ctx, p.Command[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("couldn't start player: %w", err)
	}
	p.cmd = cmd
	go p.wait(ctx, cmd, m)
	return nil
}

func (p *Exec) wait(ctx context.Context, cmd *exec.Cmd, m *Media) {
	err := cmd.Wait()
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	if err != nil {
		log.WarnContext(ctx, "player exited", slog.String("video", m.Video), slog.Any("err", err))
	} else {
		log.InfoContext(ctx, "playback finished", slog.String("video", m.Video))
	}
	p.mu.Lock()
	if p.cmd == cmd {
		p.cmd = nil
	}
	p.mu.Unlock()
}

func (p *Exec) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

func (p *Exec) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	p.cmd = nil
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("couldn't stop player: %w", err)
	}
	return nil
}
