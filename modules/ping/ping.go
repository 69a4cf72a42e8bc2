// Package ping implements a liveness check module.
package ping

import (
	"context"

	"github.com/zephyrtronium/bluebot/mailbox"
	"github.com/zephyrtronium/bluebot/message"
)

// Module answers ping with pong and pong with ping.
type Module struct {
	out mailbox.Mailbox
}

func (m *Module) Name() string             { return "ping" }
func (m *Module) Commands() []string       { return []string{"ping", "pong"} }
func (m *Module) Output() *mailbox.Mailbox { return &m.out }

func (m *Module) Handle(ctx context.Context, cmd *message.Command) error {
	switch cmd.Name {
	case "ping":
		m.out.Write("Pong!")
	case "pong":
		m.out.Write("Ping!")
	}
	return nil
}

func (m *Module) Update(ctx context.Context) error { return nil }
