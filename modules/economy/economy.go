// Package economy implements a chat currency module backed by a ledger.
package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/zephyrtronium/bluebot/mailbox"
	"github.com/zephyrtronium/bluebot/message"
)

// ChatterSource lists the users currently present in the channel.
type ChatterSource interface {
	Chatters(ctx context.Context) ([]string, error)
}

// Reward is a periodic deposit to every chatter.
type Reward struct {
	// Every is the period between deposits.
	Every time.Duration
	// Amount is the amount deposited to each chatter. If it is not positive,
	// the reward is disabled.
	Amount int64
}

// Config is the economy configuration.
type Config struct {
	// Currency is the name of the currency.
	Currency string
	// Small is the frequent, silent reward.
	Small Reward
	// Big is the infrequent, announced reward.
	Big Reward
	// Timeout bounds each chatter lookup.
	Timeout time.Duration
}

// Module is the economy module.
type Module struct {
	ledger   *Ledger
	chatters ChatterSource
	cfg      Config
	now      func() time.Time
	log      *slog.Logger
	out      mailbox.Mailbox

	// loaded indicates whether the reward timers have been read from the ledger.
	loaded     bool
	small, big time.Time
}

// Option configures the module.
type Option func(*Module)

// WithClock sets the module's source of the current time.
func WithClock(now func() time.Time) Option {
	return func(m *Module) { m.now = now }
}

// WithLogger sets the module's logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Module) { m.log = log }
}

// New creates an economy module.
func New(ledger *Ledger, chatters ChatterSource, cfg Config, opts ...Option) *Module {
	if cfg.Currency == "" {
		cfg.Currency = "berries"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	m := &Module{
		ledger:   ledger,
		chatters: chatters,
		cfg:      cfg,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Module) Name() string             { return "economy" }
func (m *Module) Commands() []string       { return []string{"pay", "balance", "deposit", "depositall"} }
func (m *Module) Output() *mailbox.Mailbox { return &m.out }

const (
	smallTimer = "small"
	bigTimer   = "big"
)

// Update pays out rewards that are due. When both are due, only the big
// reward pays. Without a chatter source, there are no rewards.
func (m *Module) Update(ctx context.Context) error {
	if m.chatters == nil {
		return nil
	}
	if !m.loaded {
		if err := m.load(ctx); err != nil {
			return err
		}
	}
	now := m.now()
	switch {
	case m.cfg.Big.Amount > 0 && now.Sub(m.big) >= m.cfg.Big.Every:
		m.big = now
		if err := m.ledger.SetTimer(ctx, bigTimer, now); err != nil {
			return err
		}
		n, err := m.payout(ctx, m.cfg.Big.Amount)
		if err != nil {
			return err
		}
		m.log.InfoContext(ctx, "big reward", slog.Int("chatters", n), slog.Int64("amount", m.cfg.Big.Amount))
		m.out.Write(message.Format("Everyone has received %d %s. Thanks for your support!", m.cfg.Big.Amount, m.cfg.Currency))
	case m.cfg.Small.Amount > 0 && now.Sub(m.small) >= m.cfg.Small.Every:
		m.small = now
		if err := m.ledger.SetTimer(ctx, smallTimer, now); err != nil {
			return err
		}
		n, err := m.payout(ctx, m.cfg.Small.Amount)
		if err != nil {
			return err
		}
		m.log.DebugContext(ctx, "small reward", slog.Int("chatters", n), slog.Int64("amount", m.cfg.Small.Amount))
	}
	return nil
}

// load reads the reward timers, starting any that have never been stored.
func (m *Module) load(ctx context.Context) error {
	now := m.now()
	for _, t := range []struct {
		name string
		at   *time.Time
	}{{smallTimer, &m.small}, {bigTimer, &m.big}} {
		at, ok, err := m.ledger.Timer(ctx, t.name)
		if err != nil {
			return err
		}
		if !ok {
			at = now
			if err := m.ledger.SetTimer(ctx, t.name, at); err != nil {
				return err
			}
		}
		*t.at = at
	}
	m.loaded = true
	return nil
}

// payout deposits amount to every current chatter.
func (m *Module) payout(ctx context.Context, amount int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	users, err := m.chatters.Chatters(ctx)
	if err != nil {
		return 0, fmt.Errorf("couldn't list chatters: %w", err)
	}
	return m.ledger.DepositAll(ctx, users, amount)
}

func (m *Module) Handle(ctx context.Context, cmd *message.Command) error {
	switch cmd.Name {
	case "pay":
		return m.pay(ctx, cmd)
	case "balance":
		bal, err := m.ledger.Balance(ctx, cmd.Sender)
		if err != nil {
			return err
		}
		m.out.Write(message.Format("%s's balance is %d %s", cmd.Sender, bal, m.cfg.Currency))
	case "deposit":
		if !cmd.Privileged {
			return nil
		}
		amount, err := parseAmount(cmd.Arg(1))
		if len(cmd.Args) != 2 || err != nil {
			m.out.Write(message.Format("usage: %sdeposit <user> <amount>", cmd.Prefix))
			return nil
		}
		to := user(cmd.Arg(0))
		if err := m.ledger.Deposit(ctx, to, amount); err != nil {
			return err
		}
		m.out.Write(message.Format("%d %s has been paid to %s", amount, m.cfg.Currency, to))
	case "depositall":
		if !cmd.Privileged {
			return nil
		}
		amount, err := parseAmount(cmd.Arg(0))
		if len(cmd.Args) != 1 || err != nil {
			m.out.Write(message.Format("usage: %sdepositall <amount>", cmd.Prefix))
			return nil
		}
		n, err := m.payout(ctx, amount)
		if err != nil {
			return err
		}
		m.out.Write(message.Format("%d %s has been paid to %d chatters.", amount, m.cfg.Currency, n))
	}
	return nil
}

func (m *Module) pay(ctx context.Context, cmd *message.Command) error {
	amount, err := parseAmount(cmd.Arg(1))
	if len(cmd.Args) != 2 || err != nil {
		m.out.Write(message.Format("usage: %spay <user> <amount>", cmd.Prefix))
		return nil
	}
	to := user(cmd.Arg(0))
	err = m.ledger.Transfer(ctx, cmd.Sender, to, amount)
	switch {
	case err == nil:
		m.out.Write(message.Format("%s sent %d %s to %s", cmd.Sender, amount, m.cfg.Currency, to))
	case errors.Is(err, ErrInsufficient):
		m.out.Write(message.Format("%s doesn't have enough %s", cmd.Sender, m.cfg.Currency))
	case errors.Is(err, ErrSelf):
		m.out.Write(message.Format("%s can't pay themselves", cmd.Sender))
	default:
		return err
	}
	return nil
}

// parseAmount parses a positive whole amount.
func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, ErrAmount
	}
	return n, nil
}

// user trims the mention marker from a user argument.
func user(s string) string {
	return strings.TrimPrefix(s, "@")
}
