package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/bluebot/metrics"
	"github.com/zephyrtronium/bluebot/module"
	"github.com/zephyrtronium/bluebot/modules/economy"
	"github.com/zephyrtronium/bluebot/modules/ping"
	"github.com/zephyrtronium/bluebot/modules/songrequest"
	"github.com/zephyrtronium/bluebot/twitch"
)

var app = cli.Command{
	Name:  "bluebot",
	Usage: "Twitch chat bot with pluggable command modules",

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
		&flagLogFile,
	},
	Commands: []*cli.Command{
		{
			Name:   "init",
			Usage:  "Create the economy ledger without serving",
			Action: cliInit,
		},
		{
			Name:  "ancient",
			Usage: "Add balances from an old economy database to the ledger",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "db",
					Usage:    "Old economy database",
					Required: true,
				},
			},
			Action: cliAncient,
		},
	},
	Action: cliRun,

	Authors: []any{
		"Branden J Brown  @zephyrtronium",
	},
	Copyright: "Copyright 2024 Branden J Brown",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig sets up logging and loads the configuration named by the
// command's flags.
func loadConfig(ctx context.Context, cmd *cli.Command) (*Config, *toml.MetaData, error) {
	slog.SetDefault(loggerFromFlags(cmd))
	r, err := os.Open(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer r.Close()
	cfg, md, err := Load(ctx, r)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't load config: %w", err)
	}
	if cfg.Bot.Debug {
		logLevel.Set(slog.LevelDebug)
	}
	return cfg, md, nil
}

func cliInit(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	pool, _, err := openLedger(ctx, cfg.Economy.DB)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "economy ledger ready", slog.String("db", cfg.Economy.DB))
	return pool.Close()
}

func cliAncient(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	old, err := ancientOpen(cmd.String("db"))
	if err != nil {
		return fmt.Errorf("couldn't open old database: %w", err)
	}
	defer old.Close()
	pool, ledger, err := openLedger(ctx, cfg.Economy.DB)
	if err != nil {
		return err
	}
	defer pool.Close()
	n, err := ancientImport(ctx, old, ledger)
	slog.InfoContext(ctx, "imported balances", slog.Int("users", n))
	return err
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	cfg, md, err := loadConfig(ctx, cmd)
	if err != nil {
		return err
	}
	token, err := loadToken(cfg.Bot.Pass)
	if err != nil {
		return err
	}

	mods := []module.Module{new(ping.Module)}
	if md.IsDefined("economy") {
		m, pool, err := loadEconomy(ctx, cfg, token)
		if err != nil {
			return err
		}
		defer pool.Close()
		mods = append(mods, m)
	}
	if md.IsDefined("songrequest") {
		m, db, err := loadSongRequest(cfg.SongRequest)
		if err != nil {
			return err
		}
		defer db.Close()
		mods = append(mods, m)
	}
	reg := module.Register(slog.Default(), mods...)
	slog.InfoContext(ctx, "modules", slog.Any("names", reg.Names()))

	met := newMetrics()
	robo, err := New(cfg, token, reg, met)
	if err != nil {
		return err
	}
	nc, err := dial(ctx, connectConfigFrom(cfg.Server))
	if err != nil {
		return err
	}
	if err := robo.Start(ctx, nc); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// Stop the metrics server once the session ends.
		defer cancel()
		return robo.Run(ctx)
	})
	if cfg.HTTP.Listen != "" {
		group.Go(func() error {
			return api(ctx, cfg.HTTP.Listen, apiMux(robo.State, met.Collectors()))
		})
	}
	return group.Wait()
}

// loadToken reads the bot's OAuth token from a file.
func loadToken(file string) (oauth2.TokenSource, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("couldn't read bot token: %w", err)
	}
	s := strings.TrimPrefix(strings.TrimSpace(string(b)), "oauth:")
	if s == "" {
		return nil, errors.New("bot token file is empty")
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s, TokenType: "Bearer"}), nil
}

func loadEconomy(ctx context.Context, cfg *Config, token oauth2.TokenSource) (*economy.Module, *sqlitex.Pool, error) {
	pool, ledger, err := openLedger(ctx, cfg.Economy.DB)
	if err != nil {
		return nil, nil, err
	}
	ecfg := economy.Config{
		Currency: cfg.Economy.Currency,
		Small:    economy.Reward{Every: fseconds(cfg.Economy.Small.Every), Amount: cfg.Economy.Small.Amount},
		Big:      economy.Reward{Every: fseconds(cfg.Economy.Big.Every), Amount: cfg.Economy.Big.Amount},
	}
	if cfg.Economy.ClientID == "" {
		slog.WarnContext(ctx, "no client ID for economy; continuing with rewards disabled")
		return economy.New(ledger, nil, ecfg), pool, nil
	}
	h, err := helixChatters(ctx, cfg, token)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return economy.New(ledger, h, ecfg), pool, nil
}

// openLedger opens the economy database, creating its schema if needed.
func openLedger(ctx context.Context, file string) (*sqlitex.Pool, *economy.Ledger, error) {
	if file == "" {
		return nil, nil, errors.New("no economy db configured")
	}
	slog.DebugContext(ctx, "economy db", slog.String("path", file))
	pool, err := sqlitex.NewPool(file, sqlitex.PoolOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open economy db: %w", err)
	}
	if err := economy.Init(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	ledger, err := economy.Open(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("couldn't open ledger: %w", err)
	}
	return pool, ledger, nil
}

// helixChatters resolves the user IDs needed to list chatters.
// Configured IDs take precedence over looked up ones.
func helixChatters(ctx context.Context, cfg *Config, token oauth2.TokenSource) (*economy.Helix, error) {
	client := twitch.Client{
		HTTP: &http.Client{Timeout: 30 * time.Second},
		ID:   cfg.Economy.ClientID,
	}
	h := &economy.Helix{
		Client:      client,
		Token:       token,
		Broadcaster: cfg.Economy.BroadcasterID,
		Moderator:   cfg.Economy.ModeratorID,
	}
	if h.Broadcaster != "" && h.Moderator != "" {
		return h, nil
	}
	tok, err := token.Token()
	if err != nil {
		return nil, fmt.Errorf("couldn't obtain Twitch access token: %w", err)
	}
	owner := cfg.Bot.Owner
	if owner == "" {
		owner = cfg.Bot.Channel
	}
	id, err := twitch.Identify(ctx, client, tok, owner)
	if err != nil {
		return nil, fmt.Errorf("couldn't identify Twitch users: %w", err)
	}
	slog.InfoContext(ctx, "Twitch identity",
		slog.String("login", id.Login),
		slog.String("moderator", id.Moderator),
		slog.String("broadcaster", id.Broadcaster),
	)
	if h.Broadcaster == "" {
		h.Broadcaster = id.Broadcaster
	}
	if h.Moderator == "" {
		h.Moderator = id.Moderator
	}
	return h, nil
}

func loadSongRequest(cfg SongRequestCfg) (*songrequest.Module, *badger.DB, error) {
	opts := badger.DefaultOptions(cfg.DB)
	if cfg.DB == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open song request db: %w", err)
	}
	q, err := songrequest.OpenQueue(db, cfg.Limit)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	sopts := []songrequest.Option{
		songrequest.WithResolver(&songrequest.OEmbed{HTTP: &http.Client{Timeout: 10 * time.Second}}),
	}
	if len(cfg.Player) > 0 {
		sopts = append(sopts, songrequest.WithPlayer(&songrequest.Exec{Command: cfg.Player}))
	}
	return songrequest.New(q, sopts...), db, nil
}

var (
	flagConfig = cli.StringFlag{
		Name:       "config",
		Required:   true,
		Usage:      "TOML config file",
		Persistent: true,
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, either text or json",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}

	flagLogFile = cli.StringFlag{
		Name:       "log-file",
		Usage:      "Write logs to a rotated file instead of stderr",
		Persistent: true,
	}
)

// logLevel is the level of the default logger.
var logLevel slog.LevelVar

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	logLevel.Set(l)
	var w io.Writer = os.Stderr
	if f := cmd.String("log-file"); f != "" {
		w = &lumberjack.Logger{
			Filename:   f,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	var h slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "text":
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: &logLevel})
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: &logLevel})
	}
	return slog.New(h)
}

// metrics configuration
func newMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		InboundCount: metrics.Counter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "bluebot",
					Subsystem: "tmi",
					Name:      "lines_total",
					Help:      "Number of lines received from the chat server.",
				},
			),
		),
		CommandCount: metrics.Counter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "bluebot",
					Subsystem: "tmi",
					Name:      "commands_total",
					Help:      "Number of command invocations dispatched to modules.",
				},
			),
		),
		FaultCount: metrics.CounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "bluebot",
					Subsystem: "modules",
					Name:      "faults_total",
					Help:      "Number of failed module updates and handlers.",
				},
				[]string{"module", "op"},
			),
		),
		SentCount: metrics.Counter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "bluebot",
					Subsystem: "gate",
					Name:      "sent_total",
					Help:      "Number of chat messages sent.",
				},
			),
		),
		DroppedCount: metrics.Counter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "bluebot",
					Subsystem: "gate",
					Name:      "dropped_total",
					Help:      "Number of module outputs dropped by the rate limit or block expression.",
				},
			),
		),
		KeepAliveCount: metrics.Counter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "bluebot",
					Subsystem: "gate",
					Name:      "keepalives_total",
					Help:      "Number of keep-alive replies sent.",
				},
			),
		),
		RefreshCount: metrics.Counter(
			prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: "bluebot",
					Subsystem: "privilege",
					Name:      "refreshes_total",
					Help:      "Number of moderator list queries sent.",
				},
			),
		),
		PrivilegedUsers: metrics.Gauge(
			prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: "bluebot",
					Subsystem: "privilege",
					Name:      "users",
					Help:      "Size of the most recent privileged set.",
				},
			),
		),
		TickLatency: metrics.Histogram(
			prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
					Namespace: "bluebot",
					Subsystem: "loop",
					Name:      "tick_latency_seconds",
					Help:      "How long each tick takes in seconds.",
				},
			),
		),
	}
}
