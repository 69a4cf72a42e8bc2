package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Load loads bluebot's configuration from TOML.
// Unset fields take their default values.
func Load(ctx context.Context, r io.Reader) (*Config, *toml.MetaData, error) {
	cfg := defaults()
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	expandcfg(cfg, os.Getenv)
	if err := validator.New().StructCtx(ctx, cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := regexp.Compile(cfg.Bot.Block); err != nil {
		return nil, nil, fmt.Errorf("bad block expression: %w", err)
	}
	return cfg, &md, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerCfg{
			Addr:      "irc.chat.twitch.tv:6697",
			Transport: "tls",
			URL:       "wss://irc-ws.chat.twitch.tv:443",
			Timeout:   360,
			Handshake: 10,
			Join:      5,
			Retries:   []float64{1, 5, 15},
		},
		Bot: BotCfg{
			Prefix:       "!",
			Capabilities: []string{"twitch.tv/commands", "twitch.tv/tags"},
		},
		Rate: RateCfg{
			Privileged:   Rate{Every: 30, Num: 100},
			Unprivileged: Rate{Every: 30, Num: 20},
		},
		Tick: TickCfg{
			Every:   0.1,
			Refresh: 40,
		},
		Economy: EconomyCfg{
			Currency: "berries",
			Small:    RewardCfg{Every: 300, Amount: 10},
			Big:      RewardCfg{Every: 3600, Amount: 50},
		},
		SongRequest: SongRequestCfg{
			Limit: 50,
		},
	}
}

// Config is the marshaled structure of bluebot's configuration.
type Config struct {
	// Server is the chat server connection configuration.
	Server ServerCfg `toml:"server"`
	// Bot is the bot's identity and channel.
	Bot BotCfg `toml:"bot"`
	// Rate is the outbound rate limit for each tier.
	Rate RateCfg `toml:"rate"`
	// Tick is the loop cadence.
	Tick TickCfg `toml:"tick"`
	// HTTP is the metrics server configuration.
	HTTP HTTPCfg `toml:"http"`
	// Economy configures the economy module. If the table is absent, the
	// module is disabled.
	Economy EconomyCfg `toml:"economy"`
	// SongRequest configures the song request module. If the table is
	// absent, the module is disabled.
	SongRequest SongRequestCfg `toml:"songrequest"`
}

// ServerCfg is the configuration for connecting to the chat server.
type ServerCfg struct {
	// Addr is the host:port of the server for tcp and tls transports.
	Addr string `toml:"addr" validate:"required,hostname_port"`
	// Transport is one of tcp, tls, or websocket.
	Transport string `toml:"transport" validate:"oneof=tcp tls websocket"`
	// URL is the server URL for the websocket transport.
	URL string `toml:"url" validate:"omitempty,url"`
	// Timeout is the read and write deadline in seconds.
	Timeout float64 `toml:"timeout" validate:"gt=0"`
	// Handshake is the time in seconds to wait for the server's welcome.
	Handshake float64 `toml:"handshake" validate:"gt=0"`
	// Join is the time in seconds to wait for the end of the names list
	// after joining. The bot proceeds anyway once it elapses.
	Join float64 `toml:"join" validate:"gte=0"`
	// Retries is the list of waits in seconds between dial attempts.
	Retries []float64 `toml:"retries" validate:"dive,gte=0"`
}

// BotCfg is the bot's identity.
type BotCfg struct {
	// Name is the bot's username.
	Name string `toml:"name" validate:"required"`
	// Pass is the path to a file containing the bot's OAuth token.
	Pass string `toml:"pass" validate:"required"`
	// Channel is the channel to join, without the leading #.
	Channel string `toml:"channel" validate:"required,excludes=#"`
	// Owner is the username of the channel owner. If empty, the channel name
	// is used.
	Owner string `toml:"owner"`
	// Prefix is the command prefix. It may be empty.
	Prefix string `toml:"prefix"`
	// Debug enables debug logging regardless of the log level flag.
	Debug bool `toml:"debug"`
	// Capabilities is the list of capabilities to request after joining.
	Capabilities []string `toml:"capabilities"`
	// Announce is the set of join announcements with their weights.
	Announce map[string]int `toml:"announce" validate:"dive,gte=0"`
	// Block is a regular expression of chat text that must never be sent.
	Block string `toml:"block"`
}

// RateCfg is the rate limit of each tier.
type RateCfg struct {
	Privileged   Rate `toml:"privileged"`
	Unprivileged Rate `toml:"unprivileged"`
}

// Rate is a rate limit configuration.
type Rate struct {
	Every float64 `toml:"every" validate:"gt=0"`
	Num   int     `toml:"num" validate:"gt=0"`
}

// Interval is the minimum time between actions under the rate limit.
func (r Rate) Interval() time.Duration {
	return fseconds(r.Every / float64(r.Num))
}

// TickCfg is the loop cadence.
type TickCfg struct {
	// Every is the time in seconds between ticks without inbound lines.
	Every float64 `toml:"every" validate:"gt=0"`
	// Refresh is the time in seconds between privileged list queries.
	Refresh float64 `toml:"refresh" validate:"gt=0"`
}

// HTTPCfg is the metrics server configuration.
type HTTPCfg struct {
	// Listen is the address on which to serve metrics. If empty, there is no
	// metrics server.
	Listen string `toml:"listen"`
}

// EconomyCfg is the economy module configuration.
type EconomyCfg struct {
	// DB is the SQLite DSN of the ledger.
	DB string `toml:"db"`
	// Currency is the name of the currency.
	Currency string `toml:"currency"`
	// Small is the frequent, silent reward.
	Small RewardCfg `toml:"small"`
	// Big is the infrequent, announced reward.
	Big RewardCfg `toml:"big"`
	// ClientID is the Twitch application client ID for listing chatters.
	// If empty, rewards are disabled.
	ClientID string `toml:"client_id"`
	// BroadcasterID is the user ID of the channel owner. If empty, it is
	// looked up from the owner's name.
	BroadcasterID string `toml:"broadcaster_id"`
	// ModeratorID is the user ID of the token's owner. If empty, it is
	// obtained by validating the token.
	ModeratorID string `toml:"moderator_id"`
}

// RewardCfg is a periodic deposit configuration.
type RewardCfg struct {
	Every  float64 `toml:"every" validate:"gte=0"`
	Amount int64   `toml:"amount" validate:"gte=0"`
}

// SongRequestCfg is the song request module configuration.
type SongRequestCfg struct {
	// DB is the badger directory of the queue. If empty, the queue is held
	// in memory.
	DB string `toml:"db"`
	// Limit is the capacity of the queue.
	Limit int `toml:"limit" validate:"gte=0"`
	// Player is the playback command, to which media URLs are appended.
	// If empty, songs leave the queue only by skip.
	Player []string `toml:"player"`
}

func fseconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func fsecondsList(s []float64) []time.Duration {
	r := make([]time.Duration, len(s))
	for i, v := range s {
		r[i] = fseconds(v)
	}
	return r
}

func expandcfg(cfg *Config, expand func(s string) string) {
	fields := []*string{
		&cfg.Server.Addr,
		&cfg.Server.URL,
		&cfg.Bot.Name,
		&cfg.Bot.Pass,
		&cfg.Bot.Channel,
		&cfg.Bot.Owner,
		&cfg.Economy.DB,
		&cfg.Economy.ClientID,
		&cfg.Economy.BroadcasterID,
		&cfg.Economy.ModeratorID,
		&cfg.SongRequest.DB,
	}
	for _, f := range fields {
		*f = os.Expand(*f, expand)
	}
	for i, s := range cfg.SongRequest.Player {
		cfg.SongRequest.Player[i] = os.Expand(s, expand)
	}
}
