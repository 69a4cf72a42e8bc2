package economy

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/zephyrtronium/bluebot/twitch"
)

// Helix lists chatters using the Twitch API.
type Helix struct {
	// Client is the API client.
	Client twitch.Client
	// Token provides the moderator's access token.
	Token oauth2.TokenSource
	// Broadcaster is the user ID of the channel owner.
	Broadcaster string
	// Moderator is the user ID of the token's owner.
	Moderator string
}

// Chatters returns the logins of all users in the broadcaster's chat.
func (h *Helix) Chatters(ctx context.Context) ([]string, error) {
	tok, err := h.Token.Token()
	if err != nil {
		return nil, fmt.Errorf("couldn't get access token: %w", err)
	}
	cs, err := twitch.Chatters(ctx, h.Client, tok, h.Broadcaster, h.Moderator)
	if err != nil {
		return nil, err
	}
	r := make([]string, len(cs))
	for i, c := range cs {
		r[i] = c.UserLogin
	}
	return r, nil
}
