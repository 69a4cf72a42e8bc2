package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"github.com/go-json-experiment/json"
	"golang.org/x/oauth2"
)

// ChattersScope is the scope a token needs to list chatters.
const ChattersScope = "moderator:read:chatters"

// ErrScope means an access token lacks a scope the bot needs.
var ErrScope = errors.New("token is missing a scope")

// validateURL is the token validation endpoint.
var validateURL = "https://id.twitch.tv/oauth2/validate"

// Identity holds the user IDs involved in listing a channel's chatters.
type Identity struct {
	// Login is the login of the token's owner.
	Login string
	// Moderator is the user ID of the token's owner.
	Moderator string
	// Broadcaster is the user ID of the channel owner.
	Broadcaster string
}

// Identify checks that tok may list chatters and resolves the user IDs of
// its owner and of the channel owner with the login owner.
func Identify(ctx context.Context, client Client, tok *oauth2.Token, owner string) (*Identity, error) {
	v, err := validate(ctx, client, tok)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(v.Scopes, ChattersScope) {
		return nil, fmt.Errorf("%w: %s", ErrScope, ChattersScope)
	}
	id, err := userID(ctx, client, tok, owner)
	if err != nil {
		return nil, err
	}
	return &Identity{Login: v.Login, Moderator: v.UserID, Broadcaster: id}, nil
}

// validation is the response from the token validation endpoint.
// See https://dev.twitch.tv/docs/authentication/validate-tokens/.
type validation struct {
	Login  string   `json:"login"`
	Scopes []string `json:"scopes"`
	UserID string   `json:"user_id"`
}

func validate(ctx context.Context, client Client, tok *oauth2.Token) (*validation, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", validateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't make validate request: %w", err)
	}
	// The validation endpoint uses its own authorization scheme.
	req.Header.Set("Authorization", "OAuth "+tok.AccessToken)
	b, err := fetch(client, req)
	if err != nil {
		return nil, fmt.Errorf("couldn't validate access token: %w", err)
	}
	var v validation
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("couldn't decode token validation: %w", err)
	}
	return &v, nil
}

// userID gets the user ID of a login.
// See https://dev.twitch.tv/docs/api/reference/#get-users.
func userID(ctx context.Context, client Client, tok *oauth2.Token, login string) (string, error) {
	var u []struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	}
	_, err := reqjson(ctx, client, tok, "GET", apiurl(client, "/helix/users", url.Values{"login": {login}}), &u)
	if err != nil {
		return "", fmt.Errorf("couldn't look up user %s: %w", login, err)
	}
	if len(u) == 0 {
		return "", fmt.Errorf("no user %s", login)
	}
	return u[0].ID, nil
}
