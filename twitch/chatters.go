package twitch

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
)

// Chatter is a user connected to a channel's chat.
type Chatter struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

// Chatters gets all users connected to a broadcaster's chat, following
// pagination until the list is exhausted. The token must belong to the
// moderator and carry the moderator:read:chatters scope.
//
// See https://dev.twitch.tv/docs/api/reference/#get-chatters.
func Chatters(ctx context.Context, client Client, tok *oauth2.Token, broadcaster, moderator string) ([]Chatter, error) {
	v := url.Values{
		"broadcaster_id": {broadcaster},
		"moderator_id":   {moderator},
		"first":          {"1000"},
	}
	var r []Chatter
	for {
		var page []Chatter
		cursor, err := reqjson(ctx, client, tok, "GET", apiurl(client, "/helix/chat/chatters", v), &page)
		if err != nil {
			return r, fmt.Errorf("couldn't get chatters: %w", err)
		}
		r = append(r, page...)
		if cursor == "" || len(page) == 0 {
			return r, nil
		}
		v.Set("after", cursor)
	}
}
