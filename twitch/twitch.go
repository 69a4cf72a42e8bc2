// Package twitch provides the parts of the Twitch Helix API the bot uses.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-json-experiment/json"
	"golang.org/x/oauth2"
)

// Client holds the context for requests to the Twitch API.
type Client struct {
	// HTTP is the HTTP client for performing requests.
	// If nil, http.DefaultClient is used.
	HTTP *http.Client
	// ID is the application's client ID.
	ID string
	// Base is the API base URL. If empty, https://api.twitch.tv/ is used.
	Base string
}

// reqjson performs an API request and decodes the response's data as JSON.
// The result is the pagination cursor for the next page, if any.
func reqjson[Resp any](ctx context.Context, client Client, tok *oauth2.Token, method, url string, u *Resp) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return "", fmt.Errorf("couldn't make request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Client-Id", client.ID)
	b, err := fetch(client, req)
	if err != nil {
		return "", err
	}
	r := struct {
		Data       *Resp `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}{Data: u}
	if err := json.Unmarshal(b, &r); err != nil {
		return "", fmt.Errorf("couldn't decode JSON response: %w", err)
	}
	return r.Pagination.Cursor, nil
}

// fetch performs a request and returns the body of a successful response.
// The body is truncated to 2 MB.
func fetch(client Client, req *http.Request) ([]byte, error) {
	hc := client.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("couldn't %s: %w", req.Method, err)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("couldn't read response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return b, nil
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("request failed: %s (%w)", b, ErrNeedRefresh)
	default:
		return nil, fmt.Errorf("request failed: %s (%s)", b, resp.Status)
	}
}

// ErrNeedRefresh is an error indicating that the access token is no longer
// accepted. It must be checked using [errors.Is].
var ErrNeedRefresh = errors.New("need refresh")

// apiurl creates an API URL for the given endpoint and with the given URL
// parameters.
func apiurl(client Client, ep string, values url.Values) string {
	base := client.Base
	if base == "" {
		base = "https://api.twitch.tv/"
	}
	u, err := url.JoinPath(base, ep)
	if err != nil {
		panic("twitch: bad url join with " + ep)
	}
	if len(values) == 0 {
		return u
	}
	return u + "?" + values.Encode()
}
