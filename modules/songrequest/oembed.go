package songrequest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-json-experiment/json"
)

// Resolver looks up the titles of videos.
type Resolver interface {
	// Title returns the title of a video. If the video does not exist or is
	// not embeddable, the error is ErrNotVideo.
	Title(ctx context.Context, video string) (string, error)
}

// OEmbed resolves titles using YouTube's oEmbed endpoint.
type OEmbed struct {
	// HTTP is the HTTP client for requests. If nil, http.DefaultClient is used.
	HTTP *http.Client
	// Endpoint is the oEmbed URL. If empty, YouTube's endpoint is used.
	Endpoint string
}

func (o *OEmbed) Title(ctx context.Context, video string) (string, error) {
	ep := o.Endpoint
	if ep == "" {
		ep = "https://www.youtube.com/oembed"
	}
	m := Media{Video: video}
	v := url.Values{"url": {m.URL()}, "format": {"json"}}
	req, err := http.NewRequestWithContext(ctx, "GET", ep+"?"+v.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("couldn't make oEmbed request: %w", err)
	}
	hc := o.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("couldn't get oEmbed for %s: %w", video, err)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("couldn't read oEmbed response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK: // do nothing
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return "", ErrNotVideo
	default:
		return "", fmt.Errorf("oEmbed request failed: %s (%s)", b, resp.Status)
	}
	var r struct {
		Title  string `json:"title"`
		Author string `json:"author_name"`
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return "", fmt.Errorf("couldn't decode oEmbed response: %w", err)
	}
	return r.Title, nil
}
