package songrequest

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotVideo is the error for locations which do not name a YouTube video.
var ErrNotVideo = errors.New("not a YouTube video")

// Media is a queued media request.
type Media struct {
	// ID identifies the request. IDs of later requests sort after earlier ones.
	ID uuid.UUID `json:"id"`
	// Video is the YouTube video ID.
	Video string `json:"video"`
	// Title is the video title, if known.
	Title string `json:"title,omitempty"`
	// Requester is the user who requested the media.
	Requester string `json:"requester"`
	// Requested is the time at which the request was made.
	Requested time.Time `json:"requested"`
}

// URL returns the watch URL of the media.
func (m *Media) URL() string {
	return "https://www.youtube.com/watch?v=" + m.Video
}

// Name returns the title of the media, or its URL if the title is unknown.
func (m *Media) Name() string {
	if m.Title != "" {
		return m.Title
	}
	return m.URL()
}

var videoID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ParseVideo extracts a YouTube video ID from a bare ID or a YouTube URL.
func ParseVideo(loc string) (string, error) {
	loc = strings.Trim(loc, "<>")
	if videoID.MatchString(loc) {
		return loc, nil
	}
	if !strings.Contains(loc, "://") {
		loc = "https://" + loc
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", ErrNotVideo
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	var id string
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/embed/"), strings.HasPrefix(u.Path, "/live/"):
			id = u.Path[strings.LastIndexByte(u.Path, '/')+1:]
		}
	case "youtu.be":
		id = strings.TrimPrefix(u.Path, "/")
	}
	if !videoID.MatchString(id) {
		return "", ErrNotVideo
	}
	return id, nil
}
