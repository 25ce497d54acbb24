package video

import (
	"errors"
	"regexp"
	"strings"
)

// Platform constants.
const (
	PlatformVimeo   = "vimeo"
	PlatformYouTube = "youtube"
)

// ErrUnsupportedURL is returned for links that are neither Vimeo nor YouTube.
var ErrUnsupportedURL = errors.New("video URL must be a Vimeo or YouTube link")

var (
	vimeoPattern   = regexp.MustCompile(`vimeo\.com/(?:video/)?(\d+)`)
	youtubePattern = regexp.MustCompile(`(?:youtube\.com/(?:watch\?v=|embed/)|youtu\.be/)([a-zA-Z0-9_-]+)`)
)

// Ref is a normalized video reference.
type Ref struct {
	Platform string
	ID       string
}

// Parse extracts the platform and external id from a share, watch or embed link.
// PRE: none
// POST: Returns a Ref with a non-empty ID, or ErrUnsupportedURL
func Parse(rawURL string) (Ref, error) {
	u := strings.TrimSpace(rawURL)
	if m := vimeoPattern.FindStringSubmatch(u); m != nil {
		return Ref{Platform: PlatformVimeo, ID: m[1]}, nil
	}
	if m := youtubePattern.FindStringSubmatch(u); m != nil {
		return Ref{Platform: PlatformYouTube, ID: m[1]}, nil
	}
	return Ref{}, ErrUnsupportedURL
}

// EmbedURL returns the player URL for the reference, or "" for unknown platforms.
func (r Ref) EmbedURL() string {
	switch r.Platform {
	case PlatformVimeo:
		return "https://player.vimeo.com/video/" + r.ID
	case PlatformYouTube:
		return "https://www.youtube.com/embed/" + r.ID
	}
	return ""
}
