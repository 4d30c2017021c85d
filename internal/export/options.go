package export

import (
	"fmt"
	"strings"
)

// Options are the explicit encoding inputs for one export invocation. Unset
// values fall back to 1080p / 8000 kbps / 30 fps / h264.
type Options struct {
	Resolution      string
	BitrateKbps     int
	FPS             int
	Codec           string
	OutputDirectory string
	FileBaseName    string
	EnableCaptions  bool
	EnableCredits   bool
}

// Normalize fills defaults and validates the recognized option values.
func (o Options) Normalize() (Options, error) {
	if strings.TrimSpace(o.Resolution) == "" {
		o.Resolution = "1080p"
	}
	if o.BitrateKbps == 0 {
		o.BitrateKbps = 8000
	}
	if o.FPS == 0 {
		o.FPS = 30
	}
	if strings.TrimSpace(o.Codec) == "" {
		o.Codec = "h264"
	}
	if strings.TrimSpace(o.FileBaseName) == "" {
		o.FileBaseName = "export"
	}

	switch strings.ToLower(o.Resolution) {
	case "480p", "720p", "1080p":
	default:
		return o, fmt.Errorf("unknown resolution %q", o.Resolution)
	}
	switch strings.ToLower(o.Codec) {
	case "h264", "h265":
	default:
		return o, fmt.Errorf("unknown codec %q", o.Codec)
	}
	if o.BitrateKbps < 0 || o.FPS < 0 {
		return o, fmt.Errorf("bitrate and fps must be positive")
	}
	return o, nil
}

// Dimensions maps the resolution name to pixel width and height.
func (o Options) Dimensions() (int, int) {
	switch strings.ToLower(strings.TrimSpace(o.Resolution)) {
	case "480p":
		return 854, 480
	case "720p":
		return 1280, 720
	default:
		return 1920, 1080
	}
}
