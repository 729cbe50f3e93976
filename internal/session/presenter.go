package session

import (
	"context"

	"github.com/ogero/stremio-webstream/pkg/stremio"
)

// Status is the connection status shown by the status indicator.
type Status string

const (
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Video is the video handed to the presenter after a successful playback resolution.
type Video struct {
	URL         string              `json:"url"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Quality     string              `json:"quality,omitempty"`
	Meta        stremio.MetaPreview `json:"meta"`
}

// Presenter is the presentation capability a UI layer implements to display a session.
// Calls may arrive from concurrent operations of the same session.
type Presenter interface {
	// Render replaces the displayed grid with metas.
	Render(metas []stremio.MetaPreview)
	// SetStatus updates the connection status indicator.
	SetStatus(status Status, text string)
	// SetLoading shows or hides the loading indicator.
	SetLoading(loading bool)
	// ShowMessage prepends a transient message.
	ShowMessage(msg Message)
	// RemoveMessage removes a previously shown message.
	RemoveMessage(id string)
	// PresentVideo sets the player source, title and description, reveals and scrolls to
	// the player and requests playback start. The outcome of the playback start is
	// reported back through Controller.PlaybackStarted or Controller.PlaybackRejected.
	PresentVideo(video Video)
}

// Tracker receives fire-and-forget analytics events.
type Tracker interface {
	Track(ctx context.Context, event string, params map[string]any)
}

// Trackers fans out events to every non-nil tracker.
type Trackers []Tracker

// Track implements Tracker.
func (ts Trackers) Track(ctx context.Context, event string, params map[string]any) {
	for _, t := range ts {
		if t != nil {
			t.Track(ctx, event, params)
		}
	}
}
