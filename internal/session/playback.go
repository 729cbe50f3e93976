package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/ogero/stremio-webstream/internal/common"
	"github.com/ogero/stremio-webstream/pkg/stremio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var qualityRanks = map[string]int{
	"1080p": 4,
	"720p":  3,
	"480p":  2,
	"360p":  1,
}

// QualityRank ranks a stream quality label, unknown and empty labels rank 0.
func QualityRank(label string) int {
	return qualityRanks[label]
}

// SelectStream returns the highest ranked stream, keeping the addon order between
// streams of the same rank.
func SelectStream(streams []stremio.Stream) (stremio.Stream, bool) {
	if len(streams) == 0 {
		return stremio.Stream{}, false
	}
	sorted := slices.Clone(streams)
	slices.SortStableFunc(sorted, func(a, b stremio.Stream) int {
		return QualityRank(b.Name) - QualityRank(a.Name)
	})
	return sorted[0], true
}

// Play resolves the best stream of meta and hands it to the presenter. On failure the
// current video is left untouched.
func (c *Controller) Play(ctx context.Context, meta stremio.MetaPreview) error {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "session.Controller.Play")
	defer span.End()
	span.SetAttributes(attribute.String("content.type", meta.Type), attribute.String("content.id", meta.ID))

	c.beginLoading()
	defer c.endLoading()

	c.track(ctx, "play_attempt", map[string]any{"content": meta.Name, "type": meta.Type})

	common.Log.DebugContext(ctx, "Fetching streams", "type", meta.Type, "id", meta.ID)

	streams, err := c.addon.GetStreams(ctx, meta.Type, meta.ID)
	if err != nil {
		err = fmt.Errorf("failed to addon.Addon.GetStreams: %w", err)
	} else if len(streams) == 0 {
		err = ErrNoStreams
	}
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to resolve stream", "type", meta.Type, "id", meta.ID, "err", err)
		span.RecordError(err)
		common.PlayAttemptsTotalIncr(ctx, "error")
		c.showError("Failed to load video stream: %s. The content might be temporarily unavailable.", reason(err))
		c.track(ctx, "play_error", map[string]any{"content": meta.Name, "error": err.Error()})
		return err
	}

	best, _ := SelectStream(streams)
	span.SetAttributes(attribute.String("stream.quality", best.Name), attribute.Int("streams.count", len(streams)))

	c.presentVideo(best, meta)

	common.PlayAttemptsTotalIncr(ctx, "success")
	c.track(ctx, "play_success", map[string]any{"content": meta.Name, "quality": best.Name})

	return nil
}

// presentVideo overwrites the current video and asks the presenter to start it. The
// presenter always ends up showing the current video.
func (c *Controller) presentVideo(stream stremio.Stream, meta stremio.MetaPreview) {
	c.presentMu.Lock()
	defer c.presentMu.Unlock()

	c.mu.Lock()
	description := meta.Description
	if description == "" {
		name := "the addon"
		if c.manifest != nil && c.manifest.Name != "" {
			name = c.manifest.Name
		}
		description = "Streaming via " + name
	}
	video := Video{
		URL:         stream.URL,
		Title:       meta.Name,
		Description: description,
		Quality:     stream.Name,
		Meta:        meta,
	}
	c.current = &video
	c.mu.Unlock()

	c.presenter.PresentVideo(video)
}

// PlaybackStarted is reported by the host once the player started url. Reports for a
// video that is no longer current are ignored.
func (c *Controller) PlaybackStarted(ctx context.Context, url string) {
	video, ok := c.CurrentVideo()
	if !ok || video.URL != url {
		common.Log.DebugContext(ctx, "Ignoring playback start of a stale video", "url", url)
		return
	}
	c.showSuccess("Now playing: %s", video.Title)
}

// PlaybackRejected is reported by the host when it refused to start playback on its own,
// e.g. because of an autoplay policy. It is a hint, not a resolution failure.
func (c *Controller) PlaybackRejected(ctx context.Context, detail string) {
	common.Log.InfoContext(ctx, "Playback start rejected by host", "detail", detail)
	c.showError("Unable to play video automatically. Please click the play button manually.")
}

// PlaybackEnded is reported by the host when the current video finished.
func (c *Controller) PlaybackEnded(ctx context.Context) {
	c.showSuccess("Video playback completed!")
}

// Media error codes reported by the host player.
const (
	MediaErrAborted         = 1
	MediaErrNetwork         = 2
	MediaErrDecode          = 3
	MediaErrSrcNotSupported = 4
)

// PlaybackFailed is reported by the host when the player failed with a media error code.
func (c *Controller) PlaybackFailed(ctx context.Context, code int) {
	msg := "Video playback error."
	switch code {
	case MediaErrAborted:
		msg = "Video playback was aborted."
	case MediaErrNetwork:
		msg = "Network error occurred while loading video."
	case MediaErrDecode:
		msg = "Video format is not supported."
	case MediaErrSrcNotSupported:
		msg = "Video source is not available or supported."
	}
	common.Log.WarnContext(ctx, "Playback failed", "code", code)
	c.showError("%s The stream might be temporarily unavailable.", msg)
}
