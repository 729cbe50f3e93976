package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ogero/stremio-webstream/internal/common"
	"github.com/ogero/stremio-webstream/pkg/addon"
	"github.com/ogero/stremio-webstream/pkg/stremio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotConnected      = errors.New("addon not connected")
	ErrNoCatalogs        = errors.New("no catalogs available")
	ErrCatalogsExhausted = errors.New("no catalog returned content")
	ErrEmptyQuery        = errors.New("empty search query")
	ErrSearchUnsupported = errors.New("search is not supported")
	ErrNoStreams         = errors.New("no streams available for this content")
)

// Options configures a Controller.
type Options struct {
	// ErrorMessageTTL is how long error messages stay visible.
	ErrorMessageTTL time.Duration
	// SuccessMessageTTL is how long success messages stay visible.
	SuccessMessageTTL time.Duration
	// Tracker receives analytics events, it may be nil.
	Tracker Tracker
}

// Controller owns the state of one client session: the addon manifest, the displayed
// content and the current video. Its operations may be invoked concurrently; shared
// state is only guarded for memory safety, overlapping operations of the same kind
// resolve as last-completed-wins.
type Controller struct {
	addon     addon.Addon
	presenter Presenter
	tracker   Tracker
	messages  *MessageLog

	// presentMu orders current video updates with their presentation.
	presentMu sync.Mutex

	mu            sync.Mutex
	manifest      *stremio.Manifest
	displayed     []stremio.MetaPreview
	current       *Video
	defaultLoaded bool
	loading       int
}

// NewController creates a session controller for the given addon and presenter.
func NewController(a addon.Addon, p Presenter, opts Options) *Controller {
	c := &Controller{
		addon:     a,
		presenter: p,
		tracker:   opts.Tracker,
	}
	c.messages = NewMessageLog(opts.ErrorMessageTTL, opts.SuccessMessageTTL, p.ShowMessage, p.RemoveMessage)
	return c
}

// Start bootstraps the session and loads the default content once connected.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.Bootstrap(ctx); err != nil {
		return err
	}
	return c.loadDefaultContentOnce(ctx)
}

// Bootstrap fetches the addon manifest. It is safe to call repeatedly, the last
// successful response wins.
func (c *Controller) Bootstrap(ctx context.Context) error {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "session.Controller.Bootstrap")
	defer span.End()

	c.presenter.SetStatus(StatusLoading, "Connecting to addon...")

	manifest, err := c.addon.GetManifest(ctx)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to addon.Addon.GetManifest", "err", err)
		span.RecordError(err)
		c.presenter.SetStatus(StatusError, "Failed to connect to addon")
		c.showError("Could not connect to the addon: %s. Please check if the service is running.", reason(err))
		return fmt.Errorf("failed to addon.Addon.GetManifest: %w", err)
	}

	c.mu.Lock()
	c.manifest = manifest
	c.mu.Unlock()

	span.SetAttributes(attribute.String("manifest.id", manifest.ID), attribute.Int("manifest.catalogs", len(manifest.Catalogs)))
	common.Log.InfoContext(ctx, "Manifest loaded", "id", manifest.ID, "version", manifest.Version, "catalogs", len(manifest.Catalogs))

	c.presenter.SetStatus(StatusSuccess, "Connected to "+addonName(manifest))
	c.showSuccess("Successfully connected to %s!", addonName(manifest))

	return nil
}

// Visible is invoked when the page regains visibility. Without a manifest it
// reconnects, and loads the default content if it never was.
func (c *Controller) Visible(ctx context.Context) error {
	if c.Manifest() != nil {
		return nil
	}
	if err := c.Bootstrap(ctx); err != nil {
		return err
	}
	return c.loadDefaultContentOnce(ctx)
}

func (c *Controller) loadDefaultContentOnce(ctx context.Context) error {
	c.mu.Lock()
	if c.defaultLoaded {
		c.mu.Unlock()
		return nil
	}
	c.defaultLoaded = true
	c.mu.Unlock()

	_, err := c.LoadDefaultContent(ctx)
	return err
}

// Manifest returns the current manifest, nil until a bootstrap succeeds.
func (c *Controller) Manifest() *stremio.Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manifest
}

// CurrentVideo returns the last resolved video, if any.
func (c *Controller) CurrentVideo() (Video, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Video{}, false
	}
	return *c.current, true
}

// DisplayedMeta finds a meta among the displayed content.
func (c *Controller) DisplayedMeta(contentType, contentID string) (stremio.MetaPreview, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, meta := range c.displayed {
		if meta.Type == contentType && meta.ID == contentID {
			return meta, true
		}
	}
	return stremio.MetaPreview{}, false
}

// Messages returns the visible transient messages, most recent first.
func (c *Controller) Messages() []Message {
	return c.messages.Messages()
}

// Close releases the session timers.
func (c *Controller) Close() {
	c.messages.Close()
}

// Closed reports whether Close was called.
func (c *Controller) Closed() bool {
	return c.messages.Closed()
}

func (c *Controller) beginLoading() {
	c.mu.Lock()
	c.loading++
	first := c.loading == 1
	c.mu.Unlock()
	if first {
		c.presenter.SetLoading(true)
	}
}

func (c *Controller) endLoading() {
	c.mu.Lock()
	c.loading--
	last := c.loading == 0
	c.mu.Unlock()
	if last {
		c.presenter.SetLoading(false)
	}
}

func (c *Controller) render(ctx context.Context, metas []stremio.MetaPreview) {
	c.mu.Lock()
	c.displayed = metas
	c.mu.Unlock()

	c.presenter.Render(metas)
	c.track(ctx, "content_displayed", map[string]any{"count": len(metas)})
}

func (c *Controller) track(ctx context.Context, event string, params map[string]any) {
	args := make([]any, 0, len(params)*2)
	for k, v := range params {
		args = append(args, k, v)
	}
	common.Log.InfoContext(ctx, "Analytics: "+event, args...)

	if c.tracker != nil {
		c.tracker.Track(ctx, event, params)
	}
}

func (c *Controller) showError(format string, a ...any) {
	c.messages.Add(MessageError, fmt.Sprintf(format, a...))
}

func (c *Controller) showSuccess(format string, a ...any) {
	c.messages.Add(MessageSuccess, fmt.Sprintf(format, a...))
}

func addonName(m *stremio.Manifest) string {
	if m.Name != "" {
		return m.Name
	}
	return "addon"
}

// reason returns the innermost error text of err, capitalized for display.
// HTTP errors are kept as "HTTP <status>: <text>".
func reason(err error) string {
	var httpErr *addon.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Error()
	}
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}
	s := strings.TrimSpace(err.Error())
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
