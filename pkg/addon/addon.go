package addon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ogero/stremio-webstream/pkg/stremio"
	"github.com/ogero/stremio-webstream/pkg/transport"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxResponseSize bounds the body of any addon response.
const maxResponseSize = 16 << 20

var (
	// ErrEmptyCatalog is returned when a catalog responds successfully but without metas.
	ErrEmptyCatalog = errors.New("no content available in this catalog")
	// ErrResponseTooLarge is returned when an addon response exceeds the size limit.
	ErrResponseTooLarge = errors.New("addon response too large")
)

// HTTPError is returned when the addon answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	StatusText string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.StatusText)
}

// Addon defines the methods to interact with a remote Stremio addon.
type Addon interface {
	// GetManifest fetches the addon manifest.
	GetManifest(ctx context.Context) (*stremio.Manifest, error)
	// GetCatalog fetches the metas of a catalog. Extra parameters are sent as a query string.
	// It fails with ErrEmptyCatalog when the catalog has no metas.
	GetCatalog(ctx context.Context, contentType, catalogID string, extra url.Values) ([]stremio.MetaPreview, error)
	// GetStreams fetches the streams available for a content item.
	GetStreams(ctx context.Context, contentType, contentID string) ([]stremio.Stream, error)
}

type addon struct {
	httpClient *http.Client
	baseURL    string
}

// NewAddon creates a new client for the addon hosted at baseURL.
// A zero timeout leaves requests bounded only by the transport defaults.
func NewAddon(baseURL string, timeout time.Duration) Addon {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxConnsPerHost = 100
	t.MaxIdleConnsPerHost = 100

	rt := transport.NewModifyHeadersRoundTripper(otelhttp.NewTransport(t),
		transport.WithAccept("application/json"),
		transport.WithUserAgent("stremio-webstream"),
	)

	return &addon{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: rt,
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// GetManifest fetches the addon manifest.
func (a *addon) GetManifest(ctx context.Context) (*stremio.Manifest, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "addon.Addon.GetManifest")
	defer span.End()

	manifest := &stremio.Manifest{}
	if err := a.getJSON(ctx, a.baseURL+"/manifest.json", manifest); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("manifest.catalogs", len(manifest.Catalogs)))

	return manifest, nil
}

// GetCatalog fetches the metas of a catalog.
func (a *addon) GetCatalog(ctx context.Context, contentType, catalogID string, extra url.Values) ([]stremio.MetaPreview, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "addon.Addon.GetCatalog")
	defer span.End()
	span.SetAttributes(
		attribute.String("catalog.type", contentType),
		attribute.String("catalog.id", catalogID),
	)

	u := fmt.Sprintf("%s/catalog/%s/%s", a.baseURL, url.PathEscape(contentType), url.PathEscape(catalogID))
	if q := extra.Encode(); q != "" {
		u += "?" + q
	}

	var response stremio.CatalogResponse
	if err := a.getJSON(ctx, u, &response); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(response.Metas) == 0 {
		span.RecordError(ErrEmptyCatalog)
		return nil, ErrEmptyCatalog
	}
	span.SetAttributes(attribute.Int("catalog.metas", len(response.Metas)))

	return response.Metas, nil
}

// GetStreams fetches the streams available for a content item.
func (a *addon) GetStreams(ctx context.Context, contentType, contentID string) ([]stremio.Stream, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "addon.Addon.GetStreams")
	defer span.End()
	span.SetAttributes(
		attribute.String("content.type", contentType),
		attribute.String("content.id", contentID),
	)

	u := fmt.Sprintf("%s/stream/%s/%s.json", a.baseURL, url.PathEscape(contentType), url.PathEscape(contentID))

	var response stremio.StreamsResponse
	if err := a.getJSON(ctx, u, &response); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("streams.count", len(response.Streams)))

	return response.Streams, nil
}

func (a *addon) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}

	res, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &HTTPError{StatusCode: res.StatusCode, StatusText: reasonPhrase(res)}
	}

	err = json.NewDecoder(newLimitedReader(res.Body, maxResponseSize)).Decode(v)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return ErrResponseTooLarge
		}
		return fmt.Errorf("failed to json.Decoder.Decode: %w", err)
	}

	return nil
}

// reasonPhrase returns the status text sent by the server, falling back to the standard one.
func reasonPhrase(res *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode)))
	if text == "" {
		text = http.StatusText(res.StatusCode)
	}
	return text
}
