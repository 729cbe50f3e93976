package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ogero/stremio-webstream/internal/common"
	"github.com/ogero/stremio-webstream/pkg/addon"
	"github.com/ogero/stremio-webstream/pkg/stremio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AttemptOutcome is the result of loading one catalog during the default content fallback.
type AttemptOutcome string

const (
	AttemptLoaded AttemptOutcome = "loaded"
	AttemptEmpty  AttemptOutcome = "empty"
	AttemptFailed AttemptOutcome = "failed"
)

// CatalogAttempt records one catalog tried by LoadDefaultContent.
type CatalogAttempt struct {
	Catalog stremio.CatalogItem
	Outcome AttemptOutcome
	Err     error
}

// LoadDefaultContent walks the manifest catalogs in order and displays the first one
// returning content. Failed and empty catalogs are skipped; an error is surfaced only
// when there is no catalog or none of them returned content.
func (c *Controller) LoadDefaultContent(ctx context.Context) ([]CatalogAttempt, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "session.Controller.LoadDefaultContent")
	defer span.End()

	manifest := c.Manifest()
	if manifest == nil || len(manifest.Catalogs) == 0 {
		span.RecordError(ErrNoCatalogs)
		c.showError("No catalogs available from the addon.")
		return nil, ErrNoCatalogs
	}

	c.beginLoading()
	defer c.endLoading()

	attempts := make([]CatalogAttempt, 0, len(manifest.Catalogs))
	for _, catalog := range manifest.Catalogs {
		attempt := CatalogAttempt{Catalog: catalog, Outcome: AttemptLoaded}

		err := c.LoadCatalog(ctx, catalog.Type, catalog.ID, nil)
		switch {
		case err == nil:
			attempts = append(attempts, attempt)
			span.SetAttributes(attribute.String("catalog.id", catalog.ID), attribute.Int("catalog.attempts", len(attempts)))
			return attempts, nil
		case errors.Is(err, addon.ErrEmptyCatalog):
			attempt.Outcome = AttemptEmpty
		default:
			attempt.Outcome = AttemptFailed
		}
		attempt.Err = err
		attempts = append(attempts, attempt)

		common.Log.WarnContext(ctx, "Failed to load catalog, trying next", "type", catalog.Type, "id", catalog.ID, "outcome", attempt.Outcome, "err", err)
	}

	lastErr := attempts[len(attempts)-1].Err
	span.RecordError(lastErr)
	c.showError("Failed to load content from the addon: %s. The service might be temporarily unavailable.", reason(lastErr))

	return attempts, fmt.Errorf("%w: %d catalogs tried: %w", ErrCatalogsExhausted, len(attempts), lastErr)
}

// LoadCatalog queries one catalog and, when it returns content, replaces the displayed
// grid with it. Empty catalogs fail with addon.ErrEmptyCatalog.
func (c *Controller) LoadCatalog(ctx context.Context, contentType, catalogID string, extra url.Values) error {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "session.Controller.LoadCatalog")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.type", contentType), attribute.String("catalog.id", catalogID))

	common.Log.DebugContext(ctx, "Loading catalog", "type", contentType, "id", catalogID, "extra", extra.Encode())

	metas, err := c.addon.GetCatalog(ctx, contentType, catalogID, extra)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, addon.ErrEmptyCatalog) {
			common.CatalogRequestsTotalIncr(ctx, string(AttemptEmpty))
		} else {
			common.CatalogRequestsTotalIncr(ctx, string(AttemptFailed))
		}
		return fmt.Errorf("failed to addon.Addon.GetCatalog: %w", err)
	}
	common.CatalogRequestsTotalIncr(ctx, string(AttemptLoaded))

	c.render(ctx, metas)

	return nil
}

// SearchCatalog picks the catalog a search runs against: the first catalog declaring
// the search extra, otherwise the first catalog.
func SearchCatalog(manifest *stremio.Manifest) (stremio.CatalogItem, bool) {
	if manifest == nil {
		return stremio.CatalogItem{}, false
	}
	for _, catalog := range manifest.Catalogs {
		if catalog.SupportsExtra("search") {
			return catalog, true
		}
	}
	if len(manifest.Catalogs) > 0 {
		return manifest.Catalogs[0], true
	}
	return stremio.CatalogItem{}, false
}

// Search runs query against the search catalog and displays the results.
func (c *Controller) Search(ctx context.Context, query string) error {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "session.Controller.Search")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		c.showError("Please enter a search term.")
		return ErrEmptyQuery
	}
	span.SetAttributes(attribute.String("search.query", query))

	manifest := c.Manifest()
	if manifest == nil {
		c.showError("Addon not connected. Please wait for the connection to be established.")
		return ErrNotConnected
	}

	catalog, ok := SearchCatalog(manifest)
	if !ok {
		c.showError("Search is not supported by this addon.")
		return ErrSearchUnsupported
	}

	c.beginLoading()
	defer c.endLoading()

	c.track(ctx, "search", map[string]any{"query": query, "catalog": catalog.ID})

	err := c.LoadCatalog(ctx, catalog.Type, catalog.ID, url.Values{"search": {query}})
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to search", "query", query, "catalog", catalog.ID, "err", err)
		span.RecordError(err)
		c.showError("Search failed: %s. Please try a different search term.", reason(err))
		return err
	}

	return nil
}
