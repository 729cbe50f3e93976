package session_test

import (
	"context"
	"net/url"
	"sync"

	"github.com/ogero/stremio-webstream/internal/session"
	"github.com/ogero/stremio-webstream/pkg/stremio"
)

type catalogCall struct {
	Type  string
	ID    string
	Extra url.Values
}

type mockAddon struct {
	mu           sync.Mutex
	manifestFunc func(ctx context.Context) (*stremio.Manifest, error)
	catalogFunc  func(ctx context.Context, contentType, catalogID string, extra url.Values) ([]stremio.MetaPreview, error)
	streamsFunc  func(ctx context.Context, contentType, contentID string) ([]stremio.Stream, error)

	manifestCalls int
	catalogCalls  []catalogCall
	streamCalls   int
}

func (m *mockAddon) GetManifest(ctx context.Context) (*stremio.Manifest, error) {
	m.mu.Lock()
	m.manifestCalls++
	m.mu.Unlock()
	return m.manifestFunc(ctx)
}

func (m *mockAddon) GetCatalog(ctx context.Context, contentType, catalogID string, extra url.Values) ([]stremio.MetaPreview, error) {
	m.mu.Lock()
	m.catalogCalls = append(m.catalogCalls, catalogCall{Type: contentType, ID: catalogID, Extra: extra})
	m.mu.Unlock()
	return m.catalogFunc(ctx, contentType, catalogID, extra)
}

func (m *mockAddon) GetStreams(ctx context.Context, contentType, contentID string) ([]stremio.Stream, error) {
	m.mu.Lock()
	m.streamCalls++
	m.mu.Unlock()
	return m.streamsFunc(ctx, contentType, contentID)
}

func (m *mockAddon) requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifestCalls + len(m.catalogCalls) + m.streamCalls
}

func (m *mockAddon) catalogIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.catalogCalls))
	for _, call := range m.catalogCalls {
		ids = append(ids, call.ID)
	}
	return ids
}

type statusUpdate struct {
	Status session.Status
	Text   string
}

type mockPresenter struct {
	mu       sync.Mutex
	rendered [][]stremio.MetaPreview
	statuses []statusUpdate
	loading  []bool
	shown    []session.Message
	removed  []string
	videos   []session.Video
}

func (p *mockPresenter) Render(metas []stremio.MetaPreview) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rendered = append(p.rendered, metas)
}

func (p *mockPresenter) SetStatus(status session.Status, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, statusUpdate{Status: status, Text: text})
}

func (p *mockPresenter) SetLoading(loading bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = append(p.loading, loading)
}

func (p *mockPresenter) ShowMessage(msg session.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, msg)
}

func (p *mockPresenter) RemoveMessage(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, id)
}

func (p *mockPresenter) PresentVideo(video session.Video) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.videos = append(p.videos, video)
}

func (p *mockPresenter) lastStatus() statusUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.statuses) == 0 {
		return statusUpdate{}
	}
	return p.statuses[len(p.statuses)-1]
}

func (p *mockPresenter) messages(kind session.MessageKind) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var texts []string
	for _, msg := range p.shown {
		if msg.Kind == kind {
			texts = append(texts, msg.Text)
		}
	}
	return texts
}

func (p *mockPresenter) renders() [][]stremio.MetaPreview {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]stremio.MetaPreview(nil), p.rendered...)
}

func (p *mockPresenter) presented() []session.Video {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]session.Video(nil), p.videos...)
}

type trackedEvent struct {
	Event  string
	Params map[string]any
}

type mockTracker struct {
	mu     sync.Mutex
	events []trackedEvent
}

func (t *mockTracker) Track(_ context.Context, event string, params map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, trackedEvent{Event: event, Params: params})
}

func (t *mockTracker) names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.events))
	for _, e := range t.events {
		names = append(names, e.Event)
	}
	return names
}

func manifestOf(catalogs ...stremio.CatalogItem) func(ctx context.Context) (*stremio.Manifest, error) {
	return func(ctx context.Context) (*stremio.Manifest, error) {
		return &stremio.Manifest{ID: "fyvio", Name: "Fyvio", Catalogs: catalogs}, nil
	}
}
