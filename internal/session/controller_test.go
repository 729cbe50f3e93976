package session_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/ogero/stremio-webstream/internal/session"
	"github.com/ogero/stremio-webstream/pkg/addon"
	"github.com/ogero/stremio-webstream/pkg/stremio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T, a *mockAddon) (*session.Controller, *mockPresenter, *mockTracker) {
	t.Helper()
	p := &mockPresenter{}
	tr := &mockTracker{}
	c := session.NewController(a, p, session.Options{Tracker: tr})
	t.Cleanup(c.Close)
	return c, p, tr
}

func metasOf(ids ...string) []stremio.MetaPreview {
	metas := make([]stremio.MetaPreview, 0, len(ids))
	for _, id := range ids {
		metas = append(metas, stremio.MetaPreview{ID: id, Type: "movie", Name: "Title " + id})
	}
	return metas
}

func TestBootstrap_Success(t *testing.T) {
	a := &mockAddon{manifestFunc: manifestOf(stremio.CatalogItem{Type: "movie", ID: "top"})}
	c, p, _ := newController(t, a)

	require.NoError(t, c.Bootstrap(context.Background()))

	require.NotNil(t, c.Manifest())
	assert.Equal(t, "fyvio", c.Manifest().ID)
	require.Len(t, p.statuses, 2)
	assert.Equal(t, session.StatusLoading, p.statuses[0].Status)
	assert.Equal(t, statusUpdate{Status: session.StatusSuccess, Text: "Connected to Fyvio"}, p.lastStatus())
	assert.Equal(t, []string{"Successfully connected to Fyvio!"}, p.messages(session.MessageSuccess))
}

func TestBootstrap_Failure(t *testing.T) {
	a := &mockAddon{manifestFunc: func(ctx context.Context) (*stremio.Manifest, error) {
		return nil, &addon.HTTPError{StatusCode: 503, StatusText: "Service Unavailable"}
	}}
	c, p, _ := newController(t, a)

	err := c.Bootstrap(context.Background())
	require.Error(t, err)

	var httpErr *addon.HTTPError
	assert.ErrorAs(t, err, &httpErr)
	assert.Nil(t, c.Manifest())
	assert.Equal(t, session.StatusError, p.lastStatus().Status)
	assert.Equal(t, []string{
		"Could not connect to the addon: HTTP 503: Service Unavailable. Please check if the service is running.",
	}, p.messages(session.MessageError))
}

func TestBootstrap_LastSuccessfulResponseWins(t *testing.T) {
	calls := 0
	a := &mockAddon{manifestFunc: func(ctx context.Context) (*stremio.Manifest, error) {
		calls++
		switch calls {
		case 1:
			return &stremio.Manifest{ID: "first"}, nil
		case 2:
			return nil, errors.New("connection reset")
		default:
			return &stremio.Manifest{ID: "third"}, nil
		}
	}}
	c, _, _ := newController(t, a)

	require.NoError(t, c.Bootstrap(context.Background()))
	assert.Equal(t, "first", c.Manifest().ID)

	require.Error(t, c.Bootstrap(context.Background()))
	assert.Equal(t, "first", c.Manifest().ID)

	require.NoError(t, c.Bootstrap(context.Background()))
	assert.Equal(t, "third", c.Manifest().ID)
}

func TestStart_LoadsFirstCatalogWithContent(t *testing.T) {
	a := &mockAddon{
		manifestFunc: manifestOf(
			stremio.CatalogItem{Type: "movie", ID: "broken"},
			stremio.CatalogItem{Type: "movie", ID: "empty"},
			stremio.CatalogItem{Type: "series", ID: "good"},
			stremio.CatalogItem{Type: "movie", ID: "never"},
		),
		catalogFunc: func(ctx context.Context, contentType, catalogID string, extra url.Values) ([]stremio.MetaPreview, error) {
			switch catalogID {
			case "broken":
				return nil, &addon.HTTPError{StatusCode: 500, StatusText: "Internal Server Error"}
			case "empty":
				return nil, addon.ErrEmptyCatalog
			default:
				return metasOf(catalogID + "-1"), nil
			}
		},
	}
	c, p, tr := newController(t, a)

	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, []string{"broken", "empty", "good"}, a.catalogIDs())
	require.Len(t, p.renders(), 1)
	assert.Equal(t, "good-1", p.renders()[0][0].ID)
	assert.Empty(t, p.messages(session.MessageError))
	assert.Contains(t, tr.names(), "content_displayed")

	meta, ok := c.DisplayedMeta("movie", "good-1")
	assert.True(t, ok)
	assert.Equal(t, "Title good-1", meta.Name)
}

func TestLoadDefaultContent_AttemptOutcomes(t *testing.T) {
	a := &mockAddon{
		manifestFunc: manifestOf(
			stremio.CatalogItem{Type: "movie", ID: "A"},
			stremio.CatalogItem{Type: "movie", ID: "B"},
			stremio.CatalogItem{Type: "movie", ID: "C"},
		),
		catalogFunc: func(ctx context.Context, contentType, catalogID string, extra url.Values) ([]stremio.MetaPreview, error) {
			switch catalogID {
			case "A":
				return nil, errors.New("dial tcp: connection refused")
			case "B":
				return nil, addon.ErrEmptyCatalog
			default:
				return metasOf("c1", "c2"), nil
			}
		},
	}
	c, _, _ := newController(t, a)
	require.NoError(t, c.Bootstrap(context.Background()))

	attempts, err := c.LoadDefaultContent(context.Background())
	require.NoError(t, err)
	require.Len(t, attempts, 3)

	assert.Equal(t, session.AttemptFailed, attempts[0].Outcome)
	assert.Error(t, attempts[0].Err)
	assert.Equal(t, session.AttemptEmpty, attempts[1].Outcome)
	assert.ErrorIs(t, attempts[1].Err, addon.ErrEmptyCatalog)
	assert.Equal(t, session.AttemptLoaded, attempts[2].Outcome)
	assert.NoError(t, attempts[2].Err)
}

func TestLoadDefaultContent_NoCatalogs(t *testing.T) {
	a := &mockAddon{manifestFunc: manifestOf()}
	c, p, _ := newController(t, a)
	require.NoError(t, c.Bootstrap(context.Background()))

	attempts, err := c.LoadDefaultContent(context.Background())

	assert.ErrorIs(t, err, session.ErrNoCatalogs)
	assert.Empty(t, attempts)
	assert.Empty(t, a.catalogIDs())
	assert.Equal(t, []string{"No catalogs available from the addon."}, p.messages(session.MessageError))
}

func TestLoadDefaultContent_AllCatalogsFail(t *testing.T) {
	a := &mockAddon{
		manifestFunc: manifestOf(
			stremio.CatalogItem{Type: "movie", ID: "A"},
			stremio.CatalogItem{Type: "series", ID: "B"},
			stremio.CatalogItem{Type: "movie", ID: "C"},
		),
		catalogFunc: func(ctx context.Context, contentType, catalogID string, extra url.Values) ([]stremio.MetaPreview, error) {
			if catalogID == "B" {
				return nil, addon.ErrEmptyCatalog
			}
			return nil, &addon.HTTPError{StatusCode: 404, StatusText: "Not Found"}
		},
	}
	c, p, _ := newController(t, a)
	require.NoError(t, c.Bootstrap(context.Background()))

	attempts, err := c.LoadDefaultContent(context.Background())

	assert.ErrorIs(t, err, session.ErrCatalogsExhausted)
	assert.Equal(t, []string{"A", "B", "C"}, a.catalogIDs())
	require.Len(t, attempts, 3)
	for _, attempt := range attempts {
		assert.NotEqual(t, session.AttemptLoaded, attempt.Outcome)
	}
	assert.Empty(t, p.renders())
	assert.Equal(t, []string{
		"Failed to load content from the addon: HTTP 404: Not Found. The service might be temporarily unavailable.",
	}, p.messages(session.MessageError))
}

func TestStart_BootstrapFailureSkipsLoader(t *testing.T) {
	a := &mockAddon{manifestFunc: func(ctx context.Context) (*stremio.Manifest, error) {
		return nil, errors.New("no route to host")
	}}
	c, _, _ := newController(t, a)

	require.Error(t, c.Start(context.Background()))
	assert.Empty(t, a.catalogIDs())
}

func TestVisible_ReconnectsOnlyWithoutManifest(t *testing.T) {
	fail := true
	a := &mockAddon{
		manifestFunc: func(ctx context.Context) (*stremio.Manifest, error) {
			if fail {
				return nil, errors.New("connection refused")
			}
			return &stremio.Manifest{ID: "fyvio", Catalogs: []stremio.CatalogItem{{Type: "movie", ID: "top"}}}, nil
		},
		catalogFunc: func(ctx context.Context, contentType, catalogID string, extra url.Values) ([]stremio.MetaPreview, error) {
			return metasOf("m1"), nil
		},
	}
	c, p, _ := newController(t, a)

	require.Error(t, c.Start(context.Background()))
	assert.Equal(t, 1, a.manifestCalls)

	fail = false
	require.NoError(t, c.Visible(context.Background()))
	assert.Equal(t, 2, a.manifestCalls)
	assert.Equal(t, []string{"top"}, a.catalogIDs())
	assert.Len(t, p.renders(), 1)

	require.NoError(t, c.Visible(context.Background()))
	assert.Equal(t, 2, a.manifestCalls)
	assert.Equal(t, []string{"top"}, a.catalogIDs())
}

func TestLoading_IsToggledAroundOperations(t *testing.T) {
	a := &mockAddon{
		manifestFunc: manifestOf(stremio.CatalogItem{Type: "movie", ID: "top"}),
		catalogFunc: func(ctx context.Context, contentType, catalogID string, extra url.Values) ([]stremio.MetaPreview, error) {
			return metasOf("m1"), nil
		},
	}
	c, p, _ := newController(t, a)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, []bool{true, false}, p.loading)
}

func TestConcurrentOperationsKeepLoadingBalanced(t *testing.T) {
	a := &mockAddon{
		manifestFunc: manifestOf(stremio.CatalogItem{Type: "movie", ID: "top"}),
		catalogFunc: func(ctx context.Context, contentType, catalogID string, extra url.Values) ([]stremio.MetaPreview, error) {
			return metasOf("m1"), nil
		},
		streamsFunc: func(ctx context.Context, contentType, contentID string) ([]stremio.Stream, error) {
			return []stremio.Stream{{URL: "https://cdn/" + contentID}}, nil
		},
	}
	c, p, _ := newController(t, a)
	require.NoError(t, c.Bootstrap(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Search(context.Background(), "matrix")
		}()
		go func() {
			defer wg.Done()
			_ = c.Play(context.Background(), metasOf("m1")[0])
		}()
	}
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.loading)
	assert.False(t, p.loading[len(p.loading)-1])
}
