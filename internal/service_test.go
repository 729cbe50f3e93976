package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/centrifugal/centrifuge"
	"github.com/ogero/stremio-webstream/internal/session"
	"github.com/ogero/stremio-webstream/pkg/addon"
	"github.com/ogero/stremio-webstream/pkg/stremio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testManifest = `{"id":"fyvio","name":"Fyvio","version":"1.0.0","catalogs":[{"type":"movie","id":"top","name":"Top"},{"type":"movie","id":"find","name":"Find","extra":[{"name":"search"}]}]}`
	testCatalog  = `{"metas":[{"id":"tt1","type":"movie","name":"Alien","year":1979,"genre":["Horror"]},{"id":"tt2","type":"movie","name":"Aliens"}]}`
	testStreams  = `{"streams":[{"url":"https://cdn/a-480.mp4","name":"480p"},{"url":"https://cdn/a-1080.mp4","name":"1080p"}]}`
)

// newAddonServer serves a fixed addon.
func newAddonServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testManifest))
	})
	mux.HandleFunc("/catalog/movie/top", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testCatalog))
	})
	mux.HandleFunc("/catalog/movie/find", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"metas":[{"id":"tt3","type":"movie","name":"Found"}]}`))
	})
	mux.HandleFunc("/stream/movie/tt1.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testStreams))
	})
	mux.HandleFunc("/stream/movie/tt2.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"streams":[]}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type statsSourceStub struct {
	plays, searches       int
	playsErr, searchesErr error
}

func (s statsSourceStub) GetPlays24() (int, error)    { return s.plays, s.playsErr }
func (s statsSourceStub) GetSearches24() (int, error) { return s.searches, s.searchesErr }

func newTestService(t *testing.T, opts ServiceOptions) *webstreamService {
	t.Helper()
	if opts.Addon == nil {
		opts.Addon = addon.NewAddon(newAddonServer(t).URL, 0)
	}
	svc, err := NewWebstreamService(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = svc.Shutdown(context.Background())
	})
	return svc.(*webstreamService)
}

func TestNewWebstreamService_RequiresAddon(t *testing.T) {
	_, err := NewWebstreamService(ServiceOptions{})
	assert.Error(t, err)
}

func TestNewSession(t *testing.T) {
	svc := newTestService(t, ServiceOptions{})

	sess, err := svc.NewSession(context.Background())
	require.NoError(t, err)

	assert.Len(t, sess.ID, 36)
	assert.Equal(t, "session:"+sess.ID, sess.Channel)

	got, err := svc.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	snapshot := sess.Snapshot()
	assert.Equal(t, session.StatusLoading, snapshot.Status.Status)
	assert.Empty(t, snapshot.Cards)
	assert.NotNil(t, snapshot.Messages)
	assert.Nil(t, snapshot.Video)
}

func TestGetSession_Unknown(t *testing.T) {
	svc := newTestService(t, ServiceOptions{})

	_, err := svc.GetSession(context.Background(), "5f0e6a43-52f6-4a38-9a55-7c8f7b0d2a11")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetSession_ClosedSessionIsNotFound(t *testing.T) {
	svc := newTestService(t, ServiceOptions{})

	sess, err := svc.NewSession(context.Background())
	require.NoError(t, err)

	// An eviction closes the controller before it leaves the registry.
	sess.Controller.Close()

	_, err = svc.GetSession(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, svc.canSubscribe(sess.Channel))

	live, err := svc.NewSession(context.Background())
	require.NoError(t, err)
	got, err := svc.GetSession(context.Background(), live.ID)
	require.NoError(t, err)
	assert.Same(t, live, got)
}

func TestSessions_AreBoundedAndExpire(t *testing.T) {
	svc := newTestService(t, ServiceOptions{MaxSessions: 1, SessionTTL: 50 * time.Millisecond})

	first, err := svc.NewSession(context.Background())
	require.NoError(t, err)
	second, err := svc.NewSession(context.Background())
	require.NoError(t, err)

	_, err = svc.GetSession(context.Background(), first.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound, "oldest session is evicted")

	assert.Eventually(t, func() bool {
		_, ok := svc.sessions.Peek(second.ID)
		return !ok
	}, time.Second, 10*time.Millisecond)
	_, err = svc.GetSession(context.Background(), second.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCanSubscribe(t *testing.T) {
	svc := newTestService(t, ServiceOptions{})

	sess, err := svc.NewSession(context.Background())
	require.NoError(t, err)

	assert.True(t, svc.canSubscribe(StatsChannel))
	assert.True(t, svc.canSubscribe(sess.Channel))
	assert.False(t, svc.canSubscribe("session:unknown"))
	assert.False(t, svc.canSubscribe("chat"))
}

func TestSession_StartAndPlay(t *testing.T) {
	svc := newTestService(t, ServiceOptions{})

	sess, err := svc.NewSession(context.Background())
	require.NoError(t, err)

	require.NoError(t, sess.Controller.Start(context.Background()))

	snapshot := sess.Snapshot()
	assert.Equal(t, StatusView{Status: session.StatusSuccess, Text: "Connected to Fyvio"}, snapshot.Status)
	require.Len(t, snapshot.Cards, 2)
	assert.Equal(t, "Alien", snapshot.Cards[0].Name)
	assert.Equal(t, "📅 1979 | 🎭 Horror", snapshot.Cards[0].MetaLine)
	assert.False(t, snapshot.Loading)

	meta, ok := sess.Controller.DisplayedMeta("movie", "tt1")
	require.True(t, ok)
	require.NoError(t, sess.Controller.Play(context.Background(), meta))

	snapshot = sess.Snapshot()
	require.NotNil(t, snapshot.Video)
	assert.Equal(t, "https://cdn/a-1080.mp4", snapshot.Video.URL)
	assert.Equal(t, "1080p", snapshot.Video.Quality)

	assert.Eventually(t, func() bool {
		return svc.Stats() == Stats{PlaysCount24: 1, NowPlaying: "Alien"}
	}, time.Second, 10*time.Millisecond)
}

func TestSession_PlaysAreCounted(t *testing.T) {
	svc := newTestService(t, ServiceOptions{})
	require.NoError(t, svc.BroadcastStats(func(stats *Stats) error {
		stats.PlaysCount24 = 4
		return nil
	}))

	sess, err := svc.NewSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.Controller.Start(context.Background()))

	meta, ok := sess.Controller.DisplayedMeta("movie", "tt1")
	require.True(t, ok)
	require.NoError(t, sess.Controller.Play(context.Background(), meta))
	assert.Eventually(t, func() bool {
		return svc.Stats().PlaysCount24 == 5
	}, time.Second, 10*time.Millisecond)

	meta, ok = sess.Controller.DisplayedMeta("movie", "tt2")
	require.True(t, ok)
	require.Error(t, sess.Controller.Play(context.Background(), meta))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 5, svc.Stats().PlaysCount24, "failed resolutions are not plays")
}

func TestBroadcastStats(t *testing.T) {
	svc := newTestService(t, ServiceOptions{})

	err := svc.BroadcastStats(func(stats *Stats) error {
		stats.PlaysCount24 = 3
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, svc.Stats().PlaysCount24)

	err = svc.BroadcastStats(func(stats *Stats) error {
		stats.PlaysCount24 = 10
		return errors.New("boom")
	})
	assert.Error(t, err)
}

func TestStartPollingStats(t *testing.T) {
	svc := newTestService(t, ServiceOptions{
		StatsSource: statsSourceStub{plays: 7, searches: 2},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.StartPollingStats(ctx, time.Minute)

	assert.Equal(t, Stats{PlaysCount24: 7, SearchesCount24: 2}, svc.Stats())
}

func TestStartPollingStats_KeepsCountersOnError(t *testing.T) {
	svc := newTestService(t, ServiceOptions{
		StatsSource: statsSourceStub{plays: 7, searchesErr: errors.New("loki down")},
	})
	require.NoError(t, svc.BroadcastStats(func(stats *Stats) error {
		stats.SearchesCount24 = 5
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.StartPollingStats(ctx, time.Minute)

	assert.Equal(t, Stats{PlaysCount24: 7, SearchesCount24: 5}, svc.Stats())
}

type recordedPublish struct {
	channel string
	event   Event
}

type publisherStub struct {
	mu        sync.Mutex
	published []recordedPublish
}

func (p *publisherStub) Publish(channel string, data []byte, _ ...centrifuge.PublishOption) (centrifuge.PublishResult, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return centrifuge.PublishResult{}, err
	}
	p.mu.Lock()
	p.published = append(p.published, recordedPublish{channel: channel, event: event})
	p.mu.Unlock()
	return centrifuge.PublishResult{}, nil
}

func (p *publisherStub) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.published))
	for _, pub := range p.published {
		types = append(types, pub.event.Type)
	}
	return types
}

func TestChannelPresenter(t *testing.T) {
	pub := &publisherStub{}
	var played []string
	p := newChannelPresenter("session:abc", pub, func(video session.Video) {
		played = append(played, video.Title)
	})

	p.SetStatus(session.StatusSuccess, "Connected to Fyvio")
	p.SetLoading(true)
	p.Render([]stremio.MetaPreview{{ID: "tt1", Type: "movie", Name: "Alien"}})
	p.ShowMessage(session.Message{ID: "m1", Kind: session.MessageSuccess, Text: "hi"})
	p.RemoveMessage("m1")
	p.PresentVideo(session.Video{URL: "https://cdn/a.mp4", Title: "Alien"})

	assert.Equal(t, []string{EventStatus, EventLoading, EventRender, EventMessage, EventMessageRemoved, EventVideo}, pub.types())
	for _, published := range pub.published {
		assert.Equal(t, "session:abc", published.channel)
	}
	assert.Equal(t, []string{"Alien"}, played)

	status, loading, cards, video := p.snapshot()
	assert.Equal(t, StatusView{Status: session.StatusSuccess, Text: "Connected to Fyvio"}, status)
	assert.True(t, loading)
	require.Len(t, cards, 1)
	assert.Equal(t, "Play Alien", cards[0].AriaLabel)
	require.NotNil(t, video)
	assert.Equal(t, "https://cdn/a.mp4", video.URL)
}
