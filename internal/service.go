package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/centrifugal/centrifuge"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ogero/stremio-webstream/internal/common"
	"github.com/ogero/stremio-webstream/internal/session"
	"github.com/ogero/stremio-webstream/pkg/addon"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StatsChannel is the websocket channel stats are published on.
const StatsChannel = "stats"

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// Stats represents statistical data including play and search counts in the last 24 hours and the title being played.
type Stats struct {
	// PlaysCount24 represents the number of successful plays in the last 24 hours.
	PlaysCount24 int `json:"playsCount24"`
	// SearchesCount24 represents the number of searches performed in the last 24 hours.
	SearchesCount24 int `json:"searchesCount24"`
	// NowPlaying holds the title of the last video presented on any session.
	NowPlaying string `json:"nowPlaying"`
}

// StatsSource provides the 24 hours counters of Stats.
type StatsSource interface {
	GetPlays24() (int, error)
	GetSearches24() (int, error)
}

// SessionChannel returns the websocket channel of a session.
func SessionChannel(id string) string {
	return "session:" + id
}

// Session binds a session controller to its websocket channel.
type Session struct {
	ID         string
	Channel    string
	Controller *session.Controller

	presenter *channelPresenter
}

// Snapshot returns the current view state of the session.
func (s *Session) Snapshot() Snapshot {
	status, loading, cards, video := s.presenter.snapshot()
	messages := s.Controller.Messages()
	if messages == nil {
		messages = []session.Message{}
	}
	return Snapshot{
		ID:       s.ID,
		Channel:  s.Channel,
		Status:   status,
		Loading:  loading,
		Cards:    cards,
		Messages: messages,
		Video:    video,
	}
}

// WebstreamService defines methods for managing client sessions and broadcasting stats over websockets.
type WebstreamService interface {
	// Handler handles incoming HTTP requests via a websocket handler
	http.Handler
	// NewSession creates a session, its channel becomes subscribable right away.
	NewSession(ctx context.Context) (*Session, error)
	// GetSession retrieves a live session and extends its lifetime.
	GetSession(ctx context.Context, id string) (*Session, error)
	// Stats returns the last known stats.
	Stats() Stats
	// BroadcastStats updates and publishes statistical data to a websocket channel.
	// Accepts a function to modify stats and returns an error if updating or publishing fails.
	BroadcastStats(statsUpdater func(stats *Stats) error) error
	// StartPollingStats begins the periodic fetching and broadcasting of statistical data at the specified
	// interval, until ctx is done.
	StartPollingStats(ctx context.Context, interval time.Duration)
	// Shutdown closes every session and stops the websocket node.
	Shutdown(ctx context.Context) error
}

// ServiceOptions configures a WebstreamService.
type ServiceOptions struct {
	// Addon is the remote addon shared by every session.
	Addon addon.Addon
	// Tracker receives the analytics events of every session.
	Tracker session.Tracker
	// StatsSource provides the stats counters, it may be nil.
	StatsSource StatsSource

	MaxSessions       int
	SessionTTL        time.Duration
	ErrorMessageTTL   time.Duration
	SuccessMessageTTL time.Duration
}

type webstreamService struct {
	opts ServiceOptions

	sessions         *expirable.LRU[string, *Session]
	node             *centrifuge.Node
	websocketHandler *centrifuge.WebsocketHandler
	statsMutex       *sync.Mutex
	stats            Stats
}

// NewWebstreamService creates a WebstreamService and starts its websocket node.
func NewWebstreamService(opts ServiceOptions) (WebstreamService, error) {
	if opts.Addon == nil {
		return nil, errors.New("addon is required")
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 1000
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}

	svc := &webstreamService{
		opts:       opts,
		statsMutex: &sync.Mutex{},
	}

	svc.sessions = expirable.NewLRU[string, *Session](opts.MaxSessions, func(id string, s *Session) {
		common.Log.Debug("Session evicted", "session", id)
		s.Controller.Close()
	}, opts.SessionTTL)

	node, err := centrifuge.New(centrifuge.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to centrifuge.New: %w", err)
	}
	svc.node = node

	node.OnConnecting(func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
		return centrifuge.ConnectReply{}, nil
	})

	node.OnConnect(func(client *centrifuge.Client) {
		client.OnSubscribe(func(e centrifuge.SubscribeEvent, cb centrifuge.SubscribeCallback) {
			if !svc.canSubscribe(e.Channel) {
				cb(centrifuge.SubscribeReply{}, centrifuge.ErrorPermissionDenied)
				return
			}

			cb(centrifuge.SubscribeReply{
				Options: centrifuge.SubscribeOptions{},
			}, nil)

			if e.Channel != StatsChannel {
				return
			}

			// Todo: Avoid broadcasting to all clients
			go func() {
				err := svc.BroadcastStats(func(data *Stats) error { return nil })
				if err != nil {
					common.Log.Warn("Failed to internal.WebstreamService.BroadcastStats", "err", err)
				}
			}()
		})
	})

	if err := node.Run(); err != nil {
		return nil, fmt.Errorf("failed to centrifuge.Node.Run: %w", err)
	}

	websocketHandler := centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		ReadBufferSize:     1024,
		UseWriteBufferPool: true,
	})
	svc.websocketHandler = websocketHandler

	return svc, nil
}

func (s *webstreamService) canSubscribe(channel string) bool {
	if channel == StatsChannel {
		return true
	}
	id, ok := strings.CutPrefix(channel, SessionChannel(""))
	if !ok {
		return false
	}
	_, ok = s.sessions.Peek(id)
	return ok
}

// NewSession creates a session, its channel becomes subscribable right away.
func (s *webstreamService) NewSession(ctx context.Context) (*Session, error) {

	ctx, span := trace.SpanFromContext(ctx).TracerProvider().Tracer("").Start(ctx, "internal.WebstreamService.NewSession")
	defer span.End()

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to uuid.NewRandom: %w", err)
	}

	sess := &Session{
		ID:      id.String(),
		Channel: SessionChannel(id.String()),
	}
	sess.presenter = newChannelPresenter(sess.Channel, s.node, s.nowPlaying)
	sess.Controller = session.NewController(s.opts.Addon, sess.presenter, session.Options{
		ErrorMessageTTL:   s.opts.ErrorMessageTTL,
		SuccessMessageTTL: s.opts.SuccessMessageTTL,
		Tracker:           s.opts.Tracker,
	})

	s.sessions.Add(sess.ID, sess)

	span.SetAttributes(attribute.String("session.id", sess.ID))
	common.Log.InfoContext(ctx, "Session created", "session", sess.ID)

	return sess, nil
}

// GetSession retrieves a live session and extends its lifetime.
func (s *webstreamService) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.sessions.Add(id, sess)

	// Eviction closes the controller first, an Add racing it must not bring the session back.
	if sess.Controller.Closed() {
		s.sessions.Remove(id)
		return nil, ErrSessionNotFound
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("session.id", id))

	return sess, nil
}

func (s *webstreamService) nowPlaying(video session.Video) {
	go func() {
		err := s.BroadcastStats(func(data *Stats) error {
			data.NowPlaying = video.Title
			data.PlaysCount24++
			return nil
		})
		if err != nil {
			common.Log.Warn("Failed to internal.WebstreamService.BroadcastStats", "err", err)
		}
	}()
}

// Stats returns the last known stats.
func (s *webstreamService) Stats() Stats {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	return s.stats
}

// BroadcastStats updates and publishes statistical data to a websocket channel.
// Accepts a function to modify stats and returns an error if updating or publishing fails.
func (s *webstreamService) BroadcastStats(statsUpdater func(stats *Stats) error) error {
	stats, err := func() (Stats, error) {
		s.statsMutex.Lock()
		defer s.statsMutex.Unlock()
		err := statsUpdater(&s.stats)
		if err != nil {
			return Stats{}, err
		}
		return s.stats, nil
	}()
	if err != nil {
		return fmt.Errorf("failed to statsUpdater: %w", err)
	}

	b, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to json.Marshal: %w", err)
	}

	_, err = s.node.Publish(StatsChannel, b)
	if err != nil {
		return fmt.Errorf("failed to centrifuge.Node.Publish: %w", err)
	}

	return nil
}

// StartPollingStats begins the periodic fetching and broadcasting of statistical data at the specified
// interval, until ctx is done.
func (s *webstreamService) StartPollingStats(ctx context.Context, interval time.Duration) {
	if s.opts.StatsSource == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.pollStats()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *webstreamService) pollStats() {
	plays, playsErr := s.opts.StatsSource.GetPlays24()
	if playsErr != nil {
		common.Log.Error("failed to get StatsSource.GetPlays24", "err", playsErr)
	}
	searches, searchesErr := s.opts.StatsSource.GetSearches24()
	if searchesErr != nil {
		common.Log.Error("failed to get StatsSource.GetSearches24", "err", searchesErr)
	}
	err := s.BroadcastStats(func(stats *Stats) error {
		if playsErr == nil {
			stats.PlaysCount24 = plays
		}
		if searchesErr == nil {
			stats.SearchesCount24 = searches
		}
		return nil
	})
	if err != nil {
		common.Log.Warn("failed to internal.WebstreamService.BroadcastStats", "err", err)
	}
}

// Shutdown closes every session and stops the websocket node.
func (s *webstreamService) Shutdown(ctx context.Context) error {
	s.sessions.Purge()

	if err := s.node.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to centrifuge.Node.Shutdown: %w", err)
	}

	return nil
}

// ServeHTTP handles incoming HTTP requests via a websocket handler
func (s *webstreamService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	newCtx := centrifuge.SetCredentials(ctx, &centrifuge.Credentials{})
	r = r.WithContext(newCtx)

	s.websocketHandler.ServeHTTP(w, r)
}
