package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ogero/stremio-webstream/internal/common"
	slogchi "github.com/samber/slog-chi"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxRequestBodySize = 64 * 1024

// App represents the main application structure that holds the webstream service and the path it is served under.
type App struct {
	WebstreamService WebstreamService
	BasePath         string
}

/*
NewApp creates a new instance of the App struct.

Parameters:
  - webstreamService: The service holding the client sessions.
  - basePath: The path prefix the web client is served under, empty for the root.

Returns:
  - A pointer to the newly created App instance.
*/
func NewApp(webstreamService WebstreamService, basePath string) (*App, error) {
	if webstreamService == nil {
		return nil, errors.New("webstream service is required")
	}
	return &App{
		WebstreamService: webstreamService,
		BasePath:         basePath,
	}, nil
}

/*
Router builds the HTTP handler of the application.

The JSON API and the websocket endpoint are mounted under BasePath, any other path is served from static.
*/
func (a *App) Router(static fs.FS) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(slogchi.NewWithConfig(common.Log, slogchi.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithSpanID:       true,
		WithTraceID:      true,
	}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{
			"Content-Type",
			"X-Requested-With",
			"Accept",
			"Accept-Language",
			"Accept-Encoding",
			"Content-Language",
			"Origin",
		},
		MaxAge: 300,
	}))

	routes := func(r chi.Router) {
		r.Route("/api", func(r chi.Router) {
			r.Post("/sessions", a.CreateSessionHandler)
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", a.SessionHandler)
				r.Post("/start", a.StartHandler)
				r.Post("/visible", a.VisibleHandler)
				r.Post("/search", a.SearchHandler)
				r.Post("/play", a.PlayHandler)
				r.Post("/playback", a.PlaybackHandler)
			})
			r.Get("/stats", a.StatsHandler)
		})
		r.HandleFunc("/connection/websocket", a.WebsocketHandler)
		r.Handle("/*", a.staticHandler(static))
	}

	if a.BasePath == "" {
		routes(r)
	} else {
		r.Route(a.BasePath, routes)
	}

	return r
}

func (a *App) staticHandler(static fs.FS) http.Handler {
	fileServer := http.StripPrefix(a.BasePath, http.FileServer(http.FS(static)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.BasePath != "" && r.URL.Path == a.BasePath {
			http.Redirect(w, r, a.BasePath+"/", http.StatusMovedPermanently)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// CreateSessionHandler creates a client session and replies with its id and websocket channel.
func (a *App) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "CreateSessionHandler")

	sess, err := a.WebstreamService.NewSession(ctx)
	if err != nil {
		common.Log.ErrorContext(ctx, "Failed to WebstreamService.NewSession", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(ctx, w, http.StatusCreated, sess.Snapshot())
}

// SessionHandler replies with the current view state of a session.
func (a *App) SessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "SessionHandler")

	sess, ok := a.session(w, r)
	if !ok {
		return
	}

	writeJSON(ctx, w, http.StatusOK, sess.Snapshot())
}

// StartHandler connects a session to the addon and loads the default content.
func (a *App) StartHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "StartHandler")

	sess, ok := a.session(w, r)
	if !ok {
		return
	}

	if err := sess.Controller.Start(detach(ctx)); err != nil {
		common.Log.WarnContext(ctx, "Failed to session.Controller.Start", "err", err)
		trace.SpanFromContext(ctx).RecordError(err)
	}

	writeJSON(ctx, w, http.StatusOK, sess.Snapshot())
}

// VisibleHandler is called by the page when it regains visibility.
func (a *App) VisibleHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "VisibleHandler")

	sess, ok := a.session(w, r)
	if !ok {
		return
	}

	if err := sess.Controller.Visible(detach(ctx)); err != nil {
		common.Log.WarnContext(ctx, "Failed to session.Controller.Visible", "err", err)
		trace.SpanFromContext(ctx).RecordError(err)
	}

	writeJSON(ctx, w, http.StatusOK, sess.Snapshot())
}

type searchRequest struct {
	Query string `json:"query"`
}

// SearchHandler searches the addon content of a session.
func (a *App) SearchHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "SearchHandler")

	sess, ok := a.session(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if !readJSON(w, r, &req) {
		return
	}
	span.SetAttributes(attribute.String("params.query", req.Query))

	if err := sess.Controller.Search(detach(ctx), req.Query); err != nil {
		common.Log.WarnContext(ctx, "Failed to session.Controller.Search", "err", err)
		span.RecordError(err)
	}

	writeJSON(ctx, w, http.StatusOK, sess.Snapshot())
}

type playRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PlayHandler plays one of the displayed content items of a session.
func (a *App) PlayHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "PlayHandler")

	sess, ok := a.session(w, r)
	if !ok {
		return
	}

	var req playRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := common.ValidateContentType(req.Type); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateContentType", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := common.ValidateContentID(req.ID); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateContentID", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.type", req.Type), attribute.String("params.id", req.ID))

	meta, found := sess.Controller.DisplayedMeta(req.Type, req.ID)
	if !found {
		common.Log.WarnContext(ctx, "Content is not displayed", "type", req.Type, "id", req.ID)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err := sess.Controller.Play(detach(ctx), meta); err != nil {
		common.Log.WarnContext(ctx, "Failed to session.Controller.Play", "err", err)
		span.RecordError(err)
	}

	writeJSON(ctx, w, http.StatusOK, sess.Snapshot())
}

type playbackRequest struct {
	Event  string `json:"event"`
	Code   int    `json:"code,omitempty"`
	URL    string `json:"url,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// PlaybackHandler receives the player outcomes reported by the page.
func (a *App) PlaybackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	common.Log.DebugContext(ctx, "PlaybackHandler")

	sess, ok := a.session(w, r)
	if !ok {
		return
	}

	var req playbackRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := common.ValidatePlaybackEvent(req.Event); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidatePlaybackEvent", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("params.event", req.Event))

	switch req.Event {
	case "started":
		sess.Controller.PlaybackStarted(ctx, req.URL)
	case "rejected":
		sess.Controller.PlaybackRejected(ctx, req.Detail)
	case "ended":
		sess.Controller.PlaybackEnded(ctx)
	case "error":
		sess.Controller.PlaybackFailed(ctx, req.Code)
	}

	w.WriteHeader(http.StatusNoContent)
}

// StatsHandler replies with the last known stats.
func (a *App) StatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "StatsHandler")

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(ctx, w, http.StatusOK, a.WebstreamService.Stats())
}

// WebsocketHandler handles WebSocket connections
func (a *App) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	common.Log.DebugContext(ctx, "WebsocketHandler")

	a.WebstreamService.ServeHTTP(w, r)
}

func (a *App) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	paramsID := chi.URLParam(r, "id")
	if err := common.ValidateSessionID(paramsID); err != nil {
		common.Log.WarnContext(ctx, "Failed to common.ValidateSessionID", "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}

	sess, err := a.WebstreamService.GetSession(ctx, paramsID)
	if err != nil {
		common.Log.WarnContext(ctx, "Failed to WebstreamService.GetSession", "session", paramsID, "err", err)
		span.RecordError(err)
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}

	return sess, true
}

// detach keeps the request values, like the active span, without its cancellation.
// Addon fetches run to completion even when the page goes away.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(v); err != nil {
		common.Log.WarnContext(ctx, "Failed to json.Decoder.Decode", "err", err)
		trace.SpanFromContext(ctx).RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return false
	}

	return true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		common.Log.ErrorContext(ctx, "Failed to write response", "err", err)
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
