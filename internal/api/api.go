/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/grimnir_graphics/internal/auth"
	"github.com/friendsincode/grimnir_graphics/internal/broadcast"
	"github.com/friendsincode/grimnir_graphics/internal/events"
	"github.com/friendsincode/grimnir_graphics/internal/leadership"
	"github.com/friendsincode/grimnir_graphics/internal/logbuffer"
	"github.com/friendsincode/grimnir_graphics/internal/rundown"
	"github.com/friendsincode/grimnir_graphics/internal/store"
	"github.com/friendsincode/grimnir_graphics/internal/telemetry"
)

// Runner executes fn on the goroutine that owns the rundown.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// RundownStore persists rundown documents. *store.Store and *cache.Cache
// both satisfy it.
type RundownStore interface {
	List(ctx context.Context) ([]store.Summary, error)
	Save(ctx context.Context, doc rundown.Document) (uuid.UUID, error)
	Load(ctx context.Context, id uuid.UUID) (rundown.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Deps carries the collaborators of the API. Store and LogBuffer are optional.
type Deps struct {
	Runner     Runner
	Rundown    *rundown.Rundown
	Registry   *broadcast.Registry
	Store      RundownStore
	Bus        *events.Bus
	Leader     leadership.Gate
	LogBuffer  *logbuffer.Buffer
	AuthSecret []byte
	Logger     zerolog.Logger
}

// API exposes the rundown control handlers.
type API struct {
	runner     Runner
	rundown    *rundown.Rundown
	registry   *broadcast.Registry
	store      RundownStore
	bus        *events.Bus
	leader     leadership.Gate
	logBuffer  *logbuffer.Buffer
	authSecret []byte
	logger     zerolog.Logger
}

// New creates the API router wrapper.
func New(deps Deps) *API {
	leader := deps.Leader
	if leader == nil {
		leader = leadership.AlwaysLeader{}
	}
	return &API{
		runner:     deps.Runner,
		rundown:    deps.Rundown,
		registry:   deps.Registry,
		store:      deps.Store,
		bus:        deps.Bus,
		leader:     leader,
		logBuffer:  deps.LogBuffer,
		authSecret: deps.AuthSecret,
		logger:     deps.Logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.authSecret))
			pr.Get("/events", a.handleEvents)

			pr.Route("/rundown", func(r chi.Router) {
				r.Get("/pages", a.handlePagesList)
				r.Get("/pages/{pageID}", a.handlePageGet)

				r.Group(func(mr chi.Router) {
					mr.Use(a.mutating()...)
					mr.Post("/templates", a.handleTemplatesCreate)
					mr.Post("/templates/combo", a.handleComboTemplateCreate)
					mr.Post("/pages", a.handlePagesCreate)
					mr.Put("/pages/order", a.handlePagesReorder)
					mr.Post("/pages/renumber", a.handlePagesRenumberBatch)
					mr.Post("/pages/actions", a.handlePageActions)
					mr.Delete("/pages/{pageID}", a.handlePageDelete)
					mr.Put("/pages/{pageID}/channel", a.handlePageChannel)
					mr.Put("/pages/{pageID}/name", a.handlePageName)
					mr.Put("/pages/{pageID}/enabled", a.handlePageEnabled)
					mr.Put("/pages/{pageID}/values", a.handlePageValues)
					mr.Post("/pages/{pageID}/renumber", a.handlePageRenumber)

					mr.Post("/transitions/actions", a.handleTransitionActions)
					mr.Post("/layers/actions", a.handleLayerActions)

					mr.Post("/sublists", a.handleSubListCreate)
					mr.Put("/sublists/{subListID}", a.handleSubListRename)
					mr.Delete("/sublists/{subListID}", a.handleSubListDelete)
					mr.Post("/sublists/{subListID}/pages", a.handleSubListAddPages)
					mr.Delete("/sublists/{subListID}/pages", a.handleSubListRemovePages)
					mr.Post("/active-list", a.handleActiveList)
				})
				r.Get("/sublists", a.handleSubListsList)
			})

			pr.Route("/channels", func(r chi.Router) {
				r.Get("/", a.handleChannelsList)
				r.With(a.mutating()...).Post("/{channel}/actions", a.handleChannelAction)
			})

			pr.Route("/rundowns", func(r chi.Router) {
				r.Get("/", a.handleRundownsList)
				r.Get("/{rundownID}/export", a.handleRundownExport)
				r.Group(func(mr chi.Router) {
					mr.Use(a.mutating()...)
					mr.Post("/", a.handleRundownCreate)
					mr.Post("/import", a.handleRundownImport)
					mr.Post("/{rundownID}/load", a.handleRundownLoad)
					mr.Post("/{rundownID}/save", a.handleRundownSave)
					mr.Delete("/{rundownID}", a.handleRundownDelete)
				})
			})

			pr.Route("/logs", func(r chi.Router) {
				r.Get("/", a.handleLogs)
				r.Get("/components", a.handleLogComponents)
				r.Get("/stats", a.handleLogStats)
				r.With(a.mutating()...).Delete("/", a.handleLogsClear)
			})
		})
	})
}

// mutating gates routes that change rundown or channel state.
func (a *API) mutating() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		auth.RequireRole(a.authSecret, auth.RoleOperator),
		a.requireLeader,
	}
}

func (a *API) requireLeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.leader.IsLeader() {
			writeError(w, http.StatusServiceUnavailable, "not_leader")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "leader": a.leader.IsLeader()})
}

// run executes fn on the frame loop. It writes the error reply and returns
// false when the loop is unavailable.
func (a *API) run(w http.ResponseWriter, r *http.Request, fn func()) bool {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.runner.Do(ctx, fn); err != nil {
		a.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("frame loop unavailable")
		writeError(w, http.StatusServiceUnavailable, "loop_unavailable")
		return false
	}
	return true
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIActiveConnections.Inc()
	defer telemetry.APIActiveConnections.Dec()

	// The peer never sends; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.AllEventTypes
	}

	type message struct {
		Type    events.EventType `json:"type"`
		Payload events.Payload   `json:"payload"`
	}
	merged := make(chan message, 64)
	subscribers := make([]events.Subscriber, len(eventTypes))
	for i, eventType := range eventTypes {
		sub := a.bus.SubscribeBuffered(eventType, 32)
		subscribers[i] = sub
		go func(t events.EventType, sub events.Subscriber) {
			for payload := range sub {
				select {
				case merged <- message{Type: t, Payload: payload}:
				case <-ctx.Done():
				}
			}
		}(eventType, sub)
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case msg := <-merged:
			data, err := json.Marshal(msg)
			if err != nil {
				a.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("event not serialisable")
				continue
			}
			if err := conn.Write(ctx, ws.MessageText, data); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeRundownError maps rundown and store errors onto HTTP replies.
func writeRundownError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rundown.ErrInvalidPage):
		writeError(w, http.StatusNotFound, "page_not_found")
	case errors.Is(err, rundown.ErrInvalidSubList):
		writeError(w, http.StatusNotFound, "sublist_not_found")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "rundown_not_found")
	case errors.Is(err, broadcast.ErrChannelNotFound):
		writeError(w, http.StatusNotFound, "channel_not_found")
	case errors.Is(err, rundown.ErrPagePlaying):
		writeError(w, http.StatusConflict, "page_playing")
	case errors.Is(err, rundown.ErrPageIDTaken):
		writeError(w, http.StatusConflict, "page_id_taken")
	case errors.Is(err, rundown.ErrChannelIncompat):
		writeError(w, http.StatusConflict, "channel_incompatible")
	case errors.Is(err, rundown.ErrNothingToPlay):
		writeError(w, http.StatusConflict, "nothing_to_play")
	case errors.Is(err, rundown.ErrTransitionActive):
		writeError(w, http.StatusConflict, "transition_active")
	case errors.Is(err, broadcast.ErrChannelLive):
		writeError(w, http.StatusConflict, "channel_live")
	case errors.Is(err, rundown.ErrComboTemplate):
		writeError(w, http.StatusBadRequest, "invalid_combo_template")
	case errors.Is(err, rundown.ErrNotTemplate):
		writeError(w, http.StatusBadRequest, "not_template")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}
