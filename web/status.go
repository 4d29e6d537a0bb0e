// ABOUTME: Local status API exposing the offline sync engine to UIs and scripts
// ABOUTME: JSON endpoints for queue state and a websocket stream of engine events
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harperreed/agencysync/events"
	"github.com/harperreed/agencysync/models"
	offline "github.com/harperreed/agencysync/sync"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Engine is the part of the offline engine the status API drives.
type Engine interface {
	Status() offline.Status
	Pending() []models.PendingItem
	AddPendingItem(item models.PendingItem) error
	RemovePendingItem(id, collection string) (bool, error)
	Synchronize(ctx context.Context) bool
	LastResult() (models.SyncResult, bool)
	CheckConnection(ctx context.Context) bool
	SetOnline(ctx context.Context, online bool)
	DeadLetters() []models.DeadLetter
}

// PendingRequest is the body of POST /pending.
type PendingRequest struct {
	ID         string          `json:"id" validate:"required"`
	Collection string          `json:"collection" validate:"required"`
	Operation  string          `json:"operation" validate:"required,oneof=create update delete"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// NetworkRequest is the body of POST /network, sent by OS network hooks.
type NetworkRequest struct {
	Online *bool `json:"online" validate:"required"`
}

// StatusServer serves the status API.
type StatusServer struct {
	engine   Engine
	pub      events.Publisher
	token    string
	log      zerolog.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

// StatusOption configures a StatusServer.
type StatusOption func(*StatusServer)

// WithStatusToken requires a bearer token on every route.
func WithStatusToken(token string) StatusOption {
	return func(s *StatusServer) { s.token = token }
}

func WithStatusLogger(l zerolog.Logger) StatusOption {
	return func(s *StatusServer) { s.log = l }
}

func NewStatusServer(engine Engine, pub events.Publisher, opts ...StatusOption) *StatusServer {
	s := &StatusServer{
		engine:   engine,
		pub:      pub,
		log:      log.Logger.With().Str("component", "status-api").Logger(),
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API binds to loopback; browser dashboards on other ports must connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed status API.
func (s *StatusServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(Logger(s.log))
	r.Use(BearerAuth(s.token, Unauthorized))

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/pending", s.handlePending).Methods(http.MethodGet)
	r.HandleFunc("/pending", s.handleAddPending).Methods(http.MethodPost)
	r.HandleFunc("/pending/{collection}/{id}", s.handleRemovePending).Methods(http.MethodDelete)
	r.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/check", s.handleCheck).Methods(http.MethodPost)
	r.HandleFunc("/network", s.handleNetwork).Methods(http.MethodPost)
	r.HandleFunc("/dead-letters", s.handleDeadLetters).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	return r
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	OK(w, s.engine.Status())
}

func (s *StatusServer) handlePending(w http.ResponseWriter, r *http.Request) {
	OK(w, s.engine.Pending())
}

func (s *StatusServer) handleAddPending(w http.ResponseWriter, r *http.Request) {
	var req PendingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	err := s.engine.AddPendingItem(models.PendingItem{
		ID:         req.ID,
		Collection: req.Collection,
		Operation:  models.Operation(req.Operation),
		Data:       req.Data,
	})
	switch {
	case errors.Is(err, offline.ErrCollectionNotAllowed):
		Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, offline.ErrInvalidItem):
		BadRequest(w, err.Error())
	case err != nil:
		InternalError(w, err.Error())
	default:
		Created(w, s.engine.Status())
	}
}

func (s *StatusServer) handleRemovePending(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	removed, err := s.engine.RemovePendingItem(vars["id"], vars["collection"])
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	if !removed {
		NotFound(w, "no pending item "+models.ItemKey(vars["id"], vars["collection"]))
		return
	}
	OK(w, s.engine.Status())
}

func (s *StatusServer) handleSync(w http.ResponseWriter, r *http.Request) {
	before, _ := s.engine.LastResult()
	synced := s.engine.Synchronize(r.Context())
	result, ok := s.engine.LastResult()

	data := map[string]any{"synced": synced}
	if ok && !result.StartedAt.Equal(before.StartedAt) {
		data["result"] = result
		Message(w, data, result.Summary())
		return
	}
	OK(w, data)
}

func (s *StatusServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]bool{"online": s.engine.CheckConnection(r.Context())})
}

// handleNetwork relays a platform connectivity change. Going offline is
// trusted; coming online is confirmed with a probe.
func (s *StatusServer) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req NetworkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		BadRequest(w, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		BadRequest(w, err.Error())
		return
	}

	s.engine.SetOnline(r.Context(), *req.Online)
	OK(w, map[string]bool{"online": s.engine.Status().Online})
}

func (s *StatusServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	OK(w, s.engine.DeadLetters())
}

// handleEvents streams engine events as JSON text frames until the client goes away.
func (s *StatusServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so no event after it is missed.
	sub := s.pub.Subscribe()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.pub.Unsubscribe(sub)
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Msg("websocket read failed")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.pub.Unsubscribe(sub)
		_ = conn.Close()
	}()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("event stream opened")
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
