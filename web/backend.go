// ABOUTME: Development stand-in for the agency backend API over SQLite
// ABOUTME: Serves ping, CRUD, bulk export, and bulk import with raw JSON bodies
package web

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/harperreed/agencysync/db"
)

const maxBodyBytes = 10 << 20

// BackendServer answers the same routes the sync engine and snapshot pipeline call.
type BackendServer struct {
	db    *sql.DB
	token string
	log   zerolog.Logger
}

// BackendOption configures a BackendServer.
type BackendOption func(*BackendServer)

// WithBackendToken requires a bearer token on every route.
func WithBackendToken(token string) BackendOption {
	return func(s *BackendServer) { s.token = token }
}

func WithBackendLogger(l zerolog.Logger) BackendOption {
	return func(s *BackendServer) { s.log = l }
}

func NewBackendServer(database *sql.DB, opts ...BackendOption) *BackendServer {
	s := &BackendServer{
		db:  database,
		log: log.Logger.With().Str("component", "dev-backend").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed backend.
func (s *BackendServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(Logger(s.log))
	r.Use(BearerAuth(s.token, func(w http.ResponseWriter, msg string) {
		http.Error(w, msg, http.StatusUnauthorized)
	}))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/export/{collection}", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/import/{collection}", s.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/{collection}", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/{collection}", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/{collection}/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/{collection}/{id}", s.handleUpdate).Methods(http.MethodPut)
	api.HandleFunc("/{collection}/{id}", s.handleDelete).Methods(http.MethodDelete)
	return r
}

func (s *BackendServer) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *BackendServer) handleExport(w http.ResponseWriter, r *http.Request) {
	s.handleList(w, r)
}

func (s *BackendServer) handleList(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	records, err := db.ListEntities(s.db, collection)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *BackendServer) handleImport(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		http.Error(w, "expected a JSON array of records", http.StatusBadRequest)
		return
	}

	for _, rec := range records {
		id := gjson.GetBytes(rec, "id").String()
		if id == "" {
			id = uuid.New().String()
		}
		if err := db.UpsertEntity(s.db, collection, id, rec); err != nil {
			s.fail(w, err)
			return
		}
	}

	s.log.Info().Str("collection", collection).Int("records", len(records)).Msg("bulk import")
	writeJSON(w, http.StatusOK, map[string]int{"imported": len(records)})
}

func (s *BackendServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	body, ok := readObject(w, r)
	if !ok {
		return
	}

	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		id = uuid.New().String()
	}
	if err := db.UpsertEntity(s.db, collection, id, body); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *BackendServer) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := db.GetEntity(s.db, vars["collection"], vars["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	if rec == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(rec)
}

func (s *BackendServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	body, ok := readObject(w, r)
	if !ok {
		return
	}
	if err := db.UpsertEntity(s.db, vars["collection"], vars["id"], body); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": vars["id"]})
}

// handleDelete is idempotent so a replayed delete never fails.
func (s *BackendServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, err := db.DeleteEntity(s.db, vars["collection"], vars["id"]); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *BackendServer) fail(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("backend request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "failed to read body", http.StatusBadRequest)
		}
		return nil, false
	}
	return body, true
}

func readObject(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, ok := readBody(w, r)
	if !ok {
		return nil, false
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		http.Error(w, "expected a JSON object", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}
