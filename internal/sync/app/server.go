// Package app exposes the sync service over HTTP: event ingestion, catch-up
// polling, and the server-sent-events push relay.
package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/louisbranch/storytree/internal/sync/catchup"
	"github.com/louisbranch/storytree/internal/sync/cursor"
	"github.com/louisbranch/storytree/internal/sync/domain/event"
	"github.com/louisbranch/storytree/internal/sync/publisher"
	"github.com/louisbranch/storytree/internal/sync/storage"
)

// viewerHeader identifies the acting user. Authentication happens upstream;
// the sync service trusts the header the gateway injects.
const viewerHeader = "X-Viewer-ID"

// Server wires the HTTP surface of the sync service.
type Server struct {
	publisher *publisher.Publisher
	catchup   *catchup.Service
	relay     *Relay
	pool      *storage.Pool
}

// NewServer builds the sync HTTP server. relay may be nil when no push
// channel is configured; the stream endpoint then reports unavailable.
func NewServer(pub *publisher.Publisher, catchupSvc *catchup.Service, relay *Relay, pool *storage.Pool) (*Server, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if catchupSvc == nil {
		return nil, fmt.Errorf("catch-up service is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("storage pool is required")
	}
	return &Server{publisher: pub, catchup: catchupSvc, relay: relay, pool: pool}, nil
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleCreateEvents)
	mux.HandleFunc("POST /v1/updates", s.handleUpdates)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type createEventsRequest struct {
	Type   string            `json:"type"`
	Data   map[string]string `json:"data"`
	Action string            `json:"action,omitempty"`
}

func (s *Server) handleCreateEvents(w http.ResponseWriter, r *http.Request) {
	var req createEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.publisher.CreateEvents(r.Context(), event.Type(req.Type), req.Data, publisher.Context{
		Action:  req.Action,
		ActorID: r.Header.Get(viewerHeader),
	})
	if err != nil {
		if errors.Is(err, event.ErrUnknownType) || errors.Is(err, event.ErrMissingField) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("create events failed: %v", err)
		writeError(w, http.StatusInternalServerError, "event creation failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type updatesRequest struct {
	// Cursor is the opaque token from the previous poll; blank starts from
	// the beginning of the viewer's interest, not the log.
	Cursor     string `json:"cursor,omitempty"`
	RootID     string `json:"root_id,omitempty"`
	Filter     string `json:"filter,omitempty"`
	SearchTerm string `json:"search_term,omitempty"`
}

type updatesResponse struct {
	Cursor        string `json:"cursor"`
	ModifiedGames any    `json:"modified_games,omitempty"`
	ModifiedNodes any    `json:"modified_nodes,omitempty"`
	SearchResults any    `json:"search_results,omitempty"`
	Notifications any    `json:"notifications,omitempty"`
	CheckedAt     string `json:"checked_at"`
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	var req updatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	viewerID := r.Header.Get(viewerHeader)
	checkReq := catchup.Request{
		ViewerID:   viewerID,
		RootID:     req.RootID,
		Filter:     req.Filter,
		SearchTerm: req.SearchTerm,
	}

	if req.Cursor != "" {
		decoded, err := cursor.Decode(req.Cursor)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		// A filter change invalidates the cursor's watermarks: the client
		// restarts with a fresh full view instead of a partial diff.
		if err := cursor.ValidateFilterHash(decoded, req.Filter); err == nil {
			checkReq.LastEventID = decoded.LastEventID
			checkReq.LastTreeCheck = decoded.LastTreeCheck
			checkReq.LastGameCheck = decoded.LastGameCheck
		}
	}

	result, err := s.catchup.Check(r.Context(), checkReq)
	if err != nil {
		log.Printf("catch-up for viewer %q failed: %v", viewerID, err)
		writeError(w, http.StatusInternalServerError, "catch-up failed")
		return
	}

	token, err := cursor.Encode(cursor.New(result.NewCursor, result.CheckedAt, result.CheckedAt, req.Filter))
	if err != nil {
		log.Printf("cursor encoding failed: %v", err)
		writeError(w, http.StatusInternalServerError, "cursor encoding failed")
		return
	}

	resp := updatesResponse{
		Cursor:    token,
		CheckedAt: result.CheckedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(result.ModifiedGames) > 0 {
		resp.ModifiedGames = result.ModifiedGames
	}
	if len(result.ModifiedNodes) > 0 {
		resp.ModifiedNodes = result.ModifiedNodes
	}
	if len(result.SearchResults) > 0 {
		resp.SearchResults = result.SearchResults
	}
	if len(result.Notifications) > 0 {
		resp.Notifications = result.Notifications
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil || !s.relay.Available(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "push channel unavailable, use polling")
		return
	}
	s.relay.ServeStream(w, r, StreamRequest{
		ViewerID: r.Header.Get(viewerHeader),
		RootID:   r.URL.Query().Get("root_id"),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.HealthCheck(r.Context()); err != nil {
		log.Printf("health check failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	// The log head doubles as a liveness signal for poll clients deciding
	// whether a sync is worth issuing.
	store, err := s.pool.Borrow()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	latest, err := store.LatestEventID(r.Context())
	s.pool.Return(store)
	if err != nil {
		log.Printf("latest event id: %v", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", LatestEventID: latest})
}

type healthResponse struct {
	Status        string `json:"status"`
	LatestEventID uint64 `json:"latest_event_id"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// HTTPServer returns a configured http.Server bound to addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
