// Package gateway exposes the service over HTTP: a small REST surface for
// session lifecycle and a WebSocket channel for commands and snapshot sync.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dartcounter/dartcounter/internal/match"
	"github.com/dartcounter/dartcounter/internal/session"
)

// Gateway wires the session store to the HTTP and WebSocket surface.
type Gateway struct {
	store    *session.Store
	upgrader websocket.Upgrader
	wsConfig ConnectionConfig
}

// New creates a gateway over the given store.
func New(store *session.Store, wsConfig ConnectionConfig) *Gateway {
	return &Gateway{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsConfig.ReadBufferSize,
			WriteBufferSize: wsConfig.WriteBufferSize,
			CheckOrigin:     wsConfig.CheckOrigin,
		},
		wsConfig: wsConfig,
	}
}

// Routes returns the gateway's handler tree.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", g.handleCreate)
	mux.HandleFunc("GET /api/sessions/{code}", g.handleGet)
	mux.HandleFunc("POST /api/sessions/{code}/join", g.handleJoin)
	mux.HandleFunc("POST /api/sessions/{code}/start", g.handleStart)
	mux.HandleFunc("POST /api/sessions/{code}/reset", g.handleReset)
	mux.HandleFunc("DELETE /api/sessions/{code}", g.handleDelete)
	mux.HandleFunc("GET /ws", g.handleWebSocket)
	mux.HandleFunc("GET /health", g.handleHealth)
	return mux
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	PlayerNames   []string `json:"playerNames"`
	StartingScore int      `json:"startingScore"`
	CheckoutRule  string   `json:"checkoutRule,omitempty"`
}

// ErrorResponse is the JSON body of every non-2xx REST response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (g *Gateway) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", match.ErrValidation))
		return
	}

	rule, err := parseRule(req.CheckoutRule)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := g.store.Create(req.PlayerNames, req.StartingScore, rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := g.store.Get(r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (g *Gateway) handleJoin(w http.ResponseWriter, r *http.Request) {
	sess, err := g.store.Get(r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	if sess.Status() == match.StatusFinished {
		writeError(w, fmt.Errorf("%w: game already finished", match.ErrInvalidState))
		return
	}
	sess.Touch()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (g *Gateway) handleStart(w http.ResponseWriter, r *http.Request) {
	g.applyCommand(w, r, session.Command{Action: session.ActionStart})
}

func (g *Gateway) handleReset(w http.ResponseWriter, r *http.Request) {
	g.applyCommand(w, r, session.Command{Action: session.ActionReset})
}

func (g *Gateway) applyCommand(w http.ResponseWriter, r *http.Request, cmd session.Command) {
	sess, err := g.store.Get(r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := sess.Apply(cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Delete(r.PathValue("code")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": g.store.Len(),
	})
}

func parseRule(raw string) (match.CheckoutRule, error) {
	switch raw {
	case "", "double", string(match.RuleDoubleOut):
		return match.RuleDoubleOut, nil
	case "triple", string(match.RuleTripleOut):
		return match.RuleTripleOut, nil
	default:
		return "", fmt.Errorf("%w: unknown checkout rule %q", match.ErrValidation, raw)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case errors.Is(err, match.ErrValidation):
		status, kind = http.StatusBadRequest, "validation"
	case errors.Is(err, match.ErrInvalidState):
		status, kind = http.StatusBadRequest, "invalid_state"
	case errors.Is(err, session.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Message: err.Error()})
}
