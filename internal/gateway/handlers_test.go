package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/dartcounter/dartcounter/internal/match"
	"github.com/dartcounter/dartcounter/internal/session"
)

func newTestGateway(t *testing.T) (*Gateway, *session.Store) {
	t.Helper()
	store := session.NewStore(clockwork.NewFakeClock(), 30*time.Minute, nil)
	return New(store, DefaultConnectionConfig()), store
}

func createSession(t *testing.T, g *Gateway, body string) match.Snapshot {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var snap match.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func TestCreateSession(t *testing.T) {
	g, _ := newTestGateway(t)

	snap := createSession(t, g, `{"playerNames":["Alice","Bob"],"startingScore":501}`)
	if snap.Status != match.StatusWaiting {
		t.Fatalf("status = %s, want WAITING", snap.Status)
	}
	if snap.StartingScore != 501 {
		t.Fatalf("starting score = %d, want 501", snap.StartingScore)
	}
	if len(snap.SessionCode) != session.CodeLength {
		t.Fatalf("session code %q", snap.SessionCode)
	}
	if len(snap.Players) != 2 || snap.Players[0].Name != "Alice" {
		t.Fatalf("players = %+v", snap.Players)
	}
}

func TestCreateSessionRejections(t *testing.T) {
	g, _ := newTestGateway(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "one player", body: `{"playerNames":["Alice"],"startingScore":501}`},
		{name: "bad score", body: `{"playerNames":["Alice","Bob"],"startingScore":400}`},
		{name: "bad rule", body: `{"playerNames":["Alice","Bob"],"startingScore":301,"checkoutRule":"quadruple"}`},
		{name: "malformed json", body: `{"playerNames":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			g.Routes().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var errResp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if errResp.Error != "validation" {
				t.Fatalf("error kind = %q, want validation", errResp.Error)
			}
		})
	}
}

func TestGetSession(t *testing.T) {
	g, _ := newTestGateway(t)
	snap := createSession(t, g, `{"playerNames":["Alice","Bob"],"startingScore":301,"checkoutRule":"triple"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+strings.ToLower(snap.SessionCode), nil)
	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got match.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SessionCode != snap.SessionCode {
		t.Fatalf("code = %q, want %q", got.SessionCode, snap.SessionCode)
	}
}

func TestGetUnknownSession(t *testing.T) {
	g, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/ZZZZZZ", nil)
	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStartAndReset(t *testing.T) {
	g, _ := newTestGateway(t)
	snap := createSession(t, g, `{"playerNames":["Alice","Bob"],"startingScore":301}`)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+snap.SessionCode+"/start", nil)
	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}
	var started match.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.Status != match.StatusActive || started.Message != "Game started!" {
		t.Fatalf("started snapshot = %s %q", started.Status, started.Message)
	}

	// A second start hits the already-active state.
	rec = httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/"+snap.SessionCode+"/start", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second start status = %d, want 400", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error != "invalid_state" {
		t.Fatalf("error kind = %q, want invalid_state", errResp.Error)
	}

	rec = httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/"+snap.SessionCode+"/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, body %s", rec.Code, rec.Body.String())
	}
	var reset match.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &reset); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reset.Status != match.StatusActive || reset.Message != "Game reset" {
		t.Fatalf("reset snapshot = %s %q", reset.Status, reset.Message)
	}
}

func TestJoinFinishedSessionRejected(t *testing.T) {
	g, store := newTestGateway(t)
	snap := createSession(t, g, `{"playerNames":["Alice","Bob"],"startingScore":301}`)

	sess, err := store.Get(snap.SessionCode)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := sess.Apply(session.Command{Action: session.ActionStart}); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Alice scores 180, Bob misses his turn, Alice takes out 121.
	for _, d := range [][2]int{
		{20, 3}, {20, 3}, {20, 3},
		{0, 1}, {0, 1}, {0, 1},
		{20, 3}, {11, 1}, {25, 2},
	} {
		base, mult := d[0], d[1]
		if _, err := sess.Apply(session.Command{Action: session.ActionThrow, Base: &base, Multiplier: &mult}); err != nil {
			t.Fatalf("throw %v: %v", d, err)
		}
	}

	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/"+snap.SessionCode+"/join", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("join finished status = %d, want 400", rec.Code)
	}
}

func TestJoinReturnsSnapshot(t *testing.T) {
	g, _ := newTestGateway(t)
	snap := createSession(t, g, `{"playerNames":["Alice","Bob"],"startingScore":501}`)

	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/"+snap.SessionCode+"/join", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteSession(t *testing.T) {
	g, store := newTestGateway(t)
	snap := createSession(t, g, `{"playerNames":["Alice","Bob"],"startingScore":501}`)

	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+snap.SessionCode, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if store.Len() != 0 {
		t.Fatalf("store has %d sessions after delete", store.Len())
	}

	rec = httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+snap.SessionCode, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	g, _ := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func dialWS(t *testing.T, server *httptest.Server, code string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?code=" + code
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) match.Snapshot {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var snap match.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot %s: %v", data, err)
	}
	return snap
}

func TestWebSocketCommandFlow(t *testing.T) {
	g, _ := newTestGateway(t)
	server := httptest.NewServer(g.Routes())
	defer server.Close()

	created := createSession(t, g, `{"playerNames":["Alice","Bob"],"startingScore":501}`)

	conn := dialWS(t, server, created.SessionCode)
	defer conn.Close()
	other := dialWS(t, server, created.SessionCode)
	defer other.Close()

	if snap := readSnapshot(t, conn); snap.Version != 0 {
		t.Fatalf("initial snapshot version = %d, want 0", snap.Version)
	}
	readSnapshot(t, other)

	if err := conn.WriteJSON(session.Command{Action: session.ActionStart}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	if snap := readSnapshot(t, conn); snap.Status != match.StatusActive {
		t.Fatalf("status after start = %s", snap.Status)
	}
	if snap := readSnapshot(t, other); snap.Status != match.StatusActive {
		t.Fatalf("other connection missed the start broadcast: %s", snap.Status)
	}

	if err := conn.WriteJSON(map[string]any{"action": "throw", "base": 20, "multiplier": 3}); err != nil {
		t.Fatalf("write throw: %v", err)
	}
	snap := readSnapshot(t, conn)
	if snap.Players[0].Score != 441 {
		t.Fatalf("score = %d, want 441", snap.Players[0].Score)
	}
	if got := readSnapshot(t, other); got.Version != snap.Version {
		t.Fatalf("subscriber version = %d, want %d", got.Version, snap.Version)
	}
}

func TestWebSocketErrorSnapshotStaysPrivate(t *testing.T) {
	g, _ := newTestGateway(t)
	server := httptest.NewServer(g.Routes())
	defer server.Close()

	created := createSession(t, g, `{"playerNames":["Alice","Bob"],"startingScore":501}`)

	conn := dialWS(t, server, created.SessionCode)
	defer conn.Close()
	other := dialWS(t, server, created.SessionCode)
	defer other.Close()
	readSnapshot(t, conn)
	readSnapshot(t, other)

	// Throw before start: rejected, answered only on the issuing connection.
	if err := conn.WriteJSON(map[string]any{"action": "throw", "base": 20, "multiplier": 3}); err != nil {
		t.Fatalf("write throw: %v", err)
	}
	snap := readSnapshot(t, conn)
	if !snap.IsError() {
		t.Fatalf("expected error snapshot, got %+v", snap)
	}

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatal("error snapshot was broadcast to other connection")
	}
}

func TestWebSocketUnknownSessionRejected(t *testing.T) {
	g, _ := newTestGateway(t)
	server := httptest.NewServer(g.Routes())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?code=ZZZZZZ"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial to unknown session succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v, want 404", resp)
	}
}
