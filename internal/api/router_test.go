package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ernie/rally/internal/arena"
	"github.com/ernie/rally/internal/auth"
	"github.com/ernie/rally/internal/domain"
	"github.com/ernie/rally/internal/storage"
	"github.com/ernie/rally/internal/tournament"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *Router
	store  *storage.Store
	coord  *arena.Coordinator
	orch   *tournament.Orchestrator
	auth   *auth.Service
	alice  *domain.Player
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "rally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)
	alice, err := store.CreatePlayer(context.Background(), "alice", hash)
	require.NoError(t, err)

	coord := arena.NewCoordinator(arena.DefaultSettings())
	orch := tournament.New(nil, tournament.WithArchive(store))
	orch.Bind(coord, coord)
	authService := auth.NewService("test-secret", time.Hour)

	return &testServer{
		router: NewRouter(store, coord, orch, authService, Options{WriteTimeout: time.Second}),
		store:  store,
		coord:  coord,
		orch:   orch,
		auth:   authService,
		alice:  alice,
	}
}

func (s *testServer) do(t *testing.T, method, target string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["rooms"])
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{name: "ok", body: LoginRequest{Name: "alice", Password: "correct horse"}, want: http.StatusOK},
		{name: "case insensitive name", body: LoginRequest{Name: "ALICE", Password: "correct horse"}, want: http.StatusOK},
		{name: "wrong password", body: LoginRequest{Name: "alice", Password: "nope"}, want: http.StatusUnauthorized},
		{name: "unknown player", body: LoginRequest{Name: "mallory", Password: "correct horse"}, want: http.StatusUnauthorized},
		{name: "bad name", body: LoginRequest{Name: "a b", Password: "x"}, want: http.StatusUnauthorized},
		{name: "missing fields", body: LoginRequest{}, want: http.StatusBadRequest},
		{name: "not json", body: "garbage", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "POST", "/api/auth/login", tt.body, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want != http.StatusOK {
				return
			}
			var resp LoginResponse
			decode(t, rec, &resp)
			assert.Equal(t, s.alice.ID, resp.PlayerID)
			claims, err := s.auth.ValidateToken(resp.Token)
			require.NoError(t, err)
			assert.Equal(t, "alice", claims.Name)
		})
	}

	creds, err := s.store.GetCredentials(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotNil(t, creds.LastLogin)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	token, _, err := s.auth.GenerateToken(s.alice.ID, "alice")
	require.NoError(t, err)
	bearer := http.Header{"Authorization": {"Bearer " + token}}

	rec := s.do(t, "POST", "/api/auth/change-password", ChangePasswordRequest{CurrentPassword: "correct horse", NewPassword: "battery staple"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, "POST", "/api/auth/change-password", ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "battery staple"}, bearer)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, "POST", "/api/auth/change-password", ChangePasswordRequest{CurrentPassword: "correct horse", NewPassword: "short"}, bearer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, "POST", "/api/auth/change-password", ChangePasswordRequest{CurrentPassword: "correct horse", NewPassword: "battery staple"}, bearer)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, "POST", "/api/auth/login", LoginRequest{Name: "alice", Password: "battery staple"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthCheck(t *testing.T) {
	s := newTestServer(t)
	token, _, err := s.auth.GenerateToken(s.alice.ID, "alice")
	require.NoError(t, err)

	var body map[string]interface{}
	decode(t, s.do(t, "GET", "/api/auth/check", nil, nil), &body)
	assert.Equal(t, false, body["authenticated"])

	decode(t, s.do(t, "GET", "/api/auth/check", nil, http.Header{"Authorization": {"Bearer " + token}}), &body)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "alice", body["name"])
}

func TestGetPlayer(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/api/players/"+strconv.FormatInt(s.alice.ID, 10), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Player         domain.Player `json:"player"`
		TournamentWins int           `json:"tournament_wins"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "alice", body.Player.Name)
	assert.Equal(t, "Bronze I", body.Player.Progression.RankTier)

	assert.Equal(t, http.StatusNotFound, s.do(t, "GET", "/api/players/999", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, "GET", "/api/players/abc", nil, nil).Code)
}

func TestLeaderboardAndMatches(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/api/leaderboard?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.LeaderboardEntry
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Rank)

	rec = s.do(t, "GET", "/api/matches", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestRooms(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "GET", "/api/rooms", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestGetTournament(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, "GET", "/api/tournaments/not-a-uuid", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "GET", "/api/tournaments/"+uuid.NewString(), nil, nil).Code)

	archived := domain.Tournament{
		ID:        uuid.NewString(),
		Status:    domain.TournamentCompleted,
		Players:   []domain.PlayerIdentity{{ID: s.alice.ID, Name: "alice"}},
		Champion:  &domain.PlayerIdentity{ID: s.alice.ID, Name: "alice"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.store.SaveTournament(context.Background(), archived))

	rec := s.do(t, "GET", "/api/tournaments/"+archived.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Tournament
	decode(t, rec, &got)
	assert.Equal(t, archived.ID, got.ID)
	require.NotNil(t, got.Champion)
	assert.Equal(t, "alice", got.Champion.Name)
}

func TestListTournaments(t *testing.T) {
	s := newTestServer(t)
	_, started, err := s.orch.AddToQueue(context.Background(), s.alice.Identity())
	require.NoError(t, err)
	require.Nil(t, started)

	rec := s.do(t, "GET", "/api/tournaments", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Queued      int                 `json:"queued"`
		Tournaments []domain.Tournament `json:"tournaments"`
	}
	decode(t, rec, &body)
	assert.Equal(t, 1, body.Queued)
	assert.Empty(t, body.Tournaments)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "OPTIONS", "/api/rooms", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginChecker(t *testing.T) {
	open := originChecker(nil)
	strict := originChecker([]string{"https://rally.example/"})

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.True(t, open(req))
	assert.False(t, strict(req))

	req.Header.Set("Origin", "https://rally.example")
	assert.True(t, strict(req))
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

func readEvent(t *testing.T, conn *websocket.Conn, eventType string) domain.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev domain.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == eventType {
			return ev
		}
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent(t, conn, domain.EventAuthError)
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseAuthFailed, closeErr.Code)
	assert.Zero(t, s.coord.Connections())
}

func TestWebSocketJoinSolo(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	token, _, err := s.auth.GenerateToken(s.alice.ID, "alice")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.coord.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	ev := readEvent(t, conn, domain.EventError)
	assert.Contains(t, ev.Data.(map[string]interface{})["message"], "unknown message type")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"join","mode":"solo"}`)))
	require.Eventually(t, func() bool {
		s.coord.Step(time.Now())
		return len(s.coord.Rooms()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	joined := readEvent(t, conn, domain.EventGameJoined)
	assert.Equal(t, "both", joined.Data.(map[string]interface{})["role"])
	readEvent(t, conn, domain.EventState)

	conn.Close()
	require.Eventually(t, func() bool {
		s.coord.Step(time.Now())
		return s.coord.Connections() == 0 && len(s.coord.Rooms()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestValidators(t *testing.T) {
	assert.True(t, validPlayerName("alice_01"))
	assert.False(t, validPlayerName("a"))
	assert.False(t, validPlayerName("bad name"))
	assert.False(t, validPlayerName(strings.Repeat("x", 33)))

	req := httptest.NewRequest("GET", "/?limit=500", nil)
	assert.Equal(t, 20, parseLimit(req, 20, 100))
	req = httptest.NewRequest("GET", "/?limit=7", nil)
	assert.Equal(t, 7, parseLimit(req, 20, 100))
}
