package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/tournament-standings/handlers"
	"github.com/Dosada05/tournament-standings/middleware"
	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/notify"
	"github.com/Dosada05/tournament-standings/repositories"
	"github.com/Dosada05/tournament-standings/scoring"
	"github.com/Dosada05/tournament-standings/services"
)

var jwtSecret = []byte("routes-test-secret")

type apiClient struct {
	t   *testing.T
	srv *httptest.Server
	hub *notify.Hub
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := notify.NewHub(logger)
	go hub.Run(ctx)
	dispatcher := notify.NewDispatcher(logger, 64, hub)
	go dispatcher.Run(ctx)

	store := repositories.NewMemoryStore()
	phaseStandings := services.NewPhaseStandingService(store, dispatcher, logger, 5*time.Minute, 2)
	registrations := services.NewRegistrationService(store, dispatcher, logger)
	tournaments := services.NewTournamentService(store, logger)
	matches := services.NewMatchService(store, registrations, scoring.NewCalculator(scoring.DefaultKillWeight), phaseStandings, dispatcher, logger)
	progression := services.NewProgressionService(store, phaseStandings, nil, dispatcher, logger)

	router := chi.NewRouter()
	SetupRoutes(router, Handlers{
		Tournament:   handlers.NewTournamentHandler(tournaments),
		Registration: handlers.NewRegistrationHandler(registrations),
		Match:        handlers.NewMatchHandler(matches),
		Standing:     handlers.NewStandingHandler(services.NewStandingService(store), phaseStandings),
		Progression:  handlers.NewProgressionHandler(progression),
		WebSocket:    handlers.NewWebSocketHandler(hub, tournaments, []string{"*"}, logger),
	}, Options{JWTSecret: jwtSecret, CORSOrigins: []string{"*"}, Logger: logger})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &apiClient{t: t, srv: srv, hub: hub}
}

func token(t *testing.T, actor models.Actor) string {
	t.Helper()
	tok, err := middleware.NewToken(jwtSecret, actor, time.Hour)
	require.NoError(t, err)
	return tok
}

func (c *apiClient) do(method, path, tok string, body interface{}) (int, map[string]json.RawMessage) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	out := map[string]json.RawMessage{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if len(data) > 0 {
		require.NoError(c.t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestTournamentLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t)
	org := token(t, models.Actor{ID: 1, Role: models.RoleOrganizer})
	player := token(t, models.Actor{ID: 50, Role: models.RolePlayer})

	status, body := api.do(http.MethodPost, "/tournaments", org, map[string]interface{}{
		"name":        "Night Cup",
		"total_slots": 16,
		"phases": []map[string]interface{}{
			{"name": "qualifiers", "type": "qualifiers", "qualification": map[string]interface{}{"slots": 1, "source": "overall", "next_phase": "finals"}},
			{"name": "finals", "type": "final_stage", "slots": 4},
		},
	})
	require.Equal(t, http.StatusCreated, status)
	tour := decode[models.Tournament](t, body["tournament"])
	base := "/tournaments/" + itoa(tour.ID)

	regIDs := map[int]int{}
	for _, teamID := range []int{11, 12} {
		status, body = api.do(http.MethodPost, base+"/registrations", player, map[string]interface{}{
			"team_id": teamID, "team_name": "Team " + itoa(teamID),
		})
		require.Equal(t, http.StatusCreated, status)
		reg := decode[models.Registration](t, body["registration"])
		regIDs[teamID] = reg.ID

		// players cannot approve
		status, _ = api.do(http.MethodPost, "/registrations/"+itoa(reg.ID)+"/approve", player, nil)
		require.Equal(t, http.StatusForbidden, status)
		status, _ = api.do(http.MethodPost, "/registrations/"+itoa(reg.ID)+"/approve", org, nil)
		require.Equal(t, http.StatusOK, status)
	}

	status, _ = api.do(http.MethodPost, base+"/phases/qualifiers/start", org, nil)
	require.Equal(t, http.StatusOK, status)

	ws := api.subscribe(tour.ID)

	status, body = api.do(http.MethodPost, base+"/matches", org, map[string]interface{}{
		"phase": "qualifiers", "team_ids": []int{11, 12},
	})
	require.Equal(t, http.StatusCreated, status)
	match := decode[models.Match](t, body["match"])

	status, _ = api.do(http.MethodPut, "/matches/"+itoa(match.ID)+"/results", org, map[string]interface{}{
		"results": []map[string]int{
			{"team_id": 11, "position": 1, "kills": 5},
			{"team_id": 12, "position": 2, "kills": 3},
		},
	})
	require.Equal(t, http.StatusOK, status)
	status, _ = api.do(http.MethodPost, "/matches/"+itoa(match.ID)+"/finalize", org, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = api.do(http.MethodGet, base+"/phases/qualifiers/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, status)
	standings := decode[[]models.Standing](t, body["standings"])
	require.Len(t, standings, 2)
	assert.Equal(t, 11, standings[0].TeamID)
	assert.Equal(t, 15, standings[0].Points)
	assert.Equal(t, 9, standings[1].Points)

	status, body = api.do(http.MethodGet, base+"/phases/qualifiers/standings", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[bool](t, body["stale"]))

	assert.True(t, ws.sawEvent(t, models.EventStandingsRecalculated))

	status, body = api.do(http.MethodPost, base+"/phases/qualifiers/complete", org, nil)
	require.Equal(t, http.StatusOK, status)
	final := decode[models.PhaseStanding](t, body["phase_standing"])
	assert.Equal(t, models.PhaseCompleted, final.Status)
	assert.Equal(t, []int{11}, final.QualifiedTeams)
	assert.Equal(t, []int{12}, final.EliminatedTeams)

	status, body = api.do(http.MethodGet, "/registrations/"+itoa(regIDs[11]), "", nil)
	require.Equal(t, http.StatusOK, status)
	winner := decode[models.Registration](t, body["registration"])
	require.NotNil(t, winner.CurrentPhase)
	assert.Equal(t, "finals", *winner.CurrentPhase)
}

func TestErrorMapping(t *testing.T) {
	api := newAPI(t)
	org := token(t, models.Actor{ID: 1, Role: models.RoleOrganizer})

	status, _ := api.do(http.MethodGet, "/tournaments/999", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = api.do(http.MethodGet, "/tournaments/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(http.MethodPost, "/tournaments", "", map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := api.do(http.MethodPost, "/tournaments", org, map[string]interface{}{"name": "No Phases", "total_slots": 8})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body, "error")

	status, _ = api.do(http.MethodPost, "/tournaments", org, map[string]interface{}{"name": "x", "unknown": true})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(http.MethodGet, "/tournaments?status=paused", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(http.MethodGet, "/standings/stale", org, nil)
	assert.Equal(t, http.StatusForbidden, status)

	admin := token(t, models.Actor{ID: 2, Role: models.RoleAdmin})
	status, body = api.do(http.MethodGet, "/standings/stale", admin, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, "[]", string(body["phase_standings"]))
}

type wsSubscriber struct {
	conn *websocket.Conn
}

func (c *apiClient) subscribe(tournamentID int) *wsSubscriber {
	c.t.Helper()
	url := "ws" + strings.TrimPrefix(c.srv.URL, "http") + "/ws/tournaments/" + itoa(tournamentID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { conn.Close() })

	room := notify.RoomForTournament(tournamentID)
	require.Eventually(c.t, func() bool { return c.hub.RoomSize(room) == 1 }, time.Second, 10*time.Millisecond)
	return &wsSubscriber{conn: conn}
}

func (s *wsSubscriber) sawEvent(t *testing.T, eventType models.EventType) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.conn.SetReadDeadline(deadline)
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return false
		}
		var msg notify.WebSocketMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == string(eventType) {
			return true
		}
	}
	return false
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
