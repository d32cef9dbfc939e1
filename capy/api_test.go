package capy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPISecret = "api-secret"

func newTestAPI(t testing.TB) *testBot {
	t.Helper()
	bot := newTestCapy(
		t, func(cfg *Config) {
			cfg.API.Enabled = true
			cfg.API.Secret = testAPISecret
		},
	)
	require.NotNil(t, bot.api)
	return bot
}

// apiGet sends a GET request to the API, authenticated with the test
// secret unless auth is false
func apiGet(t testing.TB, bot *testBot, path string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testAPISecret)
	}
	w := httptest.NewRecorder()
	bot.api.engine.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t testing.TB, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestAPI_HealthCheck(t *testing.T) {
	bot := newTestAPI(t)
	bot.discord.connected.Store(true)
	bot.discord.metricConnects.Store(2)
	bot.discord.metricDisconnects.Store(1)

	// no authentication needed
	w := apiGet(t, bot, apiHealthCheck, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))

	health := decodeJSON[healthCheckResponse](t, w)
	assert.True(t, health.DiscordGatewayConnected)
	assert.Equal(t, int64(2), health.Connects)
	assert.Equal(t, int64(1), health.Disconnects)
	assert.Equal(t, 42*time.Millisecond, health.HeartbeatLatency)
	assert.Equal(t, 0, health.PendingPrompts)
}

func TestAPI_Unauthorized(t *testing.T) {
	bot := newTestAPI(t)

	for _, header := range []string{"", "Bearer wrong", testAPISecret, "Basic " + testAPISecret} {
		req := httptest.NewRequest(http.MethodGet, "/api/guilds/"+testGuildID+"/events", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		bot.api.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		assert.Equal(t, "unauthorized", decodeJSON[httpError](t, w).Error)
	}
}

func TestAPI_NoSecret(t *testing.T) {
	bot := newTestCapy(t, func(cfg *Config) { cfg.API.Enabled = true })
	w := apiGet(t, bot, "/api/guilds/"+testGuildID+"/events", false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_CORS(t *testing.T) {
	bot := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, apiHealthCheck, nil)
	req.Header.Set("Origin", "https://officers.example.com")
	w := httptest.NewRecorder()
	bot.api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPI_GuildEvents(t *testing.T) {
	bot := newTestAPI(t)
	createTestEvent(t, bot, &Event{Name: "past", StartsAt: testNow.Add(-48 * time.Hour).UnixMilli()})
	createTestEvent(t, bot, &Event{Name: "second", StartsAt: testNow.Add(48 * time.Hour).UnixMilli()})
	createTestEvent(t, bot, &Event{Name: "first", StartsAt: testNow.Add(time.Hour).UnixMilli()})
	createTestEvent(
		t,
		bot,
		&Event{GuildID: "guild-2", Name: "elsewhere", StartsAt: testNow.Add(time.Hour).UnixMilli()},
	)

	names := func(events []Event) []string {
		n := make([]string, 0, len(events))
		for _, e := range events {
			n = append(n, e.Name)
		}
		return n
	}

	tests := []struct {
		query string
		want  []string
	}{
		{query: "", want: []string{"first", "second"}},
		{query: "?limit=1", want: []string{"first"}},
		{query: "?limit=1&offset=1", want: []string{"second"}},
		{query: "?from=2026-09-01", want: []string{"past", "first", "second"}},
		{query: "?from=2027-01-01", want: []string{}},
	}
	for _, tc := range tests {
		t.Run(
			tc.query, func(t *testing.T) {
				w := apiGet(t, bot, "/api/guilds/"+testGuildID+"/events"+tc.query, true)
				require.Equal(t, http.StatusOK, w.Code, w.Body.String())
				assert.Equal(t, tc.want, names(decodeJSON[[]Event](t, w)))
			},
		)
	}
}

func TestAPI_GuildEvents_BadQuery(t *testing.T) {
	bot := newTestAPI(t)
	for _, query := range []string{"?limit=0x10", "?limit=500", "?offset=-1", "?from=10/01/26"} {
		w := apiGet(t, bot, "/api/guilds/"+testGuildID+"/events"+query, true)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.NotEmpty(t, decodeJSON[httpError](t, w).Error, query)
	}
}

func TestAPI_Event(t *testing.T) {
	bot := newTestAPI(t)
	ctx := context.Background()
	event := createTestEvent(
		t,
		bot,
		&Event{Name: "Hackathon", Location: "DCC", StartsAt: testNow.Add(time.Hour).UnixMilli()},
	)
	require.NoError(t, setAttendance(ctx, bot.writeDB, event.ID, "a", AttendanceYes))
	require.NoError(t, setAttendance(ctx, bot.writeDB, event.ID, "b", AttendanceNo))
	require.NoError(t, setAttendance(ctx, bot.writeDB, event.ID, "c", AttendanceYes))

	w := apiGet(t, bot, "/api/events/1", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	detail := decodeJSON[eventDetail](t, w)
	assert.Equal(t, event.ID, detail.ID)
	assert.Equal(t, "Hackathon", detail.Name)
	assert.Equal(t, "DCC", detail.Location)
	assert.Equal(t, testGuildID, detail.GuildID)
	assert.Equal(t, AttendanceCounts{Yes: 2, No: 1}, detail.Counts)
	assert.Equal(t, []string{"a", "c"}, detail.Going)
}

func TestAPI_Event_Errors(t *testing.T) {
	bot := newTestAPI(t)
	createTestEvent(t, bot, &Event{Name: "No RSVPs", StartsAt: testNow.Add(time.Hour).UnixMilli()})

	w := apiGet(t, bot, "/api/events/abc", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid event ID", decodeJSON[httpError](t, w).Error)

	w = apiGet(t, bot, "/api/events/99", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "event not found", decodeJSON[httpError](t, w).Error)

	w = apiGet(t, bot, "/api/events/1", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, AttendanceCounts{}, decodeJSON[eventDetail](t, w).Counts)
	assert.Contains(t, w.Body.String(), `"going":[]`)
}
