package handler

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/manomitra-client/internal/config"
	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
	"github.com/zhouzirui/manomitra-client/internal/peer"
	"github.com/zhouzirui/manomitra-client/internal/service/connection"
	"github.com/zhouzirui/manomitra-client/internal/service/export"
	sessionsvc "github.com/zhouzirui/manomitra-client/internal/service/session"
)

func startPeer(t *testing.T) string {
	t.Helper()
	r := chi.NewRouter()
	peer.NewHandler(peer.Options{}, zerolog.Nop()).RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/conversation"
}

func setupRouter(t *testing.T, url string) (http.Handler, *sessionsvc.Engine) {
	t.Helper()
	remote := connection.DefaultOptions(url)
	remote.DialTimeout = time.Second
	remote.ReconnectAttempts = 1

	settings := config.DefaultSettings()
	settings.AudioOutputEnabled = false

	engine := sessionsvc.New(sessionsvc.Options{
		Remote:   remote,
		Settings: config.NewSettingsStore("", settings),
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(engine.Close)
	return NewRouter(engine, nil, zerolog.Nop()), engine
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, sonic.ConfigStd.Unmarshal(resp.Body.Bytes(), dst))
}

func TestConversationOverHTTP(t *testing.T) {
	h, engine := setupRouter(t, startPeer(t))

	resp := do(t, h, http.MethodPost, "/api/session/connect", "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = do(t, h, http.MethodPost, "/api/session/text", `{"text":"hello there"}`)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	require.Eventually(t, func() bool {
		return len(engine.History(conversation.Criteria{})) == 2
	}, 5*time.Second, 10*time.Millisecond)

	resp = do(t, h, http.MethodGet, "/api/history?sender=agent", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Turns []conversation.Turn `json:"turns"`
		Count int                 `json:"count"`
	}
	decode(t, resp, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, conversation.SenderAgent, list.Turns[0].Sender)

	resp = do(t, h, http.MethodGet, "/api/history?q=HELLO&modality=text", "")
	decode(t, resp, &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "hello there", list.Turns[0].Text)

	resp = do(t, h, http.MethodGet, "/api/history/stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var stats conversation.Statistics
	decode(t, resp, &stats)
	assert.Equal(t, 1, stats.TotalUserTurns)
	assert.Equal(t, 1, stats.TotalAgentTurns)

	resp = do(t, h, http.MethodGet, "/api/session", "")
	var state struct {
		Connection string `json:"connectionState"`
		TurnCount  int    `json:"turnCount"`
	}
	decode(t, resp, &state)
	assert.Equal(t, "connected", state.Connection)
	assert.Equal(t, 2, state.TurnCount)
}

func TestExportAndImportPreview(t *testing.T) {
	h, engine := setupRouter(t, startPeer(t))
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/session/connect", "").Code)
	require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/session/text", `{"text":"I am worried"}`).Code)
	require.Eventually(t, func() bool {
		return len(engine.History(conversation.Criteria{})) == 2
	}, 5*time.Second, 10*time.Millisecond)

	resp := do(t, h, http.MethodGet, "/api/history/export?sender=user", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "attachment")

	doc, err := export.Unmarshal(resp.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, export.Format, doc.Format)
	assert.Equal(t, engine.ID(), doc.SessionID)
	assert.Equal(t, 1, doc.Count)
	require.NotNil(t, doc.Criteria)
	assert.Equal(t, conversation.SenderUser, doc.Criteria.Sender)

	resp = do(t, h, http.MethodPost, "/api/history/import", resp.Body.String())
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var preview struct {
		Count int `json:"count"`
	}
	decode(t, resp, &preview)
	assert.Equal(t, 1, preview.Count)

	// preview leaves the log alone
	assert.Len(t, engine.History(conversation.Criteria{}), 2)

	gz := do(t, h, http.MethodGet, "/api/history/export?compress=gzip", "")
	require.Equal(t, http.StatusOK, gz.Code)
	assert.Equal(t, "application/gzip", gz.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(gz.Body.Bytes(), []byte{0x1f, 0x8b}))

	resp = do(t, h, http.MethodDelete, "/api/history", "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Empty(t, engine.History(conversation.Criteria{}))
}

func TestImportRejectsBadDocuments(t *testing.T) {
	h, _ := setupRouter(t, "ws://127.0.0.1:1/ws/conversation")

	resp := do(t, h, http.MethodPost, "/api/history/import", `{"format":`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(t, h, http.MethodPost, "/api/history/import", `{"format":"other/v9","turns":[],"count":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = do(t, h, http.MethodPost, "/api/history/import", `{"format":"manomitra.conversation/v1","turns":[],"count":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHistoryRejectsUnknownFilters(t *testing.T) {
	h, _ := setupRouter(t, "ws://127.0.0.1:1/ws/conversation")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/history?emotion=bored", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/history?modality=video", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/history?sender=system", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/history?emotion=any&sender=any", "").Code)
}

func TestSessionErrorsMapToStatus(t *testing.T) {
	h, _ := setupRouter(t, "ws://127.0.0.1:1/ws/conversation")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/session/text", `{"text":"   "}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/session/text", `{"text":"hi"}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/session/capture/start", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/session/capture/stop", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/session/connect", "").Code)
}

func TestSettingsUpdate(t *testing.T) {
	h, engine := setupRouter(t, "ws://127.0.0.1:1/ws/conversation")

	resp := do(t, h, http.MethodPut, "/api/settings", `{"language":"TE","voiceSpeed":1.5}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, protocol.Telugu, engine.Settings().Language)
	assert.Equal(t, 1.5, engine.Settings().VoiceSpeed)
	assert.False(t, engine.Settings().AudioOutputEnabled)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/settings", `{"language":"fr"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/settings", `{"voiceSpeed":3}`).Code)

	resp = do(t, h, http.MethodGet, "/api/settings", "")
	var got config.Settings
	decode(t, resp, &got)
	assert.Equal(t, protocol.Telugu, got.Language)
}

func TestMetricsAndHealth(t *testing.T) {
	h, engine := setupRouter(t, "ws://127.0.0.1:1/ws/conversation")

	resp := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "manomitra_client_connected")

	resp = do(t, h, http.MethodGet, "/healthz", "")
	assert.Contains(t, resp.Body.String(), engine.ID())
}

func TestEventStreamStartsWithState(t *testing.T) {
	h, engine := setupRouter(t, "ws://127.0.0.1:1/ws/conversation")
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/session/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, data := readEvent()
	assert.Equal(t, "state", name)
	assert.Contains(t, data, engine.ID())

	engine.Clear()
	name, _ = readEvent()
	assert.Equal(t, "cleared", name)
}
