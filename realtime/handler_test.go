package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse/auth"
	"github.com/pulsehq/pulse/services"
)

const handlerTestSecret = "handler-test-secret"

type handlerFixture struct {
	server   *httptest.Server
	verifier *auth.Service
	hub      *Hub
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier := auth.NewService(auth.Config{
		Secret:   handlerTestSecret,
		Issuer:   "pulse",
		TokenTTL: time.Hour,
	}, nil, nil)

	hub := NewHub(64)
	store := services.NewMemoryStore()
	dispatcher := NewDispatcher(
		hub,
		NewLimiter(LimiterConfig{Capacity: 1000, RefillRate: 1000}),
		NewIdempotencyCache(5*time.Minute),
		NewCaller(CallerConfig{MaxAttempts: 1, BaseBackoff: time.Millisecond, Deadline: time.Second}),
		store.Registry(),
		DispatcherConfig{MaxBatchSize: 25},
	)
	signer := NewSigner(SignerConfig{Secret: handlerTestSecret})
	handler := NewHandler(hub, dispatcher, signer, verifier, 64*1024)

	router := gin.New()
	router.GET("/ws", handler.HandleWS)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &handlerFixture{server: server, verifier: verifier, hub: hub}
}

func (f *handlerFixture) wsURL(token string) string {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func TestHandshakeAcceptsValidCredential(t *testing.T) {
	f := newHandlerFixture(t)

	token, err := f.verifier.IssueToken(auth.Identity{UserID: uuid.New(), Email: "a@example.com"})
	require.NoError(t, err)

	ws, resp, err := websocket.DefaultDialer.Dial(f.wsURL(token), nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, ws.WriteJSON(Command{Type: CmdPing, RequestID: "r1"}))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)

	var result CommandResult
	require.NoError(t, json.Unmarshal(frame, &result))
	assert.True(t, result.Success)
	assert.Equal(t, CmdPing, result.CommandType)
	assert.Equal(t, "r1", result.RequestID)
}

func TestHandshakeRefusesExpiredCredential(t *testing.T) {
	f := newHandlerFixture(t)

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Issuer:    "pulse",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ID:        uuid.New().String(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(handlerTestSecret))
	require.NoError(t, err)

	ws, resp, err := websocket.DefaultDialer.Dial(f.wsURL(token), nil)
	require.Error(t, err)
	require.Nil(t, ws)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Refusal happens before any registry entry exists
	assert.Equal(t, 0, f.hub.SnapshotStats().TotalConnections)
}

func TestHandshakeRefusesMissingCredential(t *testing.T) {
	f := newHandlerFixture(t)

	ws, resp, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
	require.Error(t, err)
	require.Nil(t, ws)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeAcceptsBearerHeader(t *testing.T) {
	f := newHandlerFixture(t)

	token, err := f.verifier.IssueToken(auth.Identity{UserID: uuid.New()})
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL(""), header)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	assert.Eventually(t, func() bool {
		return f.hub.SnapshotStats().TotalConnections == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSecuredFrameRoundTrip(t *testing.T) {
	f := newHandlerFixture(t)

	userID := uuid.New()
	token, err := f.verifier.IssueToken(auth.Identity{UserID: userID})
	require.NoError(t, err)

	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL(token), nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	signer := NewSigner(SignerConfig{Secret: handlerTestSecret})
	payload, err := json.Marshal(Command{Type: CmdPing, RequestID: "sec1"})
	require.NoError(t, err)
	envelope := signer.Sign(payload, userID.String())

	require.NoError(t, ws.WriteJSON(envelope))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var result CommandResult
	require.NoError(t, ws.ReadJSON(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "sec1", result.RequestID)
}

func TestSecuredFrameTamperRejectedWithoutDisconnect(t *testing.T) {
	f := newHandlerFixture(t)

	userID := uuid.New()
	token, err := f.verifier.IssueToken(auth.Identity{UserID: userID})
	require.NoError(t, err)

	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL(token), nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	signer := NewSigner(SignerConfig{Secret: handlerTestSecret})
	payload, err := json.Marshal(Command{Type: CmdPing})
	require.NoError(t, err)
	envelope := signer.Sign(payload, userID.String())
	envelope.Signature = "deadbeef"

	require.NoError(t, ws.WriteJSON(envelope))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var result CommandResult
	require.NoError(t, ws.ReadJSON(&result))
	require.False(t, result.Success)
	assert.Equal(t, CodeSecurity, result.Error.Code)

	// The connection survives the rejected frame
	require.NoError(t, ws.WriteJSON(Command{Type: CmdPing}))
	var second CommandResult
	require.NoError(t, ws.ReadJSON(&second))
	assert.True(t, second.Success)
}
