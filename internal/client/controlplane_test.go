package client

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiosync/studiosync/internal/client/dispatch"
)

const testOrigin = "https://app.studiosync.test"

func newTestRoutes(t *testing.T) (http.Handler, *dispatch.Dispatcher, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dispatcher := dispatch.New(&dispatch.Deps{})
	handler := SetupRoutes(dispatcher, &ControlPlaneConfig{
		Addr:      "127.0.0.1:0",
		WebOrigin: testOrigin,
		PublicKey: &key.PublicKey,
	}, func() bool { return true })
	return handler, dispatcher, key
}

func signCommand(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["exp"] = time.Now().Add(time.Minute).Unix()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func postCommand(handler http.Handler, path, referer, data string) *httptest.ResponseRecorder {
	form := url.Values{}
	if data != "" {
		form.Set("data", data)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	handler, _, _ := newTestRoutes(t)

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pong", body["result"])
	assert.Equal(t, true, body["auth"])
	assert.NotEmpty(t, body["task_id"])
}

func TestResultsDrain(t *testing.T) {
	handler, dispatcher, _ := newTestRoutes(t)
	dispatcher.Events().Push(dispatch.NewEvent("t1", dispatch.StatusComplete, map[string]any{"song": "Anthem"}))

	req := httptest.NewRequest(http.MethodGet, "/api/results", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "t1", body.Results[0]["task_id"])
	assert.Equal(t, "complete", body.Results[0]["status"])
	assert.Equal(t, "Anthem", body.Results[0]["song"])

	// Drained, so a second read is empty.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/results", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Results)
}

func TestSignedCommandStartsTask(t *testing.T) {
	handler, dispatcher, key := newTestRoutes(t)

	data := signCommand(t, key, jwt.MapClaims{"projects": []int{1}})
	w := postCommand(handler, "/api/sync", testOrigin+"/projects", data)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "started", body["result"])
	assert.NotEmpty(t, body["task_id"])

	// The task is queued for the dispatcher loop, not yet in flight.
	assert.Empty(t, dispatcher.InFlight())
}

func TestSignedCommandRejectsBadReferer(t *testing.T) {
	handler, _, key := newTestRoutes(t)
	data := signCommand(t, key, nil)

	w := postCommand(handler, "/api/sync", "https://evil.example", data)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = postCommand(handler, "/api/sync", "", data)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSignedCommandRejectsMissingData(t *testing.T) {
	handler, _, _ := newTestRoutes(t)
	w := postCommand(handler, "/api/sync", testOrigin, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSignedCommandRejectsWrongKey(t *testing.T) {
	handler, _, _ := newTestRoutes(t)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	data := signCommand(t, other, nil)

	w := postCommand(handler, "/api/sync", testOrigin, data)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSignedCommandRejectsWrongAlg(t *testing.T) {
	handler, _, _ := newTestRoutes(t)

	data, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	w := postCommand(handler, "/api/sync", testOrigin, data)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSignedCommandRejectsExpired(t *testing.T) {
	handler, _, key := newTestRoutes(t)

	data, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString(key)
	require.NoError(t, err)

	w := postCommand(handler, "/api/sync", testOrigin, data)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthBanner(t *testing.T) {
	handler, _, key := newTestRoutes(t)

	data := signCommand(t, key, jwt.MapClaims{"access": "a", "refresh": "r"})
	req := httptest.NewRequest(http.MethodGet, "/api/auth?data="+url.QueryEscape(data), nil)
	req.Header.Set("Referer", testOrigin+"/login")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "authentication received")
}

func TestUnknownRoute(t *testing.T) {
	handler, _, _ := newTestRoutes(t)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
