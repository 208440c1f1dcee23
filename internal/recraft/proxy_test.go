package recraft

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/database"
	"github.com/MarkoPoloResearchLab/tokenledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
)

const (
	proxyUserID   = "proxy-user"
	upstreamToken = "recraft-secret"
)

type proxyFixture struct {
	router        *gin.Engine
	service       *ledger.Service
	userID        ledger.UserID
	upstreamCalls *atomic.Int64
	lastAuth      *atomic.Value
	lastPath      *atomic.Value
}

func newProxyFixture(test *testing.T, upstream http.HandlerFunc) proxyFixture {
	test.Helper()
	handle, err := database.Open(context.Background(), database.Options{URL: filepath.Join(test.TempDir(), "ledger.db")})
	require.NoError(test, err)
	test.Cleanup(func() { _ = handle.Close() })
	service, err := ledger.NewService(handle.Store, time.Now)
	require.NoError(test, err)

	calls := &atomic.Int64{}
	lastAuth := &atomic.Value{}
	lastPath := &atomic.Value{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		lastAuth.Store(request.Header.Get("Authorization"))
		lastPath.Store(request.URL.Path)
		upstream(writer, request)
	}))
	test.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{BaseURL: server.URL + "/v1", Token: upstreamToken})
	require.NoError(test, err)
	proxy := NewProxy(service, client, nil, WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Service:       service,
		Authenticator: injectClaims(proxyUserID),
		Proxy:         proxy.Handle,
	})
	userID, err := ledger.NewUserID(proxyUserID)
	require.NoError(test, err)
	return proxyFixture{router: router, service: service, userID: userID, upstreamCalls: calls, lastAuth: lastAuth, lastPath: lastPath}
}

func injectClaims(userID string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if userID != "" {
			ctx.Set(httpapi.ClaimsContextKey, &sessionvalidator.Claims{UserID: userID})
		}
		ctx.Next()
	}
}

func postJSON(test *testing.T, router http.Handler, path string, payload any) (*httptest.ResponseRecorder, map[string]any) {
	test.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(test, err)
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	var decoded map[string]any
	_ = json.Unmarshal(recorder.Body.Bytes(), &decoded)
	return recorder, decoded
}

func balanceAndHistory(test *testing.T, fixture proxyFixture) (ledger.Tokens, []ledger.Transaction) {
	test.Helper()
	balance, err := fixture.service.GetBalance(context.Background(), fixture.userID)
	require.NoError(test, err)
	history, err := fixture.service.TransactionHistory(context.Background(), fixture.userID, ledger.MaxHistoryLimit)
	require.NoError(test, err)
	return balance.Amount, history
}

func TestProxyChargesAndNormalizes(test *testing.T) {
	test.Parallel()
	fixture := newProxyFixture(test, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"image":{"url":"https://cdn.example/cat.svg"}}`))
	})

	recorder, body := postJSON(test, fixture.router, "/api/recraft/generations", map[string]any{"prompt": "cat", "style": "vector_illustration"})
	require.Equal(test, http.StatusOK, recorder.Code)
	assert.Equal(test, "Bearer "+upstreamToken, fixture.lastAuth.Load())
	assert.Equal(test, "/v1/images/generations", fixture.lastPath.Load())
	assert.Equal(test, float64(1_700_000_000), body["created"])
	data := body["data"].([]any)
	assert.Equal(test, "https://cdn.example/cat.svg", data[0].(map[string]any)["url"])

	amount, history := balanceAndHistory(test, fixture)
	assert.Equal(test, ledger.Tokens(92), amount)
	require.Len(test, history, 1)
	assert.Equal(test, "vector_illustration", history[0].Operation)
	assert.Equal(test, "/generations", history[0].Metadata["endpoint"])
}

func TestProxyForwardsNonObjectJSONAtRoutePrice(test *testing.T) {
	test.Parallel()
	fixture := newProxyFixture(test, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"data":[{"url":"https://cdn.example/cat.png"}]}`))
	})

	recorder, _ := postJSON(test, fixture.router, "/api/recraft/generations", []any{"cat", "vector_illustration"})
	require.Equal(test, http.StatusOK, recorder.Code)
	assert.Equal(test, int64(1), fixture.upstreamCalls.Load())

	amount, history := balanceAndHistory(test, fixture)
	assert.Equal(test, ledger.Tokens(96), amount)
	require.Len(test, history, 1)
	assert.Equal(test, "raster_generation", history[0].Operation)
}

func TestProxyRefundsOnUpstreamFailure(test *testing.T) {
	test.Parallel()
	fixture := newProxyFixture(test, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = writer.Write([]byte(`{"error":{"message":"prompt rejected"}}`))
	})

	recorder, body := postJSON(test, fixture.router, "/api/recraft/generative-upscale", map[string]any{})
	require.Equal(test, http.StatusUnprocessableEntity, recorder.Code)
	assert.Equal(test, "prompt rejected", body["error"].(map[string]any)["message"])

	amount, history := balanceAndHistory(test, fixture)
	assert.Equal(test, ledger.Tokens(100), amount)
	require.Len(test, history, 2)
	assert.Equal(test, ledger.OperationTokenRefund, history[0].Operation)
	assert.Equal(test, ledger.Tokens(80), history[0].Amount)
}

func TestProxyRefundsOnTransportFailure(test *testing.T) {
	test.Parallel()
	handle, err := database.Open(context.Background(), database.Options{URL: filepath.Join(test.TempDir(), "ledger.db")})
	require.NoError(test, err)
	defer func() { _ = handle.Close() }()
	service, err := ledger.NewService(handle.Store, time.Now)
	require.NoError(test, err)
	client, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", Token: upstreamToken, Timeout: time.Second})
	require.NoError(test, err)
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Service:       service,
		Authenticator: injectClaims(proxyUserID),
		Proxy:         NewProxy(service, client, nil).Handle,
	})

	recorder, body := postJSON(test, router, "/api/recraft/upscale", map[string]any{})
	require.Equal(test, http.StatusBadGateway, recorder.Code)
	assert.Equal(test, CodeUpstreamUnavailable, body["code"])
	userID, _ := ledger.NewUserID(proxyUserID)
	balance, err := service.GetBalance(context.Background(), userID)
	require.NoError(test, err)
	assert.Equal(test, ledger.Tokens(100), balance.Amount)
}

func TestProxyRejectsBeforeForwarding(test *testing.T) {
	test.Parallel()
	fixture := newProxyFixture(test, func(writer http.ResponseWriter, request *http.Request) {
		_, _ = io.WriteString(writer, `{"url":"https://cdn.example/x.png"}`)
	})

	recorder, body := postJSON(test, fixture.router, "/api/recraft/images/delete", map[string]any{})
	assert.Equal(test, http.StatusBadRequest, recorder.Code)
	assert.Equal(test, CodeInvalidEndpoint, body["code"])

	recorder, _ = postJSON(test, fixture.router, "/api/recraft/generative-upscale", map[string]any{})
	require.Equal(test, http.StatusOK, recorder.Code)
	recorder, body = postJSON(test, fixture.router, "/api/recraft/generative-upscale", map[string]any{})
	assert.Equal(test, http.StatusPaymentRequired, recorder.Code)
	assert.Equal(test, httpapi.CodeInsufficientTokens, body["code"])
	assert.Equal(test, float64(20), body["available"])
	assert.Equal(test, int64(1), fixture.upstreamCalls.Load())

	request := httptest.NewRequest(http.MethodPost, "/api/recraft/generations", bytes.NewReader([]byte(`{"prompt":`)))
	request.Header.Set("Content-Type", "application/json")
	malformed := httptest.NewRecorder()
	fixture.router.ServeHTTP(malformed, request)
	assert.Equal(test, http.StatusBadRequest, malformed.Code)
	assert.Equal(test, int64(1), fixture.upstreamCalls.Load())
}

func TestProxyRequiresSession(test *testing.T) {
	test.Parallel()
	handle, err := database.Open(context.Background(), database.Options{URL: filepath.Join(test.TempDir(), "ledger.db")})
	require.NoError(test, err)
	defer func() { _ = handle.Close() }()
	service, err := ledger.NewService(handle.Store, time.Now)
	require.NoError(test, err)
	client, err := NewClient(ClientConfig{Token: upstreamToken})
	require.NoError(test, err)
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Service:       service,
		Authenticator: injectClaims(""),
		Proxy:         NewProxy(service, client, nil).Handle,
	})

	recorder, body := postJSON(test, router, "/api/recraft/generations", map[string]any{"prompt": "cat"})
	assert.Equal(test, http.StatusUnauthorized, recorder.Code)
	assert.Equal(test, httpapi.CodeUnauthorized, body["code"])
}

func TestNewClientRequiresToken(test *testing.T) {
	test.Parallel()
	_, err := NewClient(ClientConfig{})
	assert.ErrorIs(test, err, ErrMissingToken)
}
