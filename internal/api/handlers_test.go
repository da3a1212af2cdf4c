package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

const (
	testSecret      = "test-secret"
	testInternalKey = "internal-key"
)

type testServer struct {
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := store.NewMemoryRepository()
	wallets := app.NewWalletService(repo, logger)
	withdrawals := app.NewWithdrawalService(repo, wallets, logger)
	profiles := app.NewBankProfileService(repo, logger)

	auth := NewAuthenticator(AuthConfig{JWTSecret: testSecret})
	h := NewHandlers(wallets, withdrawals, profiles, logger)
	return &testServer{handler: Routes(h, RouterConfig{
		Auth:           auth.Middleware,
		InternalAPIKey: testInternalKey,
	})}
}

func signToken(t *testing.T, subject, role string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": subject, "exp": time.Now().Add(time.Hour).Unix()}
	if role != "" {
		claims["role"] = role
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) credit(t *testing.T, holderID, amount string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/internal/wallets/"+holderID+"/credits",
		bytes.NewBufferString(`{"amount":"`+amount+`","description":"course sale"}`))
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutes_RequireBearerToken(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/v1/wallet", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/wallet", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/wallet", signToken(t, "instructor-1", "superuser"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unknown roles are rejected")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "instructor-1"}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = srv.do(t, http.MethodGet, "/v1/wallet", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/wallet", signToken(t, "instructor-1", ""), nil)
	assert.Equal(t, http.StatusOK, rec.Code, "a token without a role is an instructor")
}

func TestRoutes_InternalKey(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/internal/wallets/instructor-1/credits", bytes.NewBufferString(`{"amount":"5"}`))
	req.Header.Set("X-Internal-API-Key", "wrong")
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	disabled := Routes(NewHandlers(nil, nil, nil, nil), RouterConfig{Auth: NewAuthenticator(AuthConfig{}).Middleware})
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/internal/wallets/instructor-1/credits", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoutes_WithdrawalWorkflow(t *testing.T) {
	srv := newTestServer(t)
	holder := signToken(t, "instructor-1", "instructor")
	admin := signToken(t, "admin-1", "admin")
	srv.credit(t, "instructor-1", "500")

	rec := srv.do(t, http.MethodPost, "/v1/withdrawals", holder, map[string]string{"amount": "600"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errBody map[string]string
	decodeBody(t, rec, &errBody)
	assert.Equal(t, string(domain.KindInsufficientFunds), errBody["code"])

	rec = srv.do(t, http.MethodPost, "/v1/withdrawals", holder, map[string]string{"amount": "300"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.WithdrawalRequest
	decodeBody(t, rec, &created)
	assert.Equal(t, domain.WithdrawalStatusPending, created.Status)

	rec = srv.do(t, http.MethodPost, "/v1/withdrawals", holder, map[string]string{"amount": "10"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPost, "/v1/admin/withdrawals/"+created.ID.String()+"/review", holder, map[string]string{"decision": "approve"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodPost, "/v1/admin/withdrawals/"+created.ID.String()+"/review", admin, map[string]string{"decision": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = srv.do(t, http.MethodPost, "/v1/withdrawals/"+created.ID.String()+"/complete", holder, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var completed domain.WithdrawalRequest
	decodeBody(t, rec, &completed)
	assert.Equal(t, domain.WithdrawalStatusCompleted, completed.Status)

	rec = srv.do(t, http.MethodGet, "/v1/wallet/balance", holder, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance balanceResponse
	decodeBody(t, rec, &balance)
	assert.Equal(t, "200", balance.Balance.String())

	rec = srv.do(t, http.MethodPost, "/v1/admin/withdrawals/"+created.ID.String()+"/review", admin, map[string]string{"decision": "reject"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	decodeBody(t, rec, &errBody)
	assert.Equal(t, string(domain.KindInvalidState), errBody["code"])

	rec = srv.do(t, http.MethodGet, "/v1/admin/withdrawals?status=completed", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.WithdrawalPage
	decodeBody(t, rec, &page)
	assert.Equal(t, 1, page.Total)
}

func TestRoutes_QueryValidation(t *testing.T) {
	srv := newTestServer(t)
	holder := signToken(t, "instructor-1", "instructor")

	rec := srv.do(t, http.MethodGet, "/v1/withdrawals?status=paid", holder, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/wallet/transactions?limit=abc", holder, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, query := range []string{"page=0", "limit=0", "page=-3", "page=100000000000000000"} {
		rec = srv.do(t, http.MethodGet, "/v1/wallet/transactions?"+query, holder, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}

	rec = srv.do(t, http.MethodGet, "/v1/withdrawals/not-a-uuid", holder, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/wallet/balance?holder_id=instructor-2", holder, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/wallet/transactions?limit=500", holder, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.TransactionPage
	decodeBody(t, rec, &page)
	assert.Equal(t, domain.MaxPageLimit, page.Limit)
	assert.NotNil(t, page.Items)
}

func TestRoutes_BankProfiles(t *testing.T) {
	srv := newTestServer(t)
	holder := signToken(t, "instructor-1", "instructor")

	rec := srv.do(t, http.MethodPost, "/v1/bank-profiles", holder, map[string]interface{}{
		"account_holder_name": "Ada Lovelace",
		"account_number":      "0123456789",
		"routing_code":        "GTB001",
		"bank_name":           "Guaranty Trust",
		"is_primary":          true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "0123456789")
	var created map[string]interface{}
	decodeBody(t, rec, &created)
	assert.Equal(t, "******6789", created["account_number_masked"])

	rec = srv.do(t, http.MethodGet, "/v1/bank-profiles/primary", holder, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/v1/bank-profiles/"+created["id"].(string), holder, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/bank-profiles/primary", holder, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPost, "/v1/bank-profiles", holder, map[string]string{"account_number": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrWithdrawalNotFound, http.StatusNotFound},
		{domain.NewError(domain.KindForbidden, "no"), http.StatusForbidden},
		{store.ErrInsufficientFunds, http.StatusConflict},
		{store.ErrDuplicatePendingRequest, http.StatusConflict},
		{domain.NewError(domain.KindInvalidState, "terminal"), http.StatusConflict},
		{domain.NewError(domain.KindInvalidArgument, "bad"), http.StatusBadRequest},
		{domain.WrapError(domain.KindUnavailable, "down", store.ErrTxConflict), http.StatusServiceUnavailable},
		{domain.NewError(domain.KindRateLimited, "slow down"), http.StatusTooManyRequests},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), "%v", tt.err)
	}
}

func TestWriteServiceError_RateLimitSetsRetryAfter(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	err := domain.WrapError(domain.KindRateLimited, "too many withdrawal requests", &domain.RateLimitError{RetryAfterSeconds: 17})

	h.writeServiceError(rec, httptest.NewRequest(http.MethodPost, "/v1/withdrawals", nil), "create_withdrawal", err)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "17", rec.Header().Get("Retry-After"))

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "rate_limited", body["code"])
	assert.Equal(t, "too many withdrawal requests", body["error"])
}

func TestWriteServiceError_HidesInternalDetails(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/v1/wallet", nil), "get_wallet", io.ErrUnexpectedEOF)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", body["code"])
	assert.Equal(t, "Internal server error", body["error"])
}
