package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/audit"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/auth"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/config"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/ledger"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func testHandlers(t *testing.T) (Handlers, *ledger.MemoryStore, *audit.MemoryRepo) {
	t.Helper()
	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	store := ledger.NewMemoryStore()
	store.SeedAccount(ledger.Account{
		ID:          "a1",
		PhoneNumber: "1001",
		Balance:     decimal.RequireFromString("10.00"),
		Status:      ledger.AccountStatusActive,
	})
	auditRepo := audit.NewMemoryRepo()

	return Handlers{
		Auth:        m,
		Ledger:      ledger.NewService(store, nil, nil),
		Audit:       audit.NewService(auditRepo),
		AdminSecret: "hunter2",
	}, store, auditRepo
}

func testRouter(h Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(h.Auth))
	{
		v1.GET("/accounts/:account_id/balance", h.GetAccountBalance)
		adjust := v1.Group("")
		adjust.Use(rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleOperator))
		adjust.POST("/accounts/:account_id/recharge", h.RechargeAccount)
	}
	return r
}

func login(t *testing.T, r *gin.Engine, userID, role, secret string) (string, int) {
	t.Helper()
	body := `{"user_id":"` + userID + `","role":"` + role + `","secret":"` + secret + `"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		return "", w.Code
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.AccessToken, w.Code
}

func TestLoginIssuesTokens(t *testing.T) {
	h, _, _ := testHandlers(t)
	r := testRouter(h)

	tok, code := login(t, r, "op-1", "operator", "hunter2")
	if code != http.StatusOK || tok == "" {
		t.Fatalf("code=%d token=%q", code, tok)
	}
}

func TestLoginRejectsBadSecretAndRole(t *testing.T) {
	h, _, _ := testHandlers(t)
	r := testRouter(h)

	if _, code := login(t, r, "op-1", "operator", "wrong"); code != http.StatusUnauthorized {
		t.Fatalf("bad secret: code=%d", code)
	}
	if _, code := login(t, r, "op-1", "superuser", "hunter2"); code != http.StatusBadRequest {
		t.Fatalf("bad role: code=%d", code)
	}
}

func TestGetAccountBalanceRequiresToken(t *testing.T) {
	h, _, _ := testHandlers(t)
	r := testRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/accounts/a1/balance", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", w.Code)
	}

	tok, _ := login(t, r, "v-1", "viewer", "hunter2")
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/a1/balance", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
}

func TestRechargeEnforcesRBACAndAudits(t *testing.T) {
	h, store, auditRepo := testHandlers(t)
	r := testRouter(h)

	body := `{"amount":"5.00","reason":"top-up"}`

	// viewer forbidden
	tok, _ := login(t, r, "v-1", "viewer", "hunter2")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/accounts/a1/recharge", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("viewer: code = %d", w.Code)
	}

	// admin allowed
	tok, _ = login(t, r, "admin-1", "admin", "hunter2")
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/accounts/a1/recharge", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("admin: code = %d body = %s", w.Code, w.Body.String())
	}

	acct, err := store.GetAccount(req.Context(), "a1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !acct.Balance.Equal(decimal.RequireFromString("15.00")) {
		t.Fatalf("balance = %s", acct.Balance)
	}

	events := auditRepo.Events()
	if len(events) != 1 || events[0].Type != audit.EventTypeBalanceAdjust || events[0].ActorUserID != "admin-1" {
		t.Fatalf("audit events = %+v", events)
	}
}
