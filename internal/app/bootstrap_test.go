package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-capture/internal/auth"
	"lead-capture/internal/csrf"
	"lead-capture/internal/lead"
	"lead-capture/internal/observability"
	"lead-capture/internal/ratelimit"
)

const (
	testSecret        = "pipeline-test-secret-0123456789abcdef"
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "correct horse 42 battery"
	testLeadID        = "0195f1d2-0000-7000-8000-000000000001"
)

type accountStore struct {
	mu       sync.Mutex
	accounts map[string]auth.Account
}

func (s *accountStore) FindByIdentity(_ context.Context, identity string) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.Identity == identity {
			return account, nil
		}
	}
	return auth.Account{}, auth.ErrAccountNotFound
}

func (s *accountStore) FindByID(_ context.Context, id string) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return auth.Account{}, auth.ErrAccountNotFound
	}
	return account, nil
}

func (s *accountStore) UpsertAdmin(_ context.Context, identity, name, passwordHash string) (auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := auth.Account{ID: "acc-admin", Identity: identity, Name: name, PasswordHash: passwordHash, Role: auth.RoleAdmin}
	s.accounts = map[string]auth.Account{account.ID: account}
	return account, nil
}

type leadStore struct {
	mu    sync.Mutex
	leads map[string]lead.Lead
	seq   int
}

func newLeadStore() *leadStore {
	return &leadStore{leads: map[string]lead.Lead{
		testLeadID: {ID: testLeadID, Name: "Ana", WhatsApp: "+5511999990000", Status: lead.StatusNew},
	}}
}

func (s *leadStore) Create(_ context.Context, input lead.LeadInput) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	l := lead.Lead{ID: "lead-" + string(rune('a'+s.seq)), Name: input.Name, WhatsApp: input.WhatsApp, Status: lead.StatusNew}
	s.leads[l.ID] = l
	return l, nil
}

func (s *leadStore) List(_ context.Context, filter lead.ListFilter) (lead.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := lead.Page{Leads: []lead.Lead{}, Limit: filter.Limit, Offset: filter.Offset}
	for _, l := range s.leads {
		page.Leads = append(page.Leads, l)
	}
	page.Total = len(page.Leads)
	return page, nil
}

func (s *leadStore) Get(_ context.Context, id string) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return lead.Lead{}, sql.ErrNoRows
	}
	return l, nil
}

func (s *leadStore) Update(_ context.Context, id string, change lead.LeadUpdate) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return lead.Lead{}, sql.ErrNoRows
	}
	if change.Status != nil {
		l.Status = *change.Status
	}
	s.leads[id] = l
	return l, nil
}

func (s *leadStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leads, id)
	return nil
}

func (s *leadStore) PurgeOlderThan(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

type notifier struct {
	mu    sync.Mutex
	count int
}

func (n *notifier) LeadCreated(lead.Lead) {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}

func testConfig() Config {
	return Config{
		Environment:   "test",
		JWTSecret:     testSecret,
		TokenTTL:      auth.DefaultTokenTTL,
		BcryptCost:    auth.MinBcryptCost,
		AdminEmail:    testAdminEmail,
		AdminPassword: testAdminPassword,
		AdminName:     "Admin",
		CSRFMaxAge:    csrf.DefaultMaxAge,
		GeneralTier:   ratelimit.GeneralTier(),
		SensitiveTier: ratelimit.SensitiveTier(),
		LeadsTier:     ratelimit.LeadsTier(),
		CronSecret:    "cron-secret",
	}
}

type pipeline struct {
	handler  http.Handler
	leads    *leadStore
	notifier *notifier
}

func newPipeline(t *testing.T, cfg Config) pipeline {
	t.Helper()
	p := pipeline{leads: newLeadStore(), notifier: &notifier{}}
	handler, err := NewServer(context.Background(), cfg, Dependencies{
		Metrics:   observability.NewMetrics(),
		Accounts:  &accountStore{},
		Leads:     p.leads,
		RateStore: ratelimit.NewMemoryStore(),
		Notifier:  p.notifier,
		Health:    func(context.Context) error { return nil },
	})
	require.NoError(t, err)
	p.handler = handler
	return p
}

func (p pipeline) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	p.handler.ServeHTTP(rec, req)
	return rec
}

func (p pipeline) login(t *testing.T) string {
	t.Helper()
	body := `{"identity":"` + testAdminEmail + `","password":"` + testAdminPassword + `"}`
	rec := p.do(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out auth.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Success)
	return out.Token
}

func (p pipeline) csrfToken(t *testing.T) string {
	t.Helper()
	rec := p.do(httptest.NewRequest(http.MethodGet, "/csrf-token", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out["csrfToken"]
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	code, _ := out["code"].(string)
	return code
}

func TestLoginThenMe(t *testing.T) {
	p := newPipeline(t, testConfig())
	token := p.login(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := p.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var user auth.PublicUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, testAdminEmail, user.Identity)
	assert.Equal(t, auth.RoleAdmin, user.Role)
}

func TestAdminMutationWithoutCSRFIsRejectedBeforeAuth(t *testing.T) {
	p := newPipeline(t, testConfig())
	token := p.login(t)

	req := httptest.NewRequest(http.MethodPatch, "/admin/leads/"+testLeadID, strings.NewReader(`{"status":"contacted"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := p.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "CSRF_INVALID", errorCode(t, rec))
	assert.Equal(t, lead.StatusNew, p.leads.leads[testLeadID].Status)
}

func TestAdminMutationWithCSRFSucceeds(t *testing.T) {
	p := newPipeline(t, testConfig())
	token := p.login(t)
	csrfToken := p.csrfToken(t)

	req := httptest.NewRequest(http.MethodPatch, "/admin/leads/"+testLeadID, strings.NewReader(`{"status":"contacted"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(csrf.HeaderName, csrfToken)
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: csrfToken})
	rec := p.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, lead.StatusContacted, p.leads.leads[testLeadID].Status)
}

func TestAdminRouteRequiresToken(t *testing.T) {
	p := newPipeline(t, testConfig())
	rec := p.do(httptest.NewRequest(http.MethodGet, "/admin/leads", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTHENTICATION_REQUIRED", errorCode(t, rec))
}

func TestAdminRouteRejectsNonAdminRole(t *testing.T) {
	p := newPipeline(t, testConfig())

	issuer, err := auth.NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	token, _, err := issuer.Issue("acc-user", "user@example.com", auth.RoleUser, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/leads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := p.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))
}

func TestFourthLeadFromSameIPIsRateLimited(t *testing.T) {
	p := newPipeline(t, testConfig())
	body := `{"name":"Ana","whatsapp":"+5511999990000"}`

	for i := 0; i < 3; i++ {
		rec := p.do(httptest.NewRequest(http.MethodPost, "/leads", strings.NewReader(body)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := p.do(httptest.NewRequest(http.MethodPost, "/leads", strings.NewReader(body)))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "RATE_LIMITED", out["code"])
	assert.Greater(t, out["retryAfter"].(float64), float64(0))
	assert.Equal(t, 3, p.notifier.count)
}

func TestLoginWrongPasswordIsGeneric(t *testing.T) {
	p := newPipeline(t, testConfig())
	rec := p.do(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"identity":"`+testAdminEmail+`","password":"Wrong!"}`)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Invalid credentials", out["error"])
}

func TestHealthAndMetrics(t *testing.T) {
	p := newPipeline(t, testConfig())

	rec := p.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = p.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestHealthReportsDegradedDatabase(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(func(context.Context) error { return errors.New("down") })(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestNewServerRejectsWeakAdminPassword(t *testing.T) {
	cfg := testConfig()
	cfg.AdminPassword = "short1"

	_, err := NewServer(context.Background(), cfg, Dependencies{
		Accounts:  &accountStore{},
		Leads:     newLeadStore(),
		RateStore: ratelimit.NewMemoryStore(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap admin")
}
