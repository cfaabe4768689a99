package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zipaJopa/capalloc/internal/domain"
	"github.com/zipaJopa/capalloc/internal/services/allocator"
)

type fakeService struct {
	grant    domain.CapitalGrant
	grantErr error
	closeErr error
	rebalErr error
	state    *domain.Ledger
	stateErr error

	gotStrategy string
	gotPosition string
	gotAmount   decimal.Decimal
	gotPnl      decimal.Decimal
}

func (f *fakeService) RequestCapital(_ context.Context, strategy string, requested decimal.Decimal, positionID string) (domain.CapitalGrant, error) {
	f.gotStrategy = strategy
	f.gotPosition = positionID
	f.gotAmount = requested
	return f.grant, f.grantErr
}

func (f *fakeService) ReportTradeClose(_ context.Context, strategy, positionID string, pnl decimal.Decimal) error {
	f.gotStrategy = strategy
	f.gotPosition = positionID
	f.gotPnl = pnl
	return f.closeErr
}

func (f *fakeService) Rebalance(context.Context) error { return f.rebalErr }

func (f *fakeService) State(context.Context) (*domain.Ledger, error) {
	return f.state, f.stateErr
}

func newTestServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(":0", svc, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestRequestCapital_Approved(t *testing.T) {
	svc := &fakeService{grant: domain.CapitalGrant{
		Approved: true,
		Granted:  decimal.RequireFromString("6.00"),
		Message:  "granted",
	}}
	srv := newTestServer(t, svc)

	resp := post(t, srv, "/api/v1/capital/request",
		`{"strategy":"grid","requested_usdt":"10.00","position_id":"p1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var grant domain.CapitalGrant
	decode(t, resp, &grant)
	assert.True(t, grant.Approved)
	assert.True(t, grant.Granted.Equal(decimal.RequireFromString("6.00")))

	assert.Equal(t, "grid", svc.gotStrategy)
	assert.Equal(t, "p1", svc.gotPosition)
	assert.True(t, svc.gotAmount.Equal(decimal.RequireFromString("10.00")))
}

func TestRequestCapital_RiskRejectionIsNotAnHTTPError(t *testing.T) {
	svc := &fakeService{grant: domain.CapitalGrant{
		Approved: false,
		Granted:  decimal.Zero,
		Message:  "position limit reached",
	}}
	srv := newTestServer(t, svc)

	resp := post(t, srv, "/api/v1/capital/request",
		`{"strategy":"grid","requested_usdt":"10.00","position_id":"p1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var grant domain.CapitalGrant
	decode(t, resp, &grant)
	assert.False(t, grant.Approved)
	assert.Equal(t, "position limit reached", grant.Message)
}

func TestRequestCapital_UnknownStrategyIs404(t *testing.T) {
	svc := &fakeService{grantErr: errors.Wrap(allocator.ErrUnknownStrategy, "strategy \"ghost\"")}
	srv := newTestServer(t, svc)

	resp := post(t, srv, "/api/v1/capital/request",
		`{"strategy":"ghost","requested_usdt":"1.00","position_id":"p1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestCapital_StoreFailureIs502(t *testing.T) {
	svc := &fakeService{grantErr: errors.New("save ledger: connection refused")}
	srv := newTestServer(t, svc)

	resp := post(t, srv, "/api/v1/capital/request",
		`{"strategy":"grid","requested_usdt":"1.00","position_id":"p1"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestRequestCapital_BadRequests(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	resp := post(t, srv, "/api/v1/capital/request", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv, "/api/v1/capital/request", `{"requested_usdt":"1.00"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTradeClose(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := post(t, srv, "/api/v1/trades/close",
		`{"strategy":"grid","position_id":"p1","pnl_usdt":"-1.50"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "recorded", body["status"])
	assert.True(t, svc.gotPnl.Equal(decimal.RequireFromString("-1.50")))

	svc.closeErr = errors.New("save ledger: conflict budget exhausted")
	resp = post(t, srv, "/api/v1/trades/close",
		`{"strategy":"grid","position_id":"p1","pnl_usdt":"0"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestRebalance(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp := post(t, srv, "/api/v1/rebalance", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	svc.rebalErr = errors.New("store down")
	resp = post(t, srv, "/api/v1/rebalance", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestState(t *testing.T) {
	led := domain.NewGenesisLedger(decimal.RequireFromString("40.00"), []string{"grid"}, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	srv := newTestServer(t, &fakeService{state: led})

	resp := get(t, srv, "/api/v1/state")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Equal(t, "40", body["initial_budget_usdt"])
	assert.Equal(t, string(domain.BreakerActive), body["circuit_breaker_status"])
}

func TestAudit(t *testing.T) {
	led := domain.NewGenesisLedger(decimal.RequireFromString("40.00"), []string{"grid"}, time.Now().UTC())
	srv := newTestServer(t, &fakeService{state: led})

	resp := get(t, srv, "/api/v1/audit")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Clean    bool          `json:"clean"`
		Findings []interface{} `json:"findings"`
	}
	decode(t, resp, &body)
	assert.True(t, body.Clean)
	assert.Empty(t, body.Findings)

	resp = get(t, srv, "/api/v1/audit?max_age=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeService{})
	resp := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
