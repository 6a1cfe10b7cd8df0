package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ferreirogomes/tiquin-streams/handlers"
	"github.com/ferreirogomes/tiquin-streams/ledger"
	"github.com/ferreirogomes/tiquin-streams/registry"
	"github.com/ferreirogomes/tiquin-streams/services"
	"github.com/ferreirogomes/tiquin-streams/storage"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	clock  *clock.Mock
	router http.Handler
}

func newTestServer(t *testing.T, gate services.ComplianceGate, accessBurst int64) *testServer {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	store := storage.NewMemoryStore()
	l := ledger.New(store, clk, zerolog.Nop())
	reg := registry.New(l, store, zerolog.Nop())
	svc := services.NewStreamingService(l, reg, gate, []string{"admin"}, zerolog.Nop())
	access, err := handlers.NewAccessLimiter(accessBurst, accessBurst)
	require.NoError(t, err)
	return &testServer{clock: clk, router: handlers.NewRouter(svc, store, access, zerolog.Nop())}
}

func (s *testServer) do(t *testing.T, method, path, principal string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if principal != "" {
		req.Header.Set(handlers.PrincipalHeader, principal)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rr.Body.Bytes(), &decoded)
	}
	return rr, decoded
}

func TestStreamLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, services.AllowAllGate{}, 10)

	rr, body := s.do(t, http.MethodPost, "/streams", "alice", map[string]interface{}{
		"recipient": "bob", "total_amount": 1000, "duration": 100,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, float64(10), body["flow_rate"])
	assert.Equal(t, "0.00001000", body["total_amount_display"])

	s.clock.Add(30 * time.Second)
	rr, body = s.do(t, http.MethodGet, "/streams/1/status", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(300), body["claimable"])
	assert.Equal(t, float64(1000), body["escrow_balance"])
	assert.Equal(t, "0.00000300", body["claimable_display"])

	rr, body = s.do(t, http.MethodPost, "/streams/1/claim", "bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	transfers := body["transfers"].([]interface{})
	require.Len(t, transfers, 1)
	assert.Equal(t, float64(300), transfers[0].(map[string]interface{})["amount"])

	rr, body = s.do(t, http.MethodPost, "/streams/1/advance", "bob", map[string]interface{}{"amount": 200})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(500), body["stream"].(map[string]interface{})["amount_withdrawn"])

	rr, body = s.do(t, http.MethodPost, "/streams/1/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cancelled", body["stream"].(map[string]interface{})["status"])

	rr, body = s.do(t, http.MethodGet, "/streams/1/transfers", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 3)
	assert.Equal(t, "pending", list[0]["status"])
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, services.NewStaticGate([]string{"mallory"}, nil), 10)
	rr, _ := s.do(t, http.MethodPost, "/streams", "alice", map[string]interface{}{
		"recipient": "bob", "total_amount": 1000, "duration": 100,
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	cases := []struct {
		name      string
		method    string
		path      string
		principal string
		body      interface{}
		status    int
		kind      string
	}{
		{"stream desconhecido", http.MethodGet, "/streams/99", "", nil, http.StatusNotFound, "stream_not_found"},
		{"id inválido", http.MethodGet, "/streams/abc", "", nil, http.StatusBadRequest, "invalid_request"},
		{"sem principal", http.MethodPost, "/streams/1/claim", "", nil, http.StatusForbidden, "unauthorized"},
		{"não recipient", http.MethodPost, "/streams/1/claim", "carol", nil, http.StatusForbidden, "unauthorized"},
		{"compliance", http.MethodPost, "/streams", "alice", map[string]interface{}{"recipient": "mallory", "total_amount": 1000, "duration": 100}, http.StatusForbidden, "compliance_denied"},
		{"duração", http.MethodPost, "/streams", "alice", map[string]interface{}{"recipient": "bob", "total_amount": 1000, "duration": 0}, http.StatusBadRequest, "invalid_duration"},
		{"adiantamento acima do escrow", http.MethodPost, "/streams/1/advance", "bob", map[string]interface{}{"amount": 5000}, http.StatusBadRequest, "invalid_amount"},
		{"freeze sem admin", http.MethodPost, "/admin/streams/1/freeze", "bob", nil, http.StatusForbidden, "unauthorized"},
		{"unfreeze ativo", http.MethodPost, "/admin/streams/1/unfreeze", "admin", nil, http.StatusConflict, "stream_not_frozen"},
		{"ativo desconhecido", http.MethodGet, "/assets/nope", "", nil, http.StatusNotFound, "asset_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, body := s.do(t, tc.method, tc.path, tc.principal, tc.body)
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.kind, body["error"])
		})
	}
}

func TestFrozenStreamRejectsClaim(t *testing.T) {
	s := newTestServer(t, services.AllowAllGate{}, 10)
	s.do(t, http.MethodPost, "/streams", "alice", map[string]interface{}{"recipient": "bob", "total_amount": 1000, "duration": 100})

	rr, body := s.do(t, http.MethodPost, "/admin/streams/1/freeze", "admin", map[string]string{"reason": "disputa"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "frozen", body["status"])
	assert.Equal(t, "disputa", body["freeze_reason"])

	rr, body = s.do(t, http.MethodPost, "/streams/1/claim", "bob", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "stream_frozen", body["error"])

	s.clock.Add(50 * time.Second)
	rr, body = s.do(t, http.MethodPost, "/admin/streams/1/terminate", "admin", map[string]string{"reason": "ordem judicial"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cancelled", body["stream"].(map[string]interface{})["status"])
}

func TestRentalFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, services.AllowAllGate{}, 10)
	s.do(t, http.MethodPost, "/streams", "issuer", map[string]interface{}{"recipient": "owner", "total_amount": 100000, "duration": 1000})

	rr, body := s.do(t, http.MethodPost, "/assets/car-1/yield", "issuer", map[string]interface{}{
		"stream_id": 1, "asset_type": "vehicle", "metadata_uri": "ipfs://car-1",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "owner", body["owner"])

	rr, _ = s.do(t, http.MethodPost, "/assets/car-1/yield", "issuer", map[string]interface{}{"stream_id": 1})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, body = s.do(t, http.MethodPost, "/assets/car-1/rentals", "tenant", map[string]interface{}{"payment_amount": 600, "duration": 60})
	require.Equal(t, http.StatusCreated, rr.Code)
	rental := body["stream"].(map[string]interface{})
	assert.Equal(t, "owner", rental["recipient"])
	rentalID := uint64(rental["id"].(float64))
	assert.Equal(t, uint64(2), rentalID)

	rr, body = s.do(t, http.MethodPost, "/assets/car-1/rentals", "other", map[string]interface{}{"payment_amount": 600, "duration": 60})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "already_rented", body["error"])

	rr, body = s.do(t, http.MethodGet, "/assets/car-1/rental", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["rented"])
	assert.Equal(t, float64(2), body["stream_id"])

	rr, body = s.do(t, http.MethodGet, "/assets/car-1/access/2", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["access"])

	rr, body = s.do(t, http.MethodGet, "/assets/car-1/access/1", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, body["access"])

	s.clock.Add(60 * time.Second)
	_, body = s.do(t, http.MethodGet, "/assets/car-1/access/2", "", nil)
	assert.Equal(t, false, body["access"])

	// encerrar um aluguel expirado só liquida o saldo restante ao dono
	rr, body = s.do(t, http.MethodDelete, "/assets/car-1/rentals", "tenant", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	transfers := body["transfers"].([]interface{})
	require.Len(t, transfers, 1)
	assert.Equal(t, "owner", transfers[0].(map[string]interface{})["beneficiary"])
	assert.Equal(t, float64(600), transfers[0].(map[string]interface{})["amount"])

	rr, body = s.do(t, http.MethodGet, "/assets/car-1/rental", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, body["rented"])
	assert.Nil(t, body["stream_id"])
}

func TestEndRentalAndOwnershipOverHTTP(t *testing.T) {
	s := newTestServer(t, services.AllowAllGate{}, 10)
	s.do(t, http.MethodPost, "/streams", "issuer", map[string]interface{}{"recipient": "owner", "total_amount": 100000, "duration": 1000})
	s.do(t, http.MethodPost, "/assets/villa-7/yield", "issuer", map[string]interface{}{"stream_id": 1, "asset_type": "real_estate"})
	s.do(t, http.MethodPost, "/assets/villa-7/rentals", "tenant", map[string]interface{}{"payment_amount": 1000, "duration": 100})

	rr, _ := s.do(t, http.MethodPost, "/assets/villa-7/owner", "owner", map[string]string{"owner": "buyer"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	s.clock.Add(25 * time.Second)
	rr, body := s.do(t, http.MethodDelete, "/assets/villa-7/rentals", "tenant", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["transfers"].([]interface{}), 2)

	rr, body = s.do(t, http.MethodPost, "/assets/villa-7/owner", "owner", map[string]string{"owner": "buyer"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "buyer", body["owner"])

	rr, body = s.do(t, http.MethodGet, "/assets/villa-7", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []interface{}{float64(2)}, body["rental_history"])
}

func TestAccessChecksAreRateLimited(t *testing.T) {
	s := newTestServer(t, services.AllowAllGate{}, 2)

	for i := 0; i < 2; i++ {
		rr, _ := s.do(t, http.MethodGet, "/assets/lock-1/access/1", "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	rr, body := s.do(t, http.MethodGet, "/assets/lock-1/access/1", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "rate_limited", body["error"])

	// outro ativo tem seu próprio balde
	rr, _ = s.do(t, http.MethodGet, "/assets/lock-2/access/1", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, services.AllowAllGate{}, 10)
	s.do(t, http.MethodGet, "/streams/1", "", nil)

	rr, _ := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "tiquin_http_requests_total")
}
