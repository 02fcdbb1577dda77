package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpick/internal/core/apperror"
	appctx "stockpick/internal/core/context"
	"stockpick/internal/core/id"
	"stockpick/internal/domain/allocation"
	"stockpick/internal/domain/auth"
	"stockpick/internal/domain/reservation"
	v1 "stockpick/internal/infrastructure/http/v1"
	"stockpick/internal/infrastructure/http/v1/dto"
	"stockpick/internal/infrastructure/http/v1/middleware"
	"stockpick/internal/infrastructure/metrics"
	"stockpick/internal/infrastructure/storage/memory"
	"stockpick/internal/infrastructure/storage/postgres"
	"stockpick/pkg/logger"
)

type apiFixture struct {
	store   *memory.Store
	router  *gin.Engine
	jwt     *auth.JWTService
	history *fakeHistory
}

type fakeHistory struct {
	lastLimit int
	entries   map[id.ID][]reservation.HistoryEntry
}

func (h *fakeHistory) History(_ context.Context, reservationID id.ID, limit int) ([]reservation.HistoryEntry, error) {
	h.lastLimit = limit
	return h.entries[reservationID], nil
}

func newAPI(t *testing.T, idem middleware.IdempotencyStore) *apiFixture {
	t.Helper()

	store := memory.New()
	store.SetStock("1A1P1", "SKU-1", 10)
	store.SetStock("1A1P2", "SKU-1", 5)
	store.SetStock("1B1P1", "SKU-2", 4)

	calc := allocation.NewCalculator(store.Inventory(), store.Locations(), store.Reservations(), nil)
	reservations := reservation.NewService(store.Reservations(), store, calc, store, reservation.DefaultConfig())
	m := metrics.New("test")
	svc := allocation.NewService(store, store.Inventory(), calc, reservations, store.Commitments(), m, allocation.DefaultConfig())

	jwtService := auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))
	history := &fakeHistory{entries: map[id.ID][]reservation.HistoryEntry{}}

	router := v1.NewRouter(v1.RouterConfig{
		Allocation:   svc,
		History:      history,
		Store:        store,
		StorageName:  "memory",
		Version:      "test",
		Logger:       logger.NewNop(),
		JWTValidator: jwtService,
		Idempotency:  idem,
		Metrics:      m,
	})

	return &apiFixture{store: store, router: router, jwt: jwtService, history: history}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) bearer(t *testing.T, roles ...string) map[string]string {
	t.Helper()
	token, _, err := f.jwt.GenerateAccessToken("op-1", roles)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *apiFixture) allocate(t *testing.T, orderID, sku string, qty int) dto.AllocateResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/allocations", dto.AllocateRequest{
		OrderID: orderID,
		Demands: []dto.DemandRequest{{SKU: sku, Quantity: qty}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[dto.AllocateResponse](t, rec)
}

func TestAllocate(t *testing.T) {
	f := newAPI(t, nil)

	resp := f.allocate(t, "ORD-1", "SKU-1", 15)

	assert.Equal(t, "ORD-1", resp.OrderID)
	assert.True(t, resp.FullyAllocated)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 15, resp.Results[0].AllocatedQty)
	assert.Equal(t, "full", resp.Results[0].Outcome)
	assert.Len(t, resp.Results[0].Allocations, 2)

	again := f.allocate(t, "ORD-1", "SKU-1", 15)
	assert.True(t, again.Results[0].AlreadyReserved)
	assert.Equal(t, "existing", again.Results[0].Outcome)
}

func TestAllocate_Errors(t *testing.T) {
	f := newAPI(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"malformed", map[string]any{"orderId": 42}},
		{"missing order", dto.AllocateRequest{Demands: []dto.DemandRequest{{SKU: "SKU-1", Quantity: 1}}}},
		{"empty demands", dto.AllocateRequest{OrderID: "ORD-1", Demands: []dto.DemandRequest{}}},
		{"zero quantity", dto.AllocateRequest{OrderID: "ORD-1", Demands: []dto.DemandRequest{{SKU: "SKU-1"}}}},
		{"unknown sku", dto.AllocateRequest{OrderID: "ORD-1", Demands: []dto.DemandRequest{{SKU: "NOPE", Quantity: 1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/allocations", tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "INVALID_INPUT", decode[dto.ErrorResponse](t, rec).Code)
		})
	}
}

func TestAvailability(t *testing.T) {
	f := newAPI(t, nil)
	f.allocate(t, "ORD-1", "SKU-1", 3)

	rec := f.do(t, http.MethodGet, "/api/v1/availability/SKU-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decode[allocation.Report](t, rec)
	assert.Equal(t, "SKU-1", report.SKU)
	assert.Equal(t, 12, report.TotalAvailable)
	assert.Len(t, report.Locations, 2)
}

func TestPickFlow(t *testing.T) {
	f := newAPI(t, nil)
	resp := f.allocate(t, "ORD-1", "SKU-2", 4)
	rid := resp.Results[0].Allocations[0].ReservationID

	rec := f.do(t, http.MethodPost, "/api/v1/picks", dto.PickRequest{ReservationID: rid, Quantity: 4}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	picked := decode[dto.ReservationResponse](t, rec)
	assert.Equal(t, "completed", picked.Status)
	assert.Equal(t, 4, picked.PickedQuantity)

	rec = f.do(t, http.MethodPost, "/api/v1/picks", dto.PickRequest{ReservationID: rid, Quantity: 4}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", decode[dto.ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/v1/orders/ORD-1/reservations", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[dto.ListResponse[dto.ReservationResponse]](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "completed", list.Items[0].Status)

	rec = f.do(t, http.MethodPost, "/api/v1/orders/ORD-1/release", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	released := decode[dto.ListResponse[dto.CommitmentResponse]](t, rec)
	require.Equal(t, 1, released.Total)
	assert.Equal(t, 4, released.Items[0].Quantity)
	assert.Equal(t, allocation.DefaultFallbackLocation, released.Items[0].ReleasedTo)

	rec = f.do(t, http.MethodGet, "/api/v1/availability/SKU-2", nil, nil)
	report := decode[allocation.Report](t, rec)
	assert.Equal(t, 4, report.TotalAvailable)
}

func TestPick_ByTriple(t *testing.T) {
	f := newAPI(t, nil)
	f.allocate(t, "ORD-1", "SKU-2", 2)

	rec := f.do(t, http.MethodPost, "/api/v1/picks", dto.PickRequest{
		OrderID: "ORD-1", SKU: "SKU-2", Location: "1B1P1", Quantity: 2,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/picks", dto.PickRequest{OrderID: "ORD-1", Quantity: 2}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/picks", dto.PickRequest{ReservationID: "nope", Quantity: 2}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelReservation(t *testing.T) {
	f := newAPI(t, nil)
	resp := f.allocate(t, "ORD-1", "SKU-2", 1)
	rid := resp.Results[0].Allocations[0].ReservationID

	rec := f.do(t, http.MethodPost, "/api/v1/reservations/"+rid+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[dto.ReservationResponse](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/api/v1/reservations/not-a-uuid/cancel", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/reservations/0190b6a4-7c1e-7000-8000-000000000000/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin(t *testing.T) {
	f := newAPI(t, nil)
	f.allocate(t, "ORD-1", "SKU-1", 12)
	f.allocate(t, "ORD-2", "SKU-2", 1)

	t.Run("requires token", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/admin/reservations/cancel-all", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("requires supervisor", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/admin/reservations/cancel-all", nil, f.bearer(t, "picker"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("sweep with nothing due", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/admin/reservations/sweep", nil, f.bearer(t, appctx.RoleSupervisor))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 0, decode[dto.CountResponse](t, rec).Count)
	})

	t.Run("sweep in the future", func(t *testing.T) {
		later := time.Now().Add(reservation.DefaultTTL + time.Hour)
		rec := f.do(t, http.MethodPost, "/api/v1/admin/reservations/sweep",
			dto.SweepRequest{Now: &later}, f.bearer(t, appctx.RoleSupervisor))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 3, decode[dto.CountResponse](t, rec).Count)
	})

	t.Run("cancel all", func(t *testing.T) {
		f.allocate(t, "ORD-3", "SKU-2", 2)
		rec := f.do(t, http.MethodPost, "/api/v1/admin/reservations/cancel-all", nil, f.bearer(t, appctx.RoleSupervisor))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 1, decode[dto.CountResponse](t, rec).Count)
	})
}

func TestAdminHistory(t *testing.T) {
	f := newAPI(t, nil)
	res := f.allocate(t, "ORD-1", "SKU-2", 1)
	rid, err := id.Parse(res.Results[0].Allocations[0].ReservationID)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.history.entries[rid] = []reservation.HistoryEntry{
		{Action: "reserve", OperatorID: "op-1", Changes: json.RawMessage(`{"quantity":1}`), At: at},
	}
	path := "/api/v1/admin/reservations/" + rid.String() + "/history"

	t.Run("default limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, path, nil, f.bearer(t, appctx.RoleSupervisor))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		out := decode[dto.ListResponse[reservation.HistoryEntry]](t, rec)
		require.Equal(t, 1, out.Total)
		assert.Equal(t, "reserve", out.Items[0].Action)
		assert.Equal(t, 50, f.history.lastLimit)
	})

	t.Run("explicit limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, path+"?limit=5", nil, f.bearer(t, appctx.RoleSupervisor))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 5, f.history.lastLimit)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, path+"?limit=0", nil, f.bearer(t, appctx.RoleSupervisor))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/admin/reservations/nope/history", nil, f.bearer(t, appctx.RoleSupervisor))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown reservation is empty", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/admin/reservations/"+id.New().String()+"/history", nil, f.bearer(t, appctx.RoleSupervisor))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 0, decode[dto.ListResponse[reservation.HistoryEntry]](t, rec).Total)
	})
}

type fakeIdempotency struct {
	mu       sync.Mutex
	claims   map[string]postgres.IdempotencyClaim
	replays  map[string]*postgres.IdempotencyReplay
	acquired int
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{
		claims:  map[string]postgres.IdempotencyClaim{},
		replays: map[string]*postgres.IdempotencyReplay{},
	}
}

func (s *fakeIdempotency) Acquire(_ context.Context, claim postgres.IdempotencyClaim) (*postgres.IdempotencyReplay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++

	k := claim.OperatorID + "/" + claim.Key
	if stored, ok := s.claims[k]; ok && stored != claim {
		return nil, apperror.NewIdempotencyMismatch(claim.Key)
	}
	s.claims[k] = claim
	return s.replays[k], nil
}

func (s *fakeIdempotency) Finish(_ context.Context, operatorID, key string, statusCode int, contentType string, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replays[operatorID+"/"+key] = &postgres.IdempotencyReplay{StatusCode: statusCode, ContentType: contentType, Body: body}
	return nil
}

func TestIdempotentReplay(t *testing.T) {
	idem := newFakeIdempotency()
	f := newAPI(t, idem)

	body := dto.AllocateRequest{OrderID: "ORD-1", Demands: []dto.DemandRequest{{SKU: "SKU-2", Quantity: 2}}}
	headers := map[string]string{middleware.HeaderIdempotencyKey: "k-1"}

	first := f.do(t, http.MethodPost, "/api/v1/allocations", body, headers)
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(t, http.MethodPost, "/api/v1/allocations", body, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.False(t, decode[dto.AllocateResponse](t, second).Results[0].AlreadyReserved)
	assert.Equal(t, 2, idem.acquired)

	unkeyed := f.do(t, http.MethodPost, "/api/v1/allocations", body, nil)
	assert.True(t, decode[dto.AllocateResponse](t, unkeyed).Results[0].AlreadyReserved)
}

func TestIdempotencyKeyBoundToOrder(t *testing.T) {
	idem := newFakeIdempotency()
	f := newAPI(t, idem)
	headers := map[string]string{middleware.HeaderIdempotencyKey: "k-1"}

	rec := f.do(t, http.MethodPost, "/api/v1/allocations", dto.AllocateRequest{
		OrderID: "ORD-1", Demands: []dto.DemandRequest{{SKU: "SKU-2", Quantity: 1}},
	}, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ORD-1", idem.claims["/k-1"].Subject)
	assert.Equal(t, "POST /api/v1/allocations", idem.claims["/k-1"].Operation)

	rec = f.do(t, http.MethodPost, "/api/v1/allocations", dto.AllocateRequest{
		OrderID: "ORD-2", Demands: []dto.DemandRequest{{SKU: "SKU-2", Quantity: 1}},
	}, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/orders/ORD-9/release", nil,
		map[string]string{middleware.HeaderIdempotencyKey: "k-2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ORD-9", idem.claims["/k-2"].Subject)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPI(t, nil)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live", nil, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/ready", nil, nil).Code)

	f.allocate(t, "ORD-1", "SKU-2", 1)

	rec := f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stockpick_demands_allocated_total{outcome="full",service="test"} 1`)
	assert.Contains(t, rec.Body.String(), `path="/api/v1/allocations"`)
}
