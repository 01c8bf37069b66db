package query

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/position-guard/internal/broker"
	"github.com/ksred/position-guard/internal/cache"
	"github.com/ksred/position-guard/internal/closer"
	"github.com/ksred/position-guard/internal/guards"
	"github.com/ksred/position-guard/internal/reconcile"
	"github.com/ksred/position-guard/internal/trading"
	"github.com/ksred/position-guard/internal/types"
)

type testAPI struct {
	router *gin.Engine
	trades *trading.Database
	logs   *reconcile.Database
	sim    *broker.Simulator
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Trade{},
		&trading.CloseAudit{},
		&reconcile.ReconciliationLog{},
		&reconcile.Divergence{},
		&guards.GuardState{},
	))

	tradeStore := trading.NewDatabase(db)
	logStore := reconcile.NewDatabase(db)
	guardStore := guards.NewDatabase(db)
	sim := broker.NewSimulator()

	service := NewService(
		tradeStore,
		logStore,
		guardStore,
		closer.New(sim, tradeStore, time.Second),
		cache.NewMemory(),
		nil,
		time.Second,
	)
	handlers := NewGinHandlers(service)

	router := gin.New()
	router.GET("/healthz", handlers.HealthzHandler())
	router.GET("/api/v1/reconciliation/status", handlers.ReconciliationStatusHandler())
	router.GET("/api/v1/positions/open", handlers.OpenPositionsHandler())
	router.GET("/api/v1/positions/:id", handlers.GetPositionHandler())
	router.POST("/api/v1/positions/:id/close", handlers.ClosePositionHandler())
	router.GET("/api/v1/guards/status", handlers.GuardStatusHandler())

	return &testAPI{router: router, trades: tradeStore, logs: logStore, sim: sim}
}

func (a *testAPI) request(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReconciliationStatus_EmptyState(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodGet, "/api/v1/reconciliation/status?account_id=ACC-1")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.ReconciliationStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ACC-1", resp.AccountID)
	assert.Empty(t, resp.RunID)
	assert.Zero(t, resp.MatchedCount)
	assert.Zero(t, resp.DivergenceCount)
	assert.False(t, resp.Stale)
}

func TestReconciliationStatus_RequiresAccountID(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodGet, "/api/v1/reconciliation/status")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconciliationStatus_StaleOnFetchFailure(t *testing.T) {
	api := newTestAPI(t)

	_, err := api.logs.CreateLog("ACC-1", reconcile.StatusFetchFailed, nil)
	require.NoError(t, err)

	rec := api.request(t, http.MethodGet, "/api/v1/reconciliation/status?account_id=ACC-1")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.ReconciliationStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, reconcile.StatusFetchFailed, resp.Status)
	assert.True(t, resp.Stale)
}

func TestOpenPositions_FiltersBySymbol(t *testing.T) {
	api := newTestAPI(t)

	for _, seed := range []struct {
		tradeID string
		symbol  string
	}{
		{"T1", "EURUSD"},
		{"T2", "GBPUSD"},
	} {
		trade := types.Trade{
			TradeID:   seed.tradeID,
			AccountID: "ACC-1",
			Symbol:    seed.symbol,
			Direction: types.DirectionBuy,
			Volume:    0.10,
			Status:    types.TradeStatusOpen,
			EntryTime: time.Now(),
		}
		require.NoError(t, api.trades.CreateTrade(&trade))
	}

	rec := api.request(t, http.MethodGet, "/api/v1/positions/open?account_id=ACC-1&symbol=EURUSD")

	require.Equal(t, http.StatusOK, rec.Code)
	var trades []types.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "T1", trades[0].TradeID)
}

func TestGetPosition_NotFoundProblemBody(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodGet, "/api/v1/positions/missing")

	require.Equal(t, http.StatusNotFound, rec.Code)
	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Not Found", problem["title"])
	assert.EqualValues(t, http.StatusNotFound, problem["status"])
	assert.NotEmpty(t, problem["type"])
}

func TestClosePosition_ExplicitClose(t *testing.T) {
	api := newTestAPI(t)

	api.sim.SetAccount("ACC-1", 10000, 10000, 0)
	ticket := api.sim.OpenPosition("ACC-1", types.BrokerPosition{
		Symbol:       "EURUSD",
		Direction:    types.DirectionBuy,
		Volume:       0.10,
		OpenPrice:    1.0850,
		CurrentPrice: 1.0900,
	})
	trade := types.Trade{
		TradeID:      "T1",
		AccountID:    "ACC-1",
		Symbol:       "EURUSD",
		Direction:    types.DirectionBuy,
		Volume:       0.10,
		EntryPrice:   1.0850,
		BrokerTicket: ticket,
		Status:       types.TradeStatusOpen,
		EntryTime:    time.Now(),
	}
	require.NoError(t, api.trades.CreateTrade(&trade))

	rec := api.request(t, http.MethodPost, "/api/v1/positions/T1/close")

	require.Equal(t, http.StatusCreated, rec.Code)
	var result types.CloseResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Succeeded)
	assert.Equal(t, ticket, result.PositionTicket)

	closed, err := api.trades.GetTrade("T1")
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusClosed, closed.Status)
}

func TestClosePosition_UnknownTradeIs404(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodPost, "/api/v1/positions/missing/close")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGuardStatus_DefaultState(t *testing.T) {
	api := newTestAPI(t)

	rec := api.request(t, http.MethodGet, "/api/v1/guards/status?account_id=ACC-1")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.GuardStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ACC-1", resp.AccountID)
	assert.False(t, resp.Breached)
	assert.Zero(t, resp.DrawdownPct)
	assert.Empty(t, resp.ActiveBreaches)
}

func TestReconciliationStatus_CachedReadIsServed(t *testing.T) {
	api := newTestAPI(t)

	_, err := api.logs.CreateLog("ACC-1", reconcile.StatusOK, &reconcile.Result{})
	require.NoError(t, err)

	first := api.request(t, http.MethodGet, "/api/v1/reconciliation/status?account_id=ACC-1")
	require.Equal(t, http.StatusOK, first.Code)

	// a second read within the TTL must serve the same payload
	second := api.request(t, http.MethodGet, "/api/v1/reconciliation/status?account_id=ACC-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}
