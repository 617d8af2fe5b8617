package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	mu  map[string]float64
	cov domain.CovarianceMatrix
	err error
}

func (f fakeMarket) MarketData([]string) (map[string]float64, domain.CovarianceMatrix, error) {
	return f.mu, f.cov, f.err
}

func newRouter(market MarketDataSource) *chi.Mux {
	handler := NewHandler(optimization.NewOptimizer(nil, zerolog.Nop()), market, zerolog.Nop())
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func TestRegisterRoutes(t *testing.T) {
	handler := NewHandler(optimization.NewOptimizer(nil, zerolog.Nop()), nil, zerolog.Nop())
	router := chi.NewRouter()
	require.NotPanics(t, func() {
		handler.RegisterRoutes(router)
	}, "RegisterRoutes should not panic")

	for _, path := range []string{"/optimize/", "/optimize/metrics"} {
		req := httptest.NewRequest("POST", path, strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.NotEqual(t, http.StatusNotFound, rec.Code, "route %s should be registered", path)
	}
}

const twoAssets = `{
	"assets": ["A", "B"],
	"expected_returns": {"A": 0.01, "B": 0.02},
	"covariance": {"assets": ["A", "B"], "values": [[0.04, 0], [0, 0.09]]},
	%s
}`

func post(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleOptimize(t *testing.T) {
	router := newRouter(nil)

	rec := post(t, router, "/optimize/", strings.Replace(twoAssets, "%s", `"target_return": 0.015`, 1))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data OptimizeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 0.5, body.Data.Weights["A"], 1e-6)
	assert.InDelta(t, 0.5, body.Data.Weights["B"], 1e-6)
	assert.InDelta(t, 0.015, body.Data.ExpectedReturn, 1e-6)
}

func TestHandleOptimize_ErrorStatuses(t *testing.T) {
	router := newRouter(nil)

	rec := post(t, router, "/optimize/", strings.Replace(twoAssets, "%s", `"target_return": 0.05`, 1))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = post(t, router, "/optimize/", strings.Replace(twoAssets, "%s", `"allow_short": false`, 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, router, "/optimize/", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleOptimize_UsesMarketData(t *testing.T) {
	router := newRouter(fakeMarket{
		mu: map[string]float64{"A": 0.01, "B": 0.02},
		cov: domain.CovarianceMatrix{
			Assets: []string{"A", "B"},
			Values: [][]float64{{0.04, 0}, {0, 0.09}},
		},
	})

	rec := post(t, router, "/optimize/", `{"assets": ["A", "B"], "target_risk": 1.0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	missing := newRouter(fakeMarket{err: domain.NewMissingMarketDataError("B", "forecast")})
	rec = post(t, missing, "/optimize/", `{"assets": ["A", "B"], "target_risk": 1.0}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleMetrics(t *testing.T) {
	router := newRouter(nil)

	rec := post(t, router, "/optimize/metrics", `{
		"weights": {"A": 0.5, "B": 0.5},
		"expected_returns": {"A": 0.01, "B": 0.02},
		"covariance": {"assets": ["A", "B"], "values": [[0.04, 0], [0, 0.09]]}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data optimization.Metrics `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 0.015, body.Data.ExpectedReturn, 1e-12)
}
