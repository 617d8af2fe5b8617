package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/frontier/internal/modules/covariance"
	"github.com/aristath/frontier/internal/modules/forecasting"
	"github.com/aristath/frontier/internal/modules/series"
	"github.com/aristath/frontier/internal/modules/snapshot"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rowsSource []series.RawPriceRow

func (s rowsSource) RawRows(context.Context) ([]series.RawPriceRow, error) {
	return s, nil
}

func newRouter() *chi.Mux {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	var rows rowsSource
	for i := 0; i < 60; i++ {
		rows = append(rows, series.RawPriceRow{
			AssetID:   "A",
			Timestamp: start.AddDate(0, 0, i),
			Price:     50 * (1 + 0.03*math.Sin(float64(i)/4) + 0.002*float64(i)),
		})
	}

	forecaster := forecasting.NewForecaster(forecasting.DefaultConfig(), zerolog.Nop())
	manager := snapshot.NewManager(
		rows,
		forecasting.NewService(forecaster, 1, zerolog.Nop()),
		covariance.NewEstimator(zerolog.Nop()),
		nil,
		nil,
		snapshot.Options{ForwardDays: 3},
		zerolog.Nop(),
	)

	router := chi.NewRouter()
	NewHandler(manager, zerolog.Nop()).RegisterRoutes(router)
	return router
}

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterRoutes(t *testing.T) {
	router := chi.NewRouter()
	require.NotPanics(t, func() {
		NewHandler(nil, zerolog.Nop()).RegisterRoutes(router)
	})
}

func TestSnapshotLifecycle(t *testing.T) {
	router := newRouter()

	assert.Equal(t, http.StatusNotFound, serve(router, "GET", "/snapshot").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, "GET", "/snapshot/expected-returns").Code)

	rec := serve(router, "POST", "/snapshot/refresh")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data snapshot.Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.Assets)
	assert.Equal(t, 3, body.Data.ForwardDays)
	assert.NotEmpty(t, body.Data.Version)

	rec = serve(router, "GET", "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, "GET", "/snapshot/expected-returns")
	require.Equal(t, http.StatusOK, rec.Code)
	var returns struct {
		Data map[string]float64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &returns))
	assert.Contains(t, returns.Data, "A")

	assert.Equal(t, http.StatusOK, serve(router, "GET", "/snapshot/forecasts/A").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, "GET", "/snapshot/forecasts/B").Code)
}
