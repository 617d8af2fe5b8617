package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/frontier/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(domain.Validationf("x")))
	assert.Equal(t, http.StatusNotFound, StatusFor(domain.NewMissingMarketDataError("A", "price")))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(domain.InsufficientDataf("x")))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(domain.Infeasiblef("x")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(domain.SolverFailuref("x")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, domain.Infeasiblef("target too high"), zerolog.Nop())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "infeasible", body["kind"])
	assert.Contains(t, body["error"], "target too high")
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, map[string]int{"n": 1}, zerolog.Nop())

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]interface{}{"n": float64(1)}, body["data"])
	assert.Contains(t, body, "metadata")
}
