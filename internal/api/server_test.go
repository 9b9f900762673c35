package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRunID = "5f0c6a3e-8a4b-4c61-9a52-2f5a8f0b1c7d"

type mockSeriesReader struct {
	chainFunc     func(ctx context.Context, chain types.ChainID, from, to types.Period) ([]models.ChainSeriesPoint, error)
	portfolioFunc func(ctx context.Context, from, to types.Period) ([]models.PortfolioPoint, error)
}

func (m *mockSeriesReader) GetChainSeries(ctx context.Context, chain types.ChainID, from, to types.Period) ([]models.ChainSeriesPoint, error) {
	if m.chainFunc != nil {
		return m.chainFunc(ctx, chain, from, to)
	}
	return nil, nil
}

func (m *mockSeriesReader) GetPortfolioSeries(ctx context.Context, from, to types.Period) ([]models.PortfolioPoint, error) {
	if m.portfolioFunc != nil {
		return m.portfolioFunc(ctx, from, to)
	}
	return nil, nil
}

type mockRunReader struct {
	runs map[string]*models.RunRecord
	err  error
}

func (m *mockRunReader) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	run, ok := m.runs[runID]
	if !ok {
		return nil, apperrors.NewNotFoundError("run", runID)
	}
	return run, nil
}

func (m *mockRunReader) GetLatestRun(ctx context.Context) (*models.RunRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	var latest *models.RunRecord
	for _, run := range m.runs {
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, apperrors.NewNotFoundError("run", "latest")
	}
	return latest, nil
}

func newTestServer(series SeriesReader, runs RunReader, checks map[string]HealthCheck) *Server {
	return NewServer(&ServerConfig{Host: "localhost", Port: "0"}, series, runs, checks)
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		s := newTestServer(nil, nil, map[string]HealthCheck{
			"postgres": func(ctx context.Context) error { return nil },
		})
		rec := doRequest(t, s, http.MethodGet, "/health")

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, map[string]interface{}{"postgres": "ok"}, body["dependencies"])
	})

	t.Run("dependency down", func(t *testing.T) {
		s := newTestServer(nil, nil, map[string]HealthCheck{
			"postgres":   func(ctx context.Context) error { return nil },
			"clickhouse": func(ctx context.Context) error { return errors.New("connection refused") },
		})
		rec := doRequest(t, s, http.MethodGet, "/health")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, map[string]interface{}{"postgres": "ok", "clickhouse": "unavailable"}, body["dependencies"])
	})
}

func TestGetPortfolio(t *testing.T) {
	jan := types.NewPeriod(2023, time.January)
	feb := types.NewPeriod(2023, time.February)

	var gotFrom, gotTo types.Period
	series := &mockSeriesReader{
		portfolioFunc: func(ctx context.Context, from, to types.Period) ([]models.PortfolioPoint, error) {
			gotFrom, gotTo = from, to
			return []models.PortfolioPoint{
				{Period: jan, TotalUSD: decimal.NewFromInt(100), Chains: []types.ChainID{"ethereum"}},
				{Period: feb, TotalUSD: decimal.RequireFromString("140.25"), Chains: []types.ChainID{"ethereum", "polygon-pos"}},
			}, nil
		},
	}
	s := newTestServer(series, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/portfolio?from=2023-01&to=2023-02")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jan, gotFrom)
	assert.Equal(t, feb, gotTo)

	var resp struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Points []struct {
			Period   string   `json:"period"`
			TotalUSD string   `json:"totalUsd"`
			Chains   []string `json:"chains"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2023-01", resp.From)
	assert.Equal(t, "2023-02", resp.To)
	require.Len(t, resp.Points, 2)
	assert.Equal(t, "2023-02", resp.Points[1].Period)
	assert.Equal(t, "140.25", resp.Points[1].TotalUSD)
	assert.Equal(t, []string{"ethereum", "polygon-pos"}, resp.Points[1].Chains)
}

func TestGetPortfolio_DefaultRangeAndEmpty(t *testing.T) {
	var gotFrom, gotTo types.Period
	series := &mockSeriesReader{
		portfolioFunc: func(ctx context.Context, from, to types.Period) ([]models.PortfolioPoint, error) {
			gotFrom, gotTo = from, to
			return nil, nil
		},
	}
	s := newTestServer(series, nil, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultFrom, gotFrom)
	assert.Equal(t, defaultTo, gotTo)
	assert.Contains(t, rec.Body.String(), `"points":[]`)
}

func TestGetPortfolio_InvalidRange(t *testing.T) {
	s := newTestServer(&mockSeriesReader{}, nil, nil)

	tests := []struct {
		name  string
		query string
		param string
	}{
		{"bad from", "?from=2023-13", "from"},
		{"bad to", "?to=january", "to"},
		{"inverted", "?from=2023-05&to=2023-01", "to"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodGet, "/api/portfolio"+tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)
			assert.Equal(t, tt.param, resp.Error.Details["parameter"])
		})
	}
}

func TestGetPortfolio_StoreErrors(t *testing.T) {
	t.Run("no store configured", func(t *testing.T) {
		s := newTestServer(nil, nil, nil)
		rec := doRequest(t, s, http.MethodGet, "/api/portfolio")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, rec).Error.Code)
	})

	t.Run("database failure", func(t *testing.T) {
		series := &mockSeriesReader{
			portfolioFunc: func(ctx context.Context, from, to types.Period) ([]models.PortfolioPoint, error) {
				return nil, apperrors.NewDatabaseError("query portfolio series", errors.New("timeout"))
			},
		}
		s := newTestServer(series, nil, nil)
		rec := doRequest(t, s, http.MethodGet, "/api/portfolio")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "DATABASE_ERROR", resp.Error.Code)
		assert.NotContains(t, rec.Body.String(), "timeout")
	})

	t.Run("uncategorized failure", func(t *testing.T) {
		series := &mockSeriesReader{
			portfolioFunc: func(ctx context.Context, from, to types.Period) ([]models.PortfolioPoint, error) {
				return nil, errors.New("secret connection string")
			},
		}
		s := newTestServer(series, nil, nil)
		rec := doRequest(t, s, http.MethodGet, "/api/portfolio")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Error.Code)
		assert.NotContains(t, rec.Body.String(), "secret")
	})
}

func TestGetChainSeries(t *testing.T) {
	jan := types.NewPeriod(2023, time.January)

	var gotChain types.ChainID
	series := &mockSeriesReader{
		chainFunc: func(ctx context.Context, chain types.ChainID, from, to types.Period) ([]models.ChainSeriesPoint, error) {
			gotChain = chain
			if chain != types.ChainPolygon {
				return nil, nil
			}
			return []models.ChainSeriesPoint{{Chain: chain, Period: jan, USDAmount: decimal.NewFromInt(20)}}, nil
		},
	}
	s := newTestServer(series, nil, nil)

	t.Run("short chain name resolves", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/chains/MATIC/series")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, types.ChainPolygon, gotChain)

		var resp struct {
			Chain  string `json:"chain"`
			Points []struct {
				Period    string `json:"period"`
				USDAmount string `json:"usdAmount"`
			} `json:"points"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "polygon-pos", resp.Chain)
		require.Len(t, resp.Points, 1)
		assert.Equal(t, "2023-01", resp.Points[0].Period)
		assert.Equal(t, "20", resp.Points[0].USDAmount)
	})

	t.Run("unknown chain", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/chains/fantom/series")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Error.Code)
	})
}

func TestGetRuns(t *testing.T) {
	older := &models.RunRecord{RunID: "0b7f1d2e-1111-4c61-9a52-2f5a8f0b1c7d", Status: models.RunStatusCompleted,
		StartedAt: time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)}
	latest := &models.RunRecord{RunID: testRunID, Status: models.RunStatusCompleted,
		StartedAt: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), Periods: 3,
		Chains: []models.ChainOutcome{
			{Chain: "ethereum", Included: true, RowsDropped: 1},
			{Chain: "fantom", Reason: "missing prices feed", ErrorCode: "MISSING_FEED"},
		}}
	runs := &mockRunReader{runs: map[string]*models.RunRecord{older.RunID: older, latest.RunID: latest}}
	s := newTestServer(nil, runs, nil)

	t.Run("latest", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/runs/latest")
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.RunRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, testRunID, got.RunID)
		assert.Equal(t, 3, got.Periods)
		require.Len(t, got.Chains, 2)
		assert.Equal(t, "MISSING_FEED", got.Chains[1].ErrorCode)
	})

	t.Run("by id", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/runs/"+older.RunID)
		require.Equal(t, http.StatusOK, rec.Code)
		var got models.RunRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, older.RunID, got.RunID)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/runs/9d0c6a3e-8a4b-4c61-9a52-2f5a8f0b1c7d")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/runs/not-a-uuid")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "id", decodeError(t, rec).Error.Details["parameter"])
	})

	t.Run("no runs yet", func(t *testing.T) {
		empty := newTestServer(nil, &mockRunReader{}, nil)
		rec := doRequest(t, empty, http.MethodGet, "/api/runs/latest")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMiddleware(t *testing.T) {
	s := newTestServer(nil, nil, nil)

	t.Run("request id is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	})

	t.Run("request id is generated", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/health")
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/portfolio", nil)
		rec := httptest.NewRecorder()
		CORSMiddleware(http.NotFoundHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("gzip", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
		zr, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(zr).Decode(&body))
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("panic recovery", func(t *testing.T) {
		h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, ErrCodeInternalError, decodeError(t, rec).Error.Code)
	})
}

func TestRateLimit(t *testing.T) {
	s := NewServer(&ServerConfig{RequestsPerSecond: 0.001, Burst: 2}, nil, nil, nil)

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Client-ID", client)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusTooManyRequests, send("a"))
	assert.Equal(t, http.StatusOK, send("b"), "clients are limited independently")
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientKey(req))

	req.Header.Set("X-Client-ID", "dashboard")
	assert.Equal(t, "dashboard", clientKey(req))
}
