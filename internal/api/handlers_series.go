package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	apperrors "github.com/holdings-tracker/internal/errors"
	"github.com/holdings-tracker/internal/models"
	"github.com/holdings-tracker/internal/types"
)

// Bounds used when a range parameter is omitted
var (
	defaultFrom = types.NewPeriod(1970, time.January)
	defaultTo   = types.NewPeriod(2100, time.December)
)

// PortfolioResponse is the body of GET /api/portfolio
type PortfolioResponse struct {
	From   types.Period            `json:"from"`
	To     types.Period            `json:"to"`
	Points []models.PortfolioPoint `json:"points"`
}

// ChainSeriesResponse is the body of GET /api/chains/{chain}/series
type ChainSeriesResponse struct {
	Chain  types.ChainID             `json:"chain"`
	From   types.Period              `json:"from"`
	To     types.Period              `json:"to"`
	Points []models.ChainSeriesPoint `json:"points"`
}

// parseRange reads the optional from/to query parameters as YYYY-MM.
func parseRange(r *http.Request) (types.Period, types.Period, error) {
	from, to := defaultFrom, defaultTo
	q := r.URL.Query()

	if v := q.Get("from"); v != "" {
		p, err := types.ParsePeriod(v)
		if err != nil {
			return 0, 0, apperrors.NewInvalidParameterError("from", "must be YYYY-MM")
		}
		from = p
	}
	if v := q.Get("to"); v != "" {
		p, err := types.ParsePeriod(v)
		if err != nil {
			return 0, 0, apperrors.NewInvalidParameterError("to", "must be YYYY-MM")
		}
		to = p
	}
	if to < from {
		return 0, 0, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	return from, to, nil
}

// handleGetPortfolio handles GET /api/portfolio
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	if s.series == nil {
		respondServiceError(w, r, apperrors.NewServiceUnavailableError("series store"))
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	points, err := s.series.GetPortfolioSeries(r.Context(), from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if points == nil {
		points = []models.PortfolioPoint{}
	}

	respondJSON(w, http.StatusOK, PortfolioResponse{From: from, To: to, Points: points})
}

// handleGetChainSeries handles GET /api/chains/{chain}/series
func (s *Server) handleGetChainSeries(w http.ResponseWriter, r *http.Request) {
	if s.series == nil {
		respondServiceError(w, r, apperrors.NewServiceUnavailableError("series store"))
		return
	}

	chain := types.NormalizeChainID(mux.Vars(r)["chain"])
	from, to, err := parseRange(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	points, err := s.series.GetChainSeries(r.Context(), chain, from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if len(points) == 0 {
		respondServiceError(w, r, apperrors.NewNotFoundError("chain series", string(chain)))
		return
	}

	respondJSON(w, http.StatusOK, ChainSeriesResponse{Chain: chain, From: from, To: to, Points: points})
}
