package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zipaJopa/capalloc/internal/services/allocator"
	"github.com/zipaJopa/capalloc/internal/services/audit"
)

// defaultAuditMaxAge flags positions open longer than a week.
const defaultAuditMaxAge = 7 * 24 * time.Hour

type capitalRequest struct {
	Strategy   string          `json:"strategy"`
	Requested  decimal.Decimal `json:"requested_usdt"`
	PositionID string          `json:"position_id"`
}

type tradeCloseRequest struct {
	Strategy   string          `json:"strategy"`
	PositionID string          `json:"position_id"`
	Pnl        decimal.Decimal `json:"pnl_usdt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRequestCapital(w http.ResponseWriter, r *http.Request) {
	var req capitalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode request body"))
		return
	}
	if req.Strategy == "" || req.PositionID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("strategy and position_id are required"))
		return
	}

	grant, err := s.service.RequestCapital(r.Context(), req.Strategy, req.Requested, req.PositionID)
	if err != nil {
		if errors.Is(err, allocator.ErrUnknownStrategy) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleTradeClose(w http.ResponseWriter, r *http.Request) {
	var req tradeCloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode request body"))
		return
	}
	if req.Strategy == "" || req.PositionID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("strategy and position_id are required"))
		return
	}

	if err := s.service.ReportTradeClose(r.Context(), req.Strategy, req.PositionID, req.Pnl); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Rebalance(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "rebalanced"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	led, err := s.service.State(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, led)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	maxAge := defaultAuditMaxAge
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "parse max_age"))
			return
		}
		maxAge = parsed
	}

	led, err := s.service.State(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	findings := audit.Check(led, maxAge, time.Now())
	if findings == nil {
		findings = []audit.Finding{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"findings": findings,
		"clean":    len(findings) == 0,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
