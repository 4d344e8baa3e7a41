package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/vitos/paper_signal_engine/internal/domain"
	"go.uber.org/zap"
)

const defaultListLimit = 50

type orderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Kind     string  `json:"kind"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

type orderResponse struct {
	Order *domain.Order `json:"order,omitempty"`
	Error string        `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

func symbolsParam(r *http.Request, fallback []string) []string {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *Server) handleGenerateSignals(w http.ResponseWriter, r *http.Request) {
	symbols := symbolsParam(r, s.symbols)
	if len(symbols) == 0 {
		s.writeError(w, http.StatusBadRequest, "no symbols")
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(s.engine.GenerateSignals(r.Context(), symbols)))
}

func (s *Server) handleRecentSignals(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, nonNil(s.engine.RecentSignals(limitParam(r))))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.Orders()
	if state := strings.ToUpper(r.URL.Query().Get("state")); state != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if string(o.State) == state {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	s.writeJSON(w, http.StatusOK, nonNil(orders))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.engine.Order(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, domain.ErrOrderNotFound.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind := domain.OrderKind(strings.ToUpper(req.Kind))
	if kind == "" {
		kind = domain.KindMarket
	}

	o, err := s.engine.PlaceOrder(r.Context(),
		strings.ToUpper(req.Symbol), domain.Side(strings.ToUpper(req.Side)), req.Quantity, kind, req.Price)
	if o == nil {
		s.logger.Error("Failed to place order", zap.String("symbol", req.Symbol), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to place order")
		return
	}

	resp := orderResponse{Order: o}
	status := http.StatusCreated
	if err != nil {
		resp.Error = err.Error()
	}
	if o.State == domain.StateRejected {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.CancelOrder(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrOrderTerminal):
		s.writeJSON(w, http.StatusConflict, orderResponse{Order: o, Error: err.Error()})
	case err != nil:
		s.logger.Error("Failed to cancel order", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to cancel order")
	default:
		s.writeJSON(w, http.StatusOK, orderResponse{Order: o})
	}
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, nonNil(s.engine.RecentTrades(limitParam(r))))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.GetPortfolioSnapshot(r.Context()))
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Performance())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.engine.Degraded() {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"ws_clients": s.hub.Clients(),
	})
}
