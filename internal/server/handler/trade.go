package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// TradeService defines the methods that the trade handler requires.
type TradeService interface {
	Create(ctx context.Context, c domain.Candidate) (domain.Trade, error)
	GetByID(ctx context.Context, id int64) (domain.Trade, error)
	ListOpen(ctx context.Context) ([]domain.Trade, error)
}

// TradeHandler serves trade-related HTTP endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given store and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

// tradeView is the JSON shape of a trade row.
type tradeView struct {
	ID          int64      `json:"id"`
	Symbol      string     `json:"symbol"`
	Base        string     `json:"base"`
	Quote       string     `json:"quote"`
	State       string     `json:"state"`
	OpenAverage float64    `json:"open_average"`
	Target      float64    `json:"target"`
	OpenPrice   *float64   `json:"open_price,omitempty"`
	OpenAt      *time.Time `json:"open_at,omitempty"`
	ClosePrice  *float64   `json:"close_price,omitempty"`
	CloseAt     *time.Time `json:"close_at,omitempty"`
	HighestBid  *float64   `json:"highest_bid,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func newTradeView(t domain.Trade) tradeView {
	return tradeView{
		ID:          t.ID,
		Symbol:      t.Symbol(),
		Base:        t.Base,
		Quote:       t.Quote,
		State:       string(t.State()),
		OpenAverage: t.OpenAverage,
		Target:      t.Target,
		OpenPrice:   t.OpenPrice,
		OpenAt:      t.OpenAt,
		ClosePrice:  t.ClosePrice,
		CloseAt:     t.CloseAt,
		HighestBid:  t.HighestBid,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

type listTradesResponse struct {
	Trades []tradeView `json:"trades"`
}

// ListTrades returns every trade that is awaiting entry or open.
// GET /api/trades
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.ListOpen(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, newTradeView(t))
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: out})
}

// GetTrade returns one trade by id.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.trades.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trade not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get trade failed",
			slog.Int64("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}
	writeJSON(w, http.StatusOK, newTradeView(t))
}

// createTradeRequest is a ranked candidate to promote.
type createTradeRequest struct {
	Base        string  `json:"base"`
	Quote       string  `json:"quote"`
	Target      float64 `json:"target"`
	OpenAverage float64 `json:"open_average"`
}

// CreateTrade promotes a candidate into a trade awaiting entry. The
// supervisor picks it up on its next poll.
// POST /api/trades
func (h *TradeHandler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req createTradeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c := domain.Candidate{
		Base:        req.Base,
		Quote:       req.Quote,
		Target:      req.Target,
		OpenAverage: req.OpenAverage,
	}
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.trades.Create(r.Context(), c)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create trade failed",
			slog.String("symbol", c.Base+"_"+c.Quote),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create trade")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: trade created",
		slog.Int64("trade_id", t.ID),
		slog.String("symbol", t.Symbol()),
		slog.Float64("target", t.Target),
	)
	writeJSON(w, http.StatusCreated, newTradeView(t))
}
