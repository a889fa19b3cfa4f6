package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// BookHandler serves the live book middle published by running sessions.
type BookHandler struct {
	quotes domain.QuoteCache
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler reading from quotes.
func NewBookHandler(quotes domain.QuoteCache, logger *slog.Logger) *BookHandler {
	return &BookHandler{quotes: quotes, logger: logger}
}

type bookResponse struct {
	Symbol  string    `json:"symbol"`
	BestBid float64   `json:"best_bid"`
	BestAsk float64   `json:"best_ask"`
	Spread  float64   `json:"spread"`
	Time    time.Time `json:"time"`
}

// GetBook returns the latest highest bid and lowest ask for a symbol.
// GET /api/book/{symbol}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	q, err := h.quotes.GetQuote(r.Context(), symbol)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no live book for "+symbol)
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get book failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get book")
		return
	}

	resp := bookResponse{
		Symbol:  q.Symbol,
		BestBid: q.BestBid,
		BestAsk: q.BestAsk,
		Time:    q.Time,
	}
	if q.BestBid > 0 {
		resp.Spread = (q.BestAsk - q.BestBid) / q.BestBid
	}
	writeJSON(w, http.StatusOK, resp)
}
