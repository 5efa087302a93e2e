package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-house/internal/auction"
	"github.com/aaronwang/auction-house/internal/database"
	"github.com/aaronwang/auction-house/internal/models"
)

// Handler contains the HTTP request handlers.
type Handler struct {
	engine *auction.Engine
	ledger *auction.Ledger
	store  *database.Store
	log    *slog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(engine *auction.Engine, ledger *auction.Ledger, store *database.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{engine: engine, ledger: ledger, store: store, log: log.With("component", "http")}
}

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/items", h.CreateItem).Methods("POST")
	api.HandleFunc("/items", h.ListItems).Methods("GET")
	api.HandleFunc("/items/{id}", h.GetItem).Methods("GET")
	api.HandleFunc("/items/{id}/bids", h.ListBids).Methods("GET")
	api.HandleFunc("/items/{id}/bid", h.PlaceBid).Methods("POST")
	api.HandleFunc("/admin/items/{id}/review", h.ReviewItem).Methods("POST")
	api.HandleFunc("/admin/items/{id}/stop", h.StopItem).Methods("POST")
	api.HandleFunc("/wallets/{user_id}", h.GetWallet).Methods("GET")
	api.HandleFunc("/wallets/{user_id}/recharge", h.Recharge).Methods("POST")
	api.HandleFunc("/wallets/{user_id}/transactions", h.ListTransactions).Methods("GET")
	api.HandleFunc("/users/{user_id}/messages", h.ListMessages).Methods("GET")

	router.Use(h.loggingMiddleware)
	router.Use(corsMiddleware)

	return router
}

// HealthCheck returns service health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "auctiond",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateItem submits a new listing as pending, freezing the seller's
// listing deposit.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req auction.ListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	item, err := h.engine.CreateListing(r.Context(), req)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// GetItem returns the item with its current price and status.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	item, err := h.store.GetItem(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// ListItems returns storefront listings for one status bucket:
// ?list=active|upcoming|ended with optional category and sort parameters.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	list := r.URL.Query().Get("list")
	opt := database.ListOptions{
		Category: r.URL.Query().Get("category"),
		OrderBy:  r.URL.Query().Get("sort"),
	}

	var status models.Status
	switch list {
	case "", "active":
		status = models.StatusActive
		if opt.OrderBy == "" {
			opt.OrderBy = "end_time"
		}
	case "upcoming":
		status = models.StatusApproved
		if opt.OrderBy == "" {
			opt.OrderBy = "start_time"
		}
	case "ended":
		status = models.StatusEnded
		if opt.OrderBy == "" {
			opt.OrderBy = "end_time"
			opt.Desc = true
		}
		opt.Limit = 12
	default:
		respondError(w, http.StatusBadRequest, "Unknown list: "+list)
		return
	}
	if r.URL.Query().Get("order") == "desc" {
		opt.Desc = true
	}

	items, err := h.store.ListByStatus(r.Context(), status, opt)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// ListBids returns an item's bid history, newest first.
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	bids, err := h.store.ListBids(r.Context(), id, queryLimit(r))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"bids": bids})
}

// PlaceBid handles bid placement requests.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var req models.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "User ID is required")
		return
	}
	if req.Amount.Sign() <= 0 {
		respondError(w, http.StatusBadRequest, "Bid amount must be positive")
		return
	}

	bid, err := h.engine.PlaceBid(r.Context(), id, req.UserID, req.Amount)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, models.BidResponse{
		Success:      true,
		Message:      "Bid placed successfully",
		CurrentPrice: bid.Amount,
		YourBid:      bid.Amount,
		IsHighest:    true,
	})
}

// ReviewItem resolves a pending listing: {"approve": true|false}.
func (h *Handler) ReviewItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	item, err := h.engine.Review(r.Context(), id, req.Approve)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// StopItem force-stops an approved or active listing.
func (h *Handler) StopItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	item, err := h.engine.ForceStop(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// GetWallet returns a user's balances.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	wallet, err := h.store.GetWallet(r.Context(), userID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}

// Recharge tops up a user's available balance.
func (h *Handler) Recharge(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Amount.Sign() <= 0 {
		respondError(w, http.StatusBadRequest, "Amount must be positive")
		return
	}

	err := h.store.WithinTx(r.Context(), func(tx auction.Tx) error {
		return h.ledger.Recharge(r.Context(), tx, userID, req.Amount)
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	wallet, err := h.store.GetWallet(r.Context(), userID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}

// ListTransactions returns a user's wallet ledger, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	txns, err := h.store.ListTransactions(r.Context(), userID, queryLimit(r))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
}

// ListMessages returns a user's inbox, newest first.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	msgs, err := h.store.ListMessages(r.Context(), userID, queryLimit(r))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// respondDomainError maps core errors to HTTP status codes.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auction.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auction.ErrAuctionNotActive),
		errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrConflict),
		errors.Is(err, auction.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auction.ErrSelfBidForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auction.ErrInsufficientFunds):
		respondError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, auction.ErrBusy):
		respondError(w, http.StatusServiceUnavailable, "Item is busy, please retry")
	case errors.Is(err, auction.ErrInvariantViolation):
		h.log.Error("invariant violation", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
	default:
		h.log.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid item id")
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// loggingMiddleware logs all HTTP requests.
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Info("request", "method", r.Method, "path", r.RequestURI, "duration", time.Since(start).String())
	})
}

// corsMiddleware adds CORS headers (for development).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
