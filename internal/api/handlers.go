// Package api exposes the trading engine over HTTP. Handlers decode, call
// the engine, and translate engine errors to status codes; all business
// rules live in the engine.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tallymarket/clob-engine/internal/engine"
	"github.com/tallymarket/clob-engine/internal/model"
)

// callerHeader names the header the custodial gateway stamps the
// authenticated caller identity into.
const callerHeader = "X-Caller-ID"

// Server holds the HTTP handlers.
type Server struct {
	eng *engine.Engine
	hub *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewServer creates the HTTP layer over an engine. Pass nil for hub if
// WebSocket broadcasting is not needed.
func NewServer(eng *engine.Engine, hub *WSHub) *Server {
	return &Server{eng: eng, hub: hub}
}

// Routes mounts every endpoint on a chi router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/sub/{subMarketID}/prices", s.GetPrices)
	r.Post("/markets/{marketID}/sub/{subMarketID}/start-trading", s.StartTrading)
	r.Post("/markets/{marketID}/sub/{subMarketID}/resolve", s.Resolve)
	r.Get("/markets/{marketID}/portfolio/{userID}", s.GetPortfolio)

	r.Post("/users", s.CreateUser)
	r.Get("/users/{userID}", s.GetUser)
	r.Post("/users/{userID}/deposit", s.Deposit)
	r.Post("/users/{userID}/withdraw", s.Withdraw)
	r.Get("/portfolios/{userID}", s.ListPortfolios)

	r.Post("/orders/buy-by-price", s.handleBatch(s.eng.BuyByPrice, "buy_by_price"))
	r.Post("/orders/buy-by-shares", s.handleBatch(s.eng.BuyByShares, "buy_by_shares"))
	r.Post("/orders/sell-by-price", s.handleBatch(s.eng.SellByPrice, "sell_by_price"))
	r.Post("/orders/sell-by-shares", s.handleBatch(s.eng.SellByShares, "sell_by_shares"))
	r.Post("/orders/fair-launch", s.handleBatch(s.eng.FairLaunchBuy, "fair_launch"))

	r.Post("/claims", s.Claim)
	r.Post("/creators", s.SetAuthorization)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// --- Request/Response types ---

// CreateUserRequest is the JSON body for POST /users.
type CreateUserRequest struct {
	UserID string `json:"user_id"`
}

// TransferRequest is the JSON body for deposits and withdrawals.
type TransferRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// BatchRequest is the JSON body for the four order endpoints.
type BatchRequest struct {
	UserID   string        `json:"user_id"`
	MarketID string        `json:"market_id"`
	Orders   []model.Order `json:"orders"`
}

// ResolveRequest is the JSON body for resolution.
type ResolveRequest struct {
	WinningChoiceID uint64 `json:"winning_choice_id"`
}

// ClaimRequest is the JSON body for POST /claims.
type ClaimRequest struct {
	UserID      string `json:"user_id"`
	MarketID    string `json:"market_id"`
	SubMarketID uint64 `json:"sub_market_id"`
	ChoiceID    uint64 `json:"choice_id"`
}

// ClaimResponse reports a paid claim.
type ClaimResponse struct {
	UserID      string          `json:"user_id"`
	MarketID    string          `json:"market_id"`
	SubMarketID uint64          `json:"sub_market_id"`
	ChoiceID    uint64          `json:"choice_id"`
	Payout      decimal.Decimal `json:"payout"`
}

// CreatorRequest is the JSON body for granting or revoking creator status.
type CreatorRequest struct {
	Identity   string `json:"identity"`
	Authorized bool   `json:"authorized"`
}

// --- Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Server) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateMarketParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := s.eng.CreateMarket(r.Context(), caller(r), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets handles GET /api/v1/markets
func (s *Server) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.eng.Markets(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Server) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.eng.Market(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetPrices handles GET /api/v1/markets/{marketID}/sub/{subMarketID}/prices
func (s *Server) GetPrices(w http.ResponseWriter, r *http.Request) {
	subMarketID, err := subMarketParam(r)
	if err != nil {
		writeError(w, "invalid sub-market id", http.StatusBadRequest)
		return
	}

	prices, err := s.eng.Prices(r.Context(), chi.URLParam(r, "marketID"), subMarketID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// CreateUser handles POST /api/v1/users
func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.eng.CreateUser(r.Context(), caller(r), req.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /api/v1/users/{userID}
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.eng.User(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Deposit handles POST /api/v1/users/{userID}/deposit
func (s *Server) Deposit(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.eng.Deposit(r.Context(), caller(r), chi.URLParam(r, "userID"), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Withdraw handles POST /api/v1/users/{userID}/withdraw
func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.eng.Withdraw(r.Context(), caller(r), chi.URLParam(r, "userID"), req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetPortfolio handles GET /api/v1/markets/{marketID}/portfolio/{userID}
func (s *Server) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.eng.Portfolio(r.Context(), chi.URLParam(r, "marketID"), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPortfolios handles GET /api/v1/portfolios/{userID}
func (s *Server) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := s.eng.Portfolios(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if portfolios == nil {
		portfolios = []model.MarketPortfolio{}
	}
	writeJSON(w, http.StatusOK, portfolios)
}

// batchFunc is the shared shape of the four engine batch entry points.
type batchFunc func(ctx context.Context, caller, userID, marketID string, orders []model.Order) ([]model.OrderResult, error)

// handleBatch adapts one engine batch entry point into an HTTP handler.
// Batch-shape and role errors fail the whole request; per-order failures
// come back inside the result list with 200.
func (s *Server) handleBatch(fn batchFunc, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		results, err := fn(r.Context(), caller(r), req.UserID, req.MarketID, req.Orders)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		if s.hub != nil {
			for _, res := range results {
				if res.Err != nil {
					continue
				}
				s.hub.Broadcast(WSMessage{
					Type:        "order_filled",
					MarketID:    req.MarketID,
					SubMarketID: res.Order.SubMarketID,
					ChoiceID:    res.Order.ChoiceID,
					Kind:        kind,
					Shares:      res.Shares.String(),
					Cost:        res.Cost.String(),
					AvgPrice:    res.AvgPrice.String(),
				})
			}
		}

		writeJSON(w, http.StatusOK, results)
	}
}

// StartTrading handles POST /api/v1/markets/{marketID}/sub/{subMarketID}/start-trading
func (s *Server) StartTrading(w http.ResponseWriter, r *http.Request) {
	subMarketID, err := subMarketParam(r)
	if err != nil {
		writeError(w, "invalid sub-market id", http.StatusBadRequest)
		return
	}

	if err := s.eng.StartTrading(r.Context(), caller(r), chi.URLParam(r, "marketID"), subMarketID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resolve handles POST /api/v1/markets/{marketID}/sub/{subMarketID}/resolve
func (s *Server) Resolve(w http.ResponseWriter, r *http.Request) {
	subMarketID, err := subMarketParam(r)
	if err != nil {
		writeError(w, "invalid sub-market id", http.StatusBadRequest)
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	if err := s.eng.Resolve(r.Context(), caller(r), marketID, subMarketID, req.WinningChoiceID); err != nil {
		writeEngineError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:        "sub_market_resolved",
			MarketID:    marketID,
			SubMarketID: subMarketID,
			ChoiceID:    req.WinningChoiceID,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// Claim handles POST /api/v1/claims
func (s *Server) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	payout, err := s.eng.Claim(r.Context(), caller(r), req.UserID, req.MarketID, req.SubMarketID, req.ChoiceID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:        "winnings_claimed",
			MarketID:    req.MarketID,
			SubMarketID: req.SubMarketID,
			ChoiceID:    req.ChoiceID,
			Payout:      payout.String(),
		})
	}
	writeJSON(w, http.StatusOK, ClaimResponse{
		UserID:      req.UserID,
		MarketID:    req.MarketID,
		SubMarketID: req.SubMarketID,
		ChoiceID:    req.ChoiceID,
		Payout:      payout,
	})
}

// SetAuthorization handles POST /api/v1/creators
func (s *Server) SetAuthorization(w http.ResponseWriter, r *http.Request) {
	var req CreatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.eng.SetAuthorization(caller(r), req.Identity, req.Authorized); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func caller(r *http.Request) string {
	return r.Header.Get(callerHeader)
}

func subMarketParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "subMarketID"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError maps an engine error class to an HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch engine.Classify(err) {
	case engine.ClassValidation:
		status = http.StatusBadRequest
	case engine.ClassAuth:
		status = http.StatusForbidden
	case engine.ClassNotFound:
		status = http.StatusNotFound
	case engine.ClassConflict:
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}
