package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/dexfolio/dexfolio/pkg/app/core"
	"github.com/dexfolio/dexfolio/pkg/app/core/asset"
	"github.com/dexfolio/dexfolio/pkg/app/core/book"
	"github.com/dexfolio/dexfolio/pkg/app/core/rate"
	"github.com/dexfolio/dexfolio/pkg/app/core/rebalance"
)

// Server exposes the book cache and the rebalance generator over REST, and
// pushes book-change notifications to ws clients.
type Server struct {
	store     *book.Store
	rates     rate.Rater
	generator *rebalance.Generator
	assets    *asset.Registry
	balances  *asset.Balances
	userID    string

	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

func NewServer(
	store *book.Store,
	rates rate.Rater,
	generator *rebalance.Generator,
	assets *asset.Registry,
	balances *asset.Balances,
	userID string,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     store,
		rates:     rates,
		generator: generator,
		assets:    assets,
		balances:  balances,
		userID:    userID,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		log:       logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{asset}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{asset}/rate", s.handleGetRate).Methods("GET")
	api.HandleFunc("/markets/{asset}/subscribe", s.handleSubscribe).Methods("POST")
	api.HandleFunc("/markets/{asset}/unsubscribe", s.handleUnsubscribe).Methods("POST")

	api.HandleFunc("/rebalance/preview", s.handleRebalancePreview).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler with CORS applied; exposed for tests.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start blocks serving the API on addr.
func (s *Server) Start(addr string) error {
	s.log.Info("api_server_starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	ids := s.store.Assets()
	response := make([]MarketInfo, 0, len(ids))
	for _, id := range ids {
		info := MarketInfo{
			AssetID:    id,
			BuyOrders:  len(s.store.SideOrders(id, book.SideBuy)),
			SellOrders: len(s.store.SideOrders(id, book.SideSell)),
		}
		if a, ok := s.assets.Get(id); ok {
			info.Symbol = a.Symbol
		}
		response = append(response, info)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["asset"]
	view, ok := s.store.Book(assetID)
	if !ok {
		respondError(w, http.StatusNotFound, "market not subscribed", assetID)
		return
	}

	snapshot := BookSnapshot{
		AssetID:   view.AssetID,
		Buy:       toOrderViews(view.Buy),
		Sell:      toOrderViews(view.Sell),
		Timestamp: time.Now().UnixMilli(),
	}
	respondJSON(w, snapshot)
}

func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["asset"]

	direction := rate.Direction(r.URL.Query().Get("direction"))
	if direction != rate.Sell && direction != rate.Buy {
		respondError(w, http.StatusBadRequest, "direction must be sell or buy", "")
		return
	}
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount < 0 {
		respondError(w, http.StatusBadRequest, "invalid amount", r.URL.Query().Get("amount"))
		return
	}

	respondJSON(w, RateResponse{
		AssetID:   assetID,
		Direction: string(direction),
		Amount:    amount,
		Proceeds:  s.rates.CalcExchangeRate(assetID, direction, amount),
	})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["asset"]

	err := s.store.Subscribe(r.Context(), assetID, s.bookCallback(assetID))
	if err != nil {
		respondError(w, http.StatusBadGateway, "bootstrap failed", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "subscribed", "assetId": assetID})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["asset"]
	s.store.Unsubscribe(assetID)
	respondJSON(w, map[string]string{"status": "unsubscribed", "assetId": assetID})
}

func (s *Server) handleRebalancePreview(w http.ResponseWriter, r *http.Request) {
	var req RebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = s.userID
	}

	result, err := s.generator.GenerateOrders(r.Context(), rebalance.Request{
		Update:       req.Update,
		Balances:     s.balances.Map(),
		Assets:       s.assets.Map(),
		UserID:       userID,
		BaseID:       s.store.BaseAssetID(),
		BaseBalances: s.balances.Amounts(),
	})
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "rebalance failed", err.Error())
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// BookCallback returns the notification callback to register when
// subscribing a market outside the HTTP surface (e.g. from main).
func (s *Server) BookCallback(assetID string) book.Callback {
	return s.bookCallback(assetID)
}

func (s *Server) bookCallback(assetID string) book.Callback {
	return func(ev book.Event) {
		s.hub.BroadcastToChannel("book:"+assetID, BookUpdate{
			Type:      "book",
			AssetID:   assetID,
			Label:     string(ev),
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// ==============================
// Helper Functions
// ==============================

func toOrderViews(orders []core.Order) []OrderView {
	out := make([]OrderView, len(orders))
	for i, o := range orders {
		out[i] = OrderView{ID: o.ID, Price: o.SellPrice.Rate(), ForSale: o.ForSale}
	}
	return out
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
