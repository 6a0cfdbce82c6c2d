package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trade-bot-control-plane/internal/accounting"
	"trade-bot-control-plane/internal/models"
)

const maxPageSize = 500

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log      *zap.Logger
	db       *gorm.DB
	plans    accounting.Plans
	tailSize int
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB, plans accounting.Plans, tailSize int) *APIHandler {
	if tailSize <= 0 {
		tailSize = 200
	}
	return &APIHandler{log: log, db: db, plans: plans, tailSize: tailSize}
}

// Routes registers the endpoints on mux.
func (h *APIHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/trades", h.TradesHandler)
	mux.HandleFunc("GET /api/statistics", h.StatisticsHandler)
	mux.HandleFunc("GET /api/usage", h.UsageHandler)
	mux.HandleFunc("GET /api/bots/{name}/logs", h.BotLogsHandler)
}

// TradesHandler returns the trade journal, newest first. Optional query
// parameters: bot, limit.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	query := h.db.Order("timestamp desc").Limit(queryLimit(r, maxPageSize))
	if bot := r.URL.Query().Get("bot"); bot != "" {
		query = query.Where("bot_name = ?", bot)
	}

	var trades []models.Trade
	if err := query.Find(&trades).Error; err != nil {
		h.log.Error("Failed to get trades from database", zap.Error(err))
		http.Error(w, "Failed to get trades", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, trades)
}

// StatsDetail holds order counts for a given period.
type StatsDetail struct {
	TotalOrders     int64            `json:"total_orders"`
	OpeningOrders   int64            `json:"opening_orders"`
	ClosingOrders   int64            `json:"closing_orders"`
	SimulatedOrders int64            `json:"simulated_orders"`
	BySide          map[string]int64 `json:"by_side"`
	ByExchange      map[string]int64 `json:"by_exchange"`
}

func newStatsDetail() StatsDetail {
	return StatsDetail{BySide: map[string]int64{}, ByExchange: map[string]int64{}}
}

func (s *StatsDetail) add(trade models.Trade) {
	s.TotalOrders++
	if trade.Closing {
		s.ClosingOrders++
	} else {
		s.OpeningOrders++
	}
	if trade.IsSimulation {
		s.SimulatedOrders++
	}
	s.BySide[trade.Side]++
	s.ByExchange[trade.Exchange]++
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler summarizes the trade journal.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	var allTrades []models.Trade
	if err := h.db.Select("exchange", "side", "closing", "is_simulation", "timestamp").Find(&allTrades).Error; err != nil {
		h.log.Error("Failed to get trades for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	since24h := time.Now().Add(-24 * time.Hour).UnixMilli()
	response := StatisticsResponse{Since24h: newStatsDetail(), AllTime: newStatsDetail()}
	for _, trade := range allTrades {
		response.AllTime.add(trade)
		if trade.Timestamp >= since24h {
			response.Since24h.add(trade)
		}
	}
	h.writeJSON(w, response)
}

// UsageEntry is a user's quota consumption.
type UsageEntry struct {
	Email      string `json:"email"`
	Plan       string `json:"plan"`
	TradeCount int    `json:"trade_count"`
	TradeLimit int    `json:"trade_limit"`
	Remaining  int    `json:"remaining"`
}

// UsageHandler reports trade counts against plan limits. Limit and remaining
// are -1 for unlimited plans.
func (h *APIHandler) UsageHandler(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	if err := h.db.Order("email").Find(&users).Error; err != nil {
		h.log.Error("Failed to get users for usage", zap.Error(err))
		http.Error(w, "Failed to get usage", http.StatusInternalServerError)
		return
	}

	entries := make([]UsageEntry, 0, len(users))
	for _, u := range users {
		plan := h.plans.For(u.SubscriptionPlan)
		entry := UsageEntry{
			Email:      u.Email,
			Plan:       plan.Name,
			TradeCount: u.TradeCount,
			TradeLimit: plan.TradeLimit,
			Remaining:  accounting.Unlimited,
		}
		if plan.Limited() {
			entry.Remaining = max(plan.TradeLimit-u.TradeCount, 0)
		}
		entries = append(entries, entry)
	}
	h.writeJSON(w, entries)
}

// BotLogsHandler returns the newest log lines of a bot, oldest first.
func (h *APIHandler) BotLogsHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var lines []models.BotLog
	err := h.db.Where("bot_name = ?", name).
		Order("id desc").
		Limit(queryLimit(r, h.tailSize)).
		Find(&lines).Error
	if err != nil {
		h.log.Error("Failed to get bot logs", zap.String("bot", name), zap.Error(err))
		http.Error(w, "Failed to get bot logs", http.StatusInternalServerError)
		return
	}

	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	h.writeJSON(w, lines)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to write response", zap.Error(err))
	}
}

// queryLimit reads the limit query parameter, capped at def.
func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > def {
		return def
	}
	return n
}
