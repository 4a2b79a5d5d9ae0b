package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/moltmud/internal/catalog"
	"github.com/nidhogg/moltmud/internal/command"
	"github.com/nidhogg/moltmud/internal/economy"
	"github.com/nidhogg/moltmud/internal/events"
	"github.com/nidhogg/moltmud/internal/fragment"
	"github.com/nidhogg/moltmud/internal/freshness"
	"github.com/nidhogg/moltmud/internal/sweeper"
	"go.uber.org/zap"
)

// AgentHeader carries the acting agent's id. Authentication happens in the
// session layer in front of this service.
const AgentHeader = "X-Agent-ID"

// Feed reads back recently published events.
type Feed interface {
	Recent(ctx context.Context, count int64) ([]*events.Event, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	economy *economy.Service
	fresh   *freshness.Engine
	sweeper *sweeper.Sweeper
	feed    Feed
	actions *command.Registry
	logger  *zap.Logger
}

// NewHandler creates a new API handler. sw and feed may be nil.
func NewHandler(svc *economy.Service, fresh *freshness.Engine, sw *sweeper.Sweeper, feed Feed, logger *zap.Logger) *Handler {
	actions := command.NewRegistry()
	command.RegisterFragmentCommands(actions, svc)
	return &Handler{
		economy: svc,
		fresh:   fresh,
		sweeper: sw,
		feed:    feed,
		actions: actions,
		logger:  logger,
	}
}

// Actions returns the slash-action registry behind POST /api/actions, so
// chat bridges can dispatch through the same commands.
func (h *Handler) Actions() *command.Registry { return h.actions }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AgentHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/catalog/categories", h.listCategories)
		r.Get("/catalog/rarities", h.listRarities)

		// Fragment routes
		r.Post("/rooms/{roomID}/fragments", h.shareFragment)
		r.Get("/rooms/{roomID}/fragments", h.listRoomFragments)
		r.Get("/fragments/stale", h.listStale)
		r.Get("/fragments/{id}", h.getFragment)
		r.Post("/fragments/{id}/purchase", h.purchaseFragment)
		r.Post("/fragments/{id}/rating", h.rateFragment)

		// Agent ledger
		r.Post("/agents", h.registerAgent)
		r.Get("/agents/{id}/balance", h.getBalance)
		r.Get("/agents/{id}/purchases", h.listPurchases)

		// Freshness
		r.Get("/freshness/stats", h.freshnessStats)
		r.Post("/sweeps", h.triggerSweep)

		r.Get("/events", h.recentEvents)

		// Text actions
		r.Post("/actions", h.dispatchAction)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	if h.sweeper != nil {
		select {
		case <-h.sweeper.Done():
			msg := "decay sweeper stopped"
			if err := h.sweeper.Err(); err != nil {
				msg = err.Error()
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": msg})
			return
		default:
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "world": "moltmud"})
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Categories())
}

func (h *Handler) listRarities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Rarities())
}

// fragmentView adds the display fields agents see in room listings.
type fragmentView struct {
	*fragment.Fragment
	Label          string  `json:"label"`
	Freshness      string  `json:"freshness"`
	FreshnessState string  `json:"freshness_state"`
	AverageRating  float64 `json:"average_rating"`
}

func newView(f *fragment.Fragment) fragmentView {
	return fragmentView{
		Fragment:       f,
		Label:          catalog.Label(f.Content, f.Category, f.Rarity),
		Freshness:      freshness.Bar(f.FreshnessScore, freshness.DefaultBarWidth, false),
		FreshnessState: string(freshness.StateFor(f.FreshnessScore)),
		AverageRating:  f.AverageRating(),
	}
}

type shareRequest struct {
	Content  string   `json:"content"`
	Topics   []string `json:"topics"`
	Category string   `json:"category"`
}

func (h *Handler) shareFragment(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgent(w, r)
	if !ok {
		return
	}
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	f, err := h.economy.Create(r.Context(), economy.CreateParams{
		OwnerID:  agentID,
		RoomID:   chi.URLParam(r, "roomID"),
		Content:  req.Content,
		Topics:   req.Topics,
		Category: req.Category,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newView(f))
}

func (h *Handler) listRoomFragments(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	frags, err := h.economy.ListInRoom(r.Context(), chi.URLParam(r, "roomID"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	views := make([]fragmentView, 0, len(frags))
	for _, f := range frags {
		views = append(views, newView(f))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getFragment(w http.ResponseWriter, r *http.Request) {
	f, err := h.economy.GetWithFreshness(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newView(f))
}

func (h *Handler) purchaseFragment(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgent(w, r)
	if !ok {
		return
	}
	rec, err := h.economy.Purchase(r.Context(), chi.URLParam(r, "id"), agentID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type rateRequest struct {
	Rating int `json:"rating"`
}

func (h *Handler) rateFragment(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgent(w, r)
	if !ok {
		return
	}
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.economy.Rate(r.Context(), id, agentID, req.Rating); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "rated",
		"fragment_id": id,
		"rating":      req.Rating,
	})
}

type registerRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "id is required")
		return
	}
	b, err := h.economy.RegisterAgent(r.Context(), req.ID, req.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.economy.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) listPurchases(w http.ResponseWriter, r *http.Request) {
	ps, err := h.economy.PurchasesByBuyer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if ps == nil {
		ps = []*fragment.Purchase{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handler) listStale(w http.ResponseWriter, r *http.Request) {
	threshold := freshness.DecayedThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "threshold must be a number")
			return
		}
		threshold = v
	}
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	frags, err := h.fresh.ListStale(r.Context(), threshold, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	views := make([]fragmentView, 0, len(frags))
	for _, f := range frags {
		views = append(views, newView(f))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) freshnessStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.fresh.Stats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) triggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "sweeper not initialized")
		return
	}
	res, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event stream not configured")
		return
	}
	count, ok := intQuery(w, r, "count")
	if !ok {
		return
	}
	if count <= 0 {
		count = 50
	}
	evs, err := h.feed.Recent(r.Context(), int64(count))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

type actionRequest struct {
	Input    string `json:"input"`
	RoomID   string `json:"room_id"`
	Platform string `json:"platform"`
}

// dispatchAction runs a slash action such as "/buy <id>". Refusals come
// back as 200 with success=false, the way the world reports them to agents.
func (h *Handler) dispatchAction(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgent(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "input is required")
		return
	}
	res, err := h.actions.Dispatch(r.Context(), req.Input, &command.CommandContext{
		Platform: req.Platform,
		AgentID:  agentID,
		RoomID:   req.RoomID,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// fail maps domain errors to status codes; anything else is a 500.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fragment.ErrFragmentNotFound):
		writeError(w, http.StatusNotFound, "fragment_not_found", err.Error())
	case errors.Is(err, fragment.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, "agent_not_found", err.Error())
	case errors.Is(err, fragment.ErrSelfPurchase):
		writeError(w, http.StatusConflict, "self_purchase", err.Error())
	case errors.Is(err, fragment.ErrNoEligiblePurchase):
		writeError(w, http.StatusConflict, "no_eligible_purchase", err.Error())
	case errors.Is(err, fragment.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient_funds", err.Error())
	case errors.Is(err, fragment.ErrInvalidRating):
		writeError(w, http.StatusUnprocessableEntity, "invalid_rating", err.Error())
	case errors.Is(err, fragment.ErrEmptyContent):
		writeError(w, http.StatusUnprocessableEntity, "empty_content", err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func requireAgent(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(AgentHeader)
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", AgentHeader+" header is required")
		return "", false
	}
	return id, true
}

func intQuery(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", key+" must be an integer")
		return 0, false
	}
	return v, true
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
