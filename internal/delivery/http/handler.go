package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/service"
)

// Handler exposes the live session state over a local JSON API, so a UI
// process can drive the client without linking it.
type Handler struct {
	session *service.Session

	mu    sync.Mutex
	holds map[entity.ID]*service.Hold
}

func NewHandler(session *service.Session) *Handler {
	return &Handler{session: session, holds: make(map[entity.ID]*service.Hold)}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", h.handleGetSession)
	mux.HandleFunc("POST /api/session", h.handleStartSession)
	mux.HandleFunc("POST /api/session/refresh", h.handleRefresh)
	mux.HandleFunc("POST /api/session/logout", h.handleLogout)
	mux.HandleFunc("GET /api/orders", h.handleGetOrders)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.handleCancelOrder)
	mux.HandleFunc("POST /api/orders/{id}/deliver", h.handleDeliverOrder)
	mux.HandleFunc("GET /api/cart", h.handleGetCart)
	mux.HandleFunc("POST /api/cart", h.handleAddItem)
	mux.HandleFunc("POST /api/cart/{product_id}/hold", h.handleStartHold)
	mux.HandleFunc("DELETE /api/cart/{product_id}/hold", h.handleStopHold)
	mux.HandleFunc("PUT /api/cart/{product_id}", h.handleSetQuantity)
	mux.HandleFunc("DELETE /api/cart/{product_id}", h.handleRemoveItem)
	mux.HandleFunc("POST /api/cart/checkout", h.handleCheckout)
	mux.HandleFunc("GET /api/notifications", h.handleGetNotifications)
	mux.HandleFunc("POST /api/notifications/{index}/read", h.handleMarkRead)
}

type syncView struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func newSyncView(s entity.SyncState) syncView {
	v := syncView{State: s.Phase.String()}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	return v
}

type orderView struct {
	entity.Order
	Total string   `json:"total"`
	Sync  syncView `json:"sync"`
}

type cartLineView struct {
	entity.CartLine
	Sync syncView `json:"sync"`
}

type cartView struct {
	Lines []cartLineView `json:"lines"`
	Total string         `json:"total"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.session.Current()
	if !ok {
		writeError(w, entity.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionView(cur, nil))
}

type startSessionRequest struct {
	Token string `json:"token"`
}

// handleStartSession signs in. An empty token resumes the saved one. Load
// errors do not fail the request once the user is signed in.
func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.stopHolds(r.Context())
	err := h.session.Start(r.Context(), req.Token)
	cur, ok := h.session.Current()
	if !ok {
		if err == nil {
			err = entity.ErrNoSession
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.sessionView(cur, err))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.stopHolds(r.Context())
	if err := h.session.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionView(cur entity.Session, loadErr error) map[string]any {
	out := map[string]any{
		"role":    cur.Role,
		"user_id": cur.UserID,
		"unread":  h.session.Feed().UnreadCountFor(cur.Role),
	}
	if loadErr != nil {
		out["error"] = loadErr.Error()
	}
	return out
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.session.Orders().Orders()
	if status := r.URL.Query().Get("status"); status != "" {
		orders = entity.FilterByStatus(orders, entity.Status(status))
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView{Order: o, Total: o.Total().String(), Sync: newSyncView(o.Sync)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Orders().Cancel(r.Context(), entity.ID(r.PathValue("id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeliverOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Orders().MarkDelivered(r.Context(), entity.ID(r.PathValue("id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cartView())
}

type addItemRequest struct {
	Product  entity.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.session.Cart().AddItem(r.Context(), req.Product, req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.cartView())
}

type holdRequest struct {
	Step int `json:"step"`
}

// handleStartHold begins a press-and-hold on a stepper. The hold outlives the
// request and ends with DELETE on the same path.
func (h *Handler) handleStartHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id := entity.ID(r.PathValue("product_id"))

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.holds[id]; busy {
		http.Error(w, fmt.Sprintf("%s is already held", id), http.StatusConflict)
		return
	}
	hold, err := h.session.Cart().Hold(context.WithoutCancel(r.Context()), id, req.Step)
	if err != nil {
		writeError(w, err)
		return
	}
	h.holds[id] = hold
	writeJSON(w, http.StatusAccepted, h.cartView())
}

func (h *Handler) handleStopHold(w http.ResponseWriter, r *http.Request) {
	id := entity.ID(r.PathValue("product_id"))
	h.mu.Lock()
	hold, ok := h.holds[id]
	delete(h.holds, id)
	h.mu.Unlock()
	if !ok {
		http.Error(w, "no hold in progress", http.StatusNotFound)
		return
	}
	if err := hold.Stop(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.cartView())
}

// stopHolds releases every hold before the session changes hands.
func (h *Handler) stopHolds(ctx context.Context) {
	h.mu.Lock()
	holds := h.holds
	h.holds = make(map[entity.ID]*service.Hold)
	h.mu.Unlock()
	for id, hold := range holds {
		if err := hold.Stop(ctx); err != nil {
			slog.Warn("Failed to release hold", "product_id", id, "err", err)
		}
	}
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.session.Cart().SetQuantity(r.Context(), entity.ID(r.PathValue("product_id")), req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.cartView())
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Cart().RemoveItem(r.Context(), entity.ID(r.PathValue("product_id"))); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.cartView())
}

type checkoutRequest struct {
	Address entity.Address `json:"address"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	orderID, err := h.session.Cart().Checkout(r.Context(), req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order_id": orderID})
}

func (h *Handler) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	feed := h.session.Feed()
	if role := entity.Role(r.URL.Query().Get("for")); role != "" {
		writeJSON(w, http.StatusOK, feed.For(role))
		return
	}
	writeJSON(w, http.StatusOK, feed.Entries())
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		http.Error(w, "invalid notification index", http.StatusBadRequest)
		return
	}
	if err := h.session.Feed().MarkRead(index); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cartView() cartView {
	cart := h.session.Cart()
	lines := cart.Lines()
	out := cartView{Lines: make([]cartLineView, 0, len(lines)), Total: cart.Total().String()}
	for _, l := range lines {
		out.Lines = append(out.Lines, cartLineView{CartLine: l, Sync: newSyncView(l.Sync)})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

// writeError maps client errors to a status code and a short message.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entity.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, entity.ErrNoSession):
		status = http.StatusUnauthorized
	case errors.Is(err, entity.ErrOrderNotFound), errors.Is(err, entity.ErrNotificationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, entity.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, entity.ErrNetwork):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// EnableCORS admits a browser UI served from origin ("*" for any). The local
// API carries no credentials, so only the JSON content type is allowed through.
func EnableCORS(origin string, next http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", origin)
		if origin != "*" {
			hdr.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			hdr.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
			hdr.Set("Access-Control-Allow-Headers", "Content-Type")
			hdr.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
