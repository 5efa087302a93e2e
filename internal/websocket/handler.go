package websocket

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development (use proper CORS in production)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections.
type Handler struct {
	manager *Manager
	log     *slog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(manager *Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{manager: manager, log: log.With("component", "websocket")}
}

// SetupRoutes configures WebSocket routes.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws/items/{id}", h.HandleWebSocket)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/stats/items/{id}", h.GetStats).Methods("GET")
	return router
}

// HandleWebSocket upgrades the connection and joins the item's room.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	if itemID == "" {
		http.Error(w, "Item ID is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Room: itemID,
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	h.manager.RegisterClient(client)
	client.StartReadPump(h.manager.unregister)

	welcome := fmt.Sprintf(`{"event":"connected","item_id":%q,"client_id":%q}`, itemID, client.ID)
	client.Send <- []byte(welcome)
}

// HealthCheck returns service health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"broadcastd"}`)
}

// GetStats returns subscriber statistics for an item room.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	count := h.manager.SubscriberCount(itemID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"item_id":%q,"subscribers":%d}`, itemID, count)
}
