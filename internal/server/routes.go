package server

import (
	"log/slog"
	"net/http"

	"github.com/Tyrowin/chatrelay/internal/admission"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// Only the message write endpoint passes through admission.
func SetupRoutes(h *Handlers, limiter admission.Limiter, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.RootHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	mux.HandleFunc("GET /test", h.TestPageHandler)

	mux.HandleFunc("GET /api/health", h.HealthHandler)
	mux.HandleFunc("GET /api/messages", h.ListMessagesHandler)
	mux.HandleFunc("GET /api/messages/recent", h.RecentMessagesHandler)
	mux.HandleFunc("GET /api/messages/paginated", h.PaginatedMessagesHandler)
	mux.HandleFunc("GET /api/messages/search", h.SearchMessagesHandler)
	mux.Handle("POST /api/messages", Admission(limiter, logger, http.HandlerFunc(h.PostMessageHandler)))
	return mux
}
