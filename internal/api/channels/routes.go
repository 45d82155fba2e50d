package channels

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes registers all channel HTTP and WebSocket routes.
func RegisterRoutes(r *mux.Router, handler *Handler) {
	r.HandleFunc("/api/v1/channels/start", logged("start", handler.StartOrGetChannel)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/channels/list", logged("list", handler.ListChannels)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/channels/{id}/messages", logged("messages", handler.GetMessages)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/channels/{id}/send", logged("send", handler.SendMessage)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/channels/{id}/read", logged("read", handler.MarkRead)).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/unread", logged("unread", handler.Unread)).Methods(http.MethodGet)
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[chat] WebSocket %s", r.URL.String())
		handler.ServeWS(w, r)
	})
}

func logged(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[chat] %s %s %s", name, r.Method, r.URL.Path)
		next(w, r)
	}
}
