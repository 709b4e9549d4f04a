package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rnednur/felix-sub000/internal/handlers"
)

// NewRouter sets up the API routes.
func NewRouter(research *handlers.ResearchHandler, notifications *handlers.NotificationHandler) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Research jobs
	router.HandleFunc("/api/research", research.Submit).Methods(http.MethodPost)
	router.HandleFunc("/api/research", research.List).Methods(http.MethodGet)
	router.HandleFunc("/api/research/sync", research.RunSync).Methods(http.MethodPost)
	router.HandleFunc("/api/research/{jobID}", research.Status).Methods(http.MethodGet)
	router.HandleFunc("/api/research/{jobID}", research.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/api/research/{jobID}/cancel", research.Cancel).Methods(http.MethodPost)

	// Notifications
	router.HandleFunc("/api/notifications", notifications.List).Methods(http.MethodGet)
	router.HandleFunc("/api/notifications/{notificationID}/read", notifications.MarkRead).Methods(http.MethodPost)

	return router
}
