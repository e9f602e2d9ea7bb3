package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

const apiPrefix = "/api/v1"

func SetupRoutes(router *mux.Router, handler *Handler) {
	v1 := router.PathPrefix(apiPrefix).Subrouter()

	v1.HandleFunc("/health", handler.HealthCheck).Methods(http.MethodGet)
	v1.HandleFunc("/jobs", handler.ListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{name}", handler.GetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{name}/run", handler.RunJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id:[0-9]+}", handler.UpdateJob).Methods(http.MethodPatch)
	v1.HandleFunc("/logs", handler.ListLogs).Methods(http.MethodGet)
	v1.HandleFunc("/stats", handler.GetStats).Methods(http.MethodGet)
	v1.HandleFunc("/cron/validate", handler.ValidateCron).Methods(http.MethodPost)

	router.HandleFunc("/metrics", handler.Metrics).Methods(http.MethodGet)
}
