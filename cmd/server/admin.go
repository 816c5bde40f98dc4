package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ingate/ingate/internal/handler"
	"github.com/ingate/ingate/internal/service"
	"github.com/ingate/ingate/pkg/logger"
)

// adminAPI exposes runtime introspection and control over the
// admission controller
type adminAPI struct {
	admission *handler.AdmissionController
	metrics   *service.Metrics
	logger    *logger.Logger
}

// register mounts the admin routes on the router
func (a *adminAPI) register(router *mux.Router) {
	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/admin/stats", a.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/admin/limit", a.handleSetLimit).Methods(http.MethodPut)
}

func (a *adminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *adminAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := a.metrics.GetStats()
	stats["maximum_concurrent_requests"] = a.admission.GetMaximum()
	stats["current_requests"] = a.admission.GetCurrent()
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *adminAPI) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Maximum int `json:"maximum"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	previous, err := a.admission.SetMaximum(body.Maximum)
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	a.logger.WithFields(map[string]interface{}{
		"previous": previous,
		"maximum":  body.Maximum,
	}).Info("Admission ceiling updated via admin API")

	a.writeJSON(w, http.StatusOK, map[string]int{
		"previous_maximum": previous,
		"maximum":          body.Maximum,
	})
}

func (a *adminAPI) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.WithError(err).Error("Failed to encode admin response")
	}
}
