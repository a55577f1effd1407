package service

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// APIServer exposes host status, pending grants and the audit history
// over HTTP for the operator.
type APIServer struct {
	host   *Host
	server *http.Server
	logger *log.Logger
}

// NewAPIServer creates the HTTP API for h.
func NewAPIServer(h *Host, addr string, logger *log.Logger) *APIServer {
	api := &APIServer{host: h, logger: logger}
	api.server = &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return api
}

// Handler returns the API routes.
func (api *APIServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", api.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/grants", api.handleGrants).Methods(http.MethodGet)
	r.HandleFunc("/api/grants/{id}/{action:approve|deny}", api.handleGrantAction).Methods(http.MethodPost)
	r.HandleFunc("/api/history", api.handleHistory).Methods(http.MethodGet)
	return r
}

func (api *APIServer) ListenAndServe() error {
	api.logger.Printf("api listening on %s", api.server.Addr)
	return api.server.ListenAndServe()
}

func (api *APIServer) Shutdown() error {
	return api.server.Close()
}

func (api *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := api.host.sm.Identity()
	writeJSON(w, map[string]any{
		"status":        "running",
		"platform":      id.Platform.String(),
		"backend":       id.Backend,
		"pending_count": len(api.host.grants.List()),
		"connections":   api.host.conns.Load(),
		"calls":         api.host.calls.Load(),
		"uptime":        time.Since(api.host.started).Seconds(),
	})
}

func (api *APIServer) handleGrants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, api.host.grants.List())
}

func (api *APIServer) handleGrantAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	decision := DecisionDeny
	if vars["action"] == "approve" {
		decision = DecisionApprove
	}

	if !api.host.grants.Resolve(vars["id"], decision) {
		http.Error(w, "grant not found or already resolved", http.StatusNotFound)
		return
	}
	api.logger.Printf("grant %s resolved: %s", vars["id"], decision)
	writeJSON(w, map[string]string{"status": "ok", "id": vars["id"], "decision": decision.String()})
}

func (api *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := ReadAuditLog(api.host.config.AuditPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
