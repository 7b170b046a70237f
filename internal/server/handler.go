package server

import (
	"net/http"
	"strconv"

	logx "compdb/pkg/logx"
)

const (
	defaultPendingLimit = 50
	defaultHistoryLimit = 20
	maxListLimit        = 200
)

type handler struct {
	sched Scheduler
	ing   Ingestion
}

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g. httptest.NewServer).
func NewHandler(sched Scheduler, ing Ingestion, log logx.Logger) http.Handler {
	h := &handler{sched: sched, ing: ing}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/scheduler/status", h.schedulerStatus)
	mux.HandleFunc("POST /api/v1/scheduler/start", h.schedulerStart)
	mux.HandleFunc("POST /api/v1/scheduler/stop", h.schedulerStop)
	mux.HandleFunc("POST /api/v1/updates/trigger", h.triggerUpdate)
	mux.HandleFunc("GET /api/v1/projects/pending", h.pendingProjects)
	mux.HandleFunc("POST /api/v1/projects/{id}/approve", h.approveProject)
	mux.HandleFunc("POST /api/v1/projects/{id}/reject", h.rejectProject)
	mux.HandleFunc("GET /api/v1/ingestions", h.ingestionHistory)

	// Middleware stack: recovery -> requestID -> logging
	var hh http.Handler = mux
	hh = logging(log, hh)
	hh = requestID(hh)
	hh = recovery(log, hh)

	return hh
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// schedulerStart is idempotent: the dashboard calls it defensively on page
// load to make sure the weekly job is registered.
func (h *handler) schedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *handler) schedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

// triggerUpdate runs one ingestion cycle synchronously and blocks until it
// finishes. A reported failure still returns 200 with success=false in the
// payload; only a fault in the call itself maps to an error status.
func (h *handler) triggerUpdate(w http.ResponseWriter, r *http.Request) {
	res, err := h.sched.TriggerManual(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) pendingProjects(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultPendingLimit)
	projects, err := h.ing.PendingProjects(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *handler) approveProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	ok, err := h.ing.ApproveProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"approved": true})
}

func (h *handler) rejectProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	ok, err := h.ing.RejectProject(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rejected": true})
}

func (h *handler) ingestionHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, defaultHistoryLimit)
	jobs, err := h.ing.IngestionHistory(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
