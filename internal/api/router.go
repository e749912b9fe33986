package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("POST /v1/messages", h.SendMessage)
	mux.HandleFunc("GET /v1/messages/sent", h.ListSentMessages)

	mux.HandleFunc("POST /v1/tokens/send", h.SendToken)
	mux.HandleFunc("POST /v1/tokens/verify", h.VerifyToken)

	mux.HandleFunc("POST /v1/schedule", h.CreateScheduled)
	mux.HandleFunc("GET /v1/schedule", h.ListScheduled)
	mux.HandleFunc("DELETE /v1/schedule/{id}", h.DeleteScheduled)

	mux.HandleFunc("POST /v1/bulk/validate", h.BulkValidate)
	mux.HandleFunc("POST /v1/bulk/send", h.BulkSend)
	mux.HandleFunc("GET /v1/bulk/template", h.BulkTemplate)
	mux.HandleFunc("GET /v1/bulk/jobs", h.BulkJobs)
	mux.HandleFunc("GET /v1/bulk/jobs/{id}/status", h.BulkJobStatus)
	mux.HandleFunc("GET /v1/bulk/jobs/{id}/results", h.BulkJobResults)
	mux.HandleFunc("GET /v1/bulk/jobs/{id}/events", h.StreamJobEvents)
	mux.HandleFunc("POST /v1/bulk/jobs/{id}/pause", h.BulkJobPause)
	mux.HandleFunc("POST /v1/bulk/jobs/{id}/resume", h.BulkJobResume)
	mux.HandleFunc("POST /v1/bulk/jobs/{id}/stop", h.BulkJobStop)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("smsgw"))
	})

	return mux
}
