package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/submissions", h.CreateSubmission)
	mux.HandleFunc("GET /v1/submissions/{instanceId}", h.GetSubmission)
	mux.HandleFunc("DELETE /v1/submissions/{instanceId}", h.ForgetSubmission)
	mux.HandleFunc("POST /v1/submissions/{instanceId}/ack", h.AcknowledgeSubmission)
	mux.HandleFunc("GET /v1/submissions/{instanceId}/next-result", h.NextResultCode)
	mux.HandleFunc("POST /v1/submissions/{instanceId}/dispatch", h.Dispatch)

	mux.HandleFunc("POST /v1/submissions/{instanceId}/parts/{messageId}/sending", h.MarkSending)
	mux.HandleFunc("POST /v1/submissions/{instanceId}/parts/{messageId}/sent", h.MarkSent)
	mux.HandleFunc("POST /v1/submissions/{instanceId}/parts/{messageId}/status", h.UpdateStatus)

	mux.HandleFunc("POST /v1/reconcile", h.Reconcile)
	mux.HandleFunc("GET /v1/reconciler/status", h.ReconcilerStatus)
	mux.HandleFunc("POST /v1/reconciler/start", h.ReconcilerStart)
	mux.HandleFunc("POST /v1/reconciler/stop", h.ReconcilerStop)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("sms-tracker"))
	})

	return mux
}
