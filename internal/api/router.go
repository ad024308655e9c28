package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/tenants/{id}/connect", h.Connect)
	mux.HandleFunc("POST /v1/tenants/{id}/disconnect", h.Disconnect)
	mux.HandleFunc("GET /v1/tenants/{id}/status", h.Status)

	mux.HandleFunc("GET /v1/tenants/{id}/groups", h.ListGroups)
	mux.HandleFunc("POST /v1/tenants/{id}/groups/refresh", h.RefreshGroups)

	mux.HandleFunc("POST /v1/tenants/{id}/messages/direct", h.SendDirect)
	mux.HandleFunc("POST /v1/tenants/{id}/messages/group", h.SendToGroup)
	mux.HandleFunc("GET /v1/tenants/{id}/messages", h.ListMessages)

	mux.HandleFunc("PUT /v1/tenants/{id}/schedule", h.UpdateSchedule)
	mux.HandleFunc("POST /v1/tenants/{id}/schedule/trigger", h.TriggerNow)
	mux.HandleFunc("POST /v1/schedule/trigger-all", h.TriggerAll)
	mux.HandleFunc("GET /v1/tasks", h.ListTasks)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("whatsapp-bot"))
	})

	return mux
}
