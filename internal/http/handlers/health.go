package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if a.Monitor != nil {
		resp["active_monitors"] = a.Monitor.Count()
	}
	a.json(w, http.StatusOK, resp)
}
