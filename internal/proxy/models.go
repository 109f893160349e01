package proxy

import (
	"net/http"
	"time"
)

// model is an entry of the Claude models list.
type model struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

// modelList is the Claude models list response.
type modelList struct {
	Data    []model `json:"data"`
	HasMore bool    `json:"has_more"`
	FirstID *string `json:"first_id"`
	LastID  *string `json:"last_id"`
}

// modelsHandler returns the configured model ids in the Claude list format.
// The backend's own model list is not consulted; any advertised id is
// accepted and mapped by the upstream model setting.
func modelsHandler(ids []string) http.HandlerFunc {
	created := time.Now().UTC().Format(time.RFC3339)

	list := modelList{Data: make([]model, 0, len(ids))}
	for _, id := range ids {
		list.Data = append(list.Data, model{Type: "model", ID: id, DisplayName: id, CreatedAt: created})
	}
	if len(ids) > 0 {
		list.FirstID = &ids[0]
		list.LastID = &ids[len(ids)-1]
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		writeJSON(r.Context(), w, list, http.StatusOK)
	}
}
