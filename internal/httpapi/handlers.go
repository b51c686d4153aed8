package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/settlers-relay/internal/hub"
	"github.com/DoyleJ11/settlers-relay/pkg/protocol"
)

type createdResponse struct {
	Code string `json:"code"`
}

type roomResponse struct {
	Lobby       protocol.Lobby `json:"lobby"`
	Connections int            `json:"connections"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Rooms   int    `json:"rooms"`
	Created int    `json:"created"`
	Closed  int    `json:"closed"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := h.Create(r.Context())
		if err != nil {
			log.Error("create room", zap.Error(err))
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, createdResponse{Code: rm.Code()})
	}
}

func GetRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm := h.Get(r.Context(), chi.URLParam(r, "code"))
		if rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		v, ok := rm.Snapshot(r.Context())
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, roomResponse{Lobby: v.Lobby, Connections: v.NumConns})
	}
}

func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan hub.Stats, 1)
		select {
		case h.Inbox() <- hub.GetStats{Reply: reply}:
		case <-h.Done():
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		select {
		case s := <-reply:
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Rooms: s.Rooms, Created: s.Created, Closed: s.Closed})
		case <-r.Context().Done():
		}
	}
}
