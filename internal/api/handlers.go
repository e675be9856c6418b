package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yangwenmai/infographer/internal/credential"
	"github.com/yangwenmai/infographer/internal/model"
)

// ---------------------------------------------------------------------------
// POST /api/presence
// ---------------------------------------------------------------------------

type presenceRequest struct {
	SurfaceID string `json:"surface_id"`
	Address   string `json:"address"`
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SurfaceID == "" {
		writeError(w, http.StatusBadRequest, "surface_id is required")
		return
	}

	status := "disabled"
	if s.deps.Dispatcher.Announce(req.SurfaceID, req.Address) {
		status = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// ---------------------------------------------------------------------------
// POST /api/generate
// ---------------------------------------------------------------------------

type generateRequest struct {
	Address string `json:"address"`
}

type generateResponse struct {
	Success  bool       `json:"success"`
	ImageURL string     `json:"image_url,omitempty"`
	Error    string     `json:"error,omitempty"`
	Kind     model.Kind `json:"kind,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	// The run outlives the request: a closed popup must not fail it.
	imageURL, err := s.deps.Dispatcher.RequestGeneration(context.WithoutCancel(r.Context()), req.Address)
	if err != nil {
		writeJSON(w, generationStatus(err), generateResponse{Error: err.Error(), Kind: model.KindOf(err)})
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Success: true, ImageURL: imageURL})
}

// ---------------------------------------------------------------------------
// GET /api/status?address=
// ---------------------------------------------------------------------------

type statusResponse struct {
	*model.StatusRecord
	HasCredential bool `json:"has_credential"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	key, ok := s.deps.Resolver.Resolve(address)
	if !ok {
		writeError(w, http.StatusBadRequest, model.DetailInvalidTarget)
		return
	}

	hasCred, err := s.hasCredential(r.Context())
	if err != nil {
		slog.Error("read credential", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read credential")
		return
	}
	rec, err := s.lookup(r.Context(), key)
	if err != nil {
		slog.Error("read status", "video_id", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{StatusRecord: rec, HasCredential: hasCred})
}

// ---------------------------------------------------------------------------
// /api/credential
// ---------------------------------------------------------------------------

type credentialRequest struct {
	Cookie  string `json:"cookie"`
	ATToken string `json:"at_token"`
}

func (s *Server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	hasCred, err := s.hasCredential(r.Context())
	if err != nil {
		slog.Error("read credential", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read credential")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_credential": hasCred,
		"required":       s.deps.Credentials != nil,
	})
}

func (s *Server) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	if s.deps.Credentials == nil {
		writeError(w, http.StatusNotFound, "credentials are not used by this deployment")
		return
	}
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c := credential.Normalize(req.Cookie, req.ATToken)
	if !c.Complete() {
		writeError(w, http.StatusBadRequest, "cookie and at_token are required")
		return
	}
	if err := s.deps.Credentials.SetCredential(r.Context(), c); err != nil {
		slog.Error("store credential", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}
	slog.Info("credential updated")
	s.deps.Hub.Broadcast(model.Event{Type: model.EventReconcile})
	writeJSON(w, http.StatusOK, map[string]bool{"has_credential": true})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if s.deps.Credentials == nil {
		writeError(w, http.StatusNotFound, "credentials are not used by this deployment")
		return
	}
	if err := s.deps.Credentials.ClearCredential(r.Context()); err != nil {
		slog.Error("clear credential", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear credential")
		return
	}
	slog.Info("credential cleared")
	s.deps.Hub.Broadcast(model.Event{Type: model.EventReconcile})
	writeJSON(w, http.StatusOK, map[string]bool{"has_credential": false})
}

// ---------------------------------------------------------------------------
// GET /healthz
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sessions":  s.deps.Hub.Len(),
		"in_flight": s.deps.Runner.InFlight(),
	})
}
