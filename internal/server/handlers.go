package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/inklet/inklet/internal/docstore"
	"github.com/inklet/inklet/internal/remote"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req remote.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	doc, err := s.store.Create(r.Context(), req.ID, req.Content)
	if err != nil {
		if errors.Is(err, docstore.ErrExists) {
			writeError(w, http.StatusConflict, "document already exists")
			return
		}
		s.log.Error("create failed", "doc", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, documentResponse(doc))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	doc, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		s.log.Error("get failed", "doc", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, documentResponse(doc))
}

// handlePatch applies a patch on top of the request's expected version.
// A stale version yields 409 with the server's current version so the
// client can refetch and rediff; a patch that does not parse or apply
// yields 422, signalling baseline drift.
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req remote.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	doc, err := s.store.ApplyPatch(r.Context(), id, req.Patch, req.ExpectedVersion)
	if err != nil {
		s.writePatchError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, remote.SaveResponse{Version: doc.Version})
}

// handleBeacon applies a patch best-effort and answers 202 no matter the
// outcome: the sender is typically a closing editor that will never read
// the response. Conflicts and mismatches are logged and dropped.
func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req remote.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if _, err := s.store.ApplyPatch(r.Context(), id, req.Patch, req.ExpectedVersion); err != nil {
		s.log.Warn("beacon dropped", "doc", id,
			"expected_version", req.ExpectedVersion, "error", err)
	} else {
		s.log.Info("beacon applied", "doc", id, "base_version", req.ExpectedVersion)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.List(r.Context())
	if err != nil {
		s.log.Error("list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]remote.DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentResponse(doc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		s.log.Error("delete failed", "doc", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writePatchError(w http.ResponseWriter, id string, err error) {
	var conflict *docstore.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, remote.ConflictResponse{
			Error:           "version conflict",
			ExpectedVersion: conflict.ExpectedVersion,
			CurrentVersion:  conflict.CurrentVersion,
		})
	case errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, docstore.ErrBadPatch), errors.Is(err, docstore.ErrPatchMismatch):
		writeError(w, http.StatusUnprocessableEntity, "patch does not apply")
	default:
		s.log.Error("patch failed", "doc", id, "error", err)
		writeError(w, http.StatusInternalServerError, "patch failed")
	}
}

func documentResponse(doc docstore.Document) remote.DocumentResponse {
	return remote.DocumentResponse{ID: doc.ID, Content: doc.Content, Version: doc.Version}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, remote.ErrorResponse{Error: msg})
}
