package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lockstead/lockstead-core/internal/family"
)

// requireFamily returns the coordinator or answers 503 when sharing is
// disabled.
func (s *Server) requireFamily(w http.ResponseWriter) *family.Coordinator {
	if s.family == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeRemoteUnavailable,
			"family sharing is disabled")
		return nil
	}
	return s.family
}

// writeFamilyError maps coordinator errors onto API error codes.
func (s *Server) writeFamilyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, family.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, ErrCodePermissionDenied, err.Error())
	case errors.Is(err, family.ErrRemoteUnavailable), errors.Is(err, family.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, ErrCodeRemoteUnavailable, err.Error())
	case errors.Is(err, family.ErrMemberNotFound), errors.Is(err, family.ErrSharedLockNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, family.ErrSelfRemoval):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, family.ErrInvalidRole):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error("family operation failed", "error", err)
		writeInternalError(w, "family operation failed")
	}
}

// handleFamilyStatus reports the coordinator state and local identity.
// GET /api/v1/family
func (s *Server) handleFamilyStatus(w http.ResponseWriter, _ *http.Request) {
	coord := s.requireFamily(w)
	if coord == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state": coord.State(),
		"self":  coord.Self(),
	})
}

// handleFamilySync triggers an immediate re-sync. POST /api/v1/family/sync
func (s *Server) handleFamilySync(w http.ResponseWriter, r *http.Request) {
	coord := s.requireFamily(w)
	if coord == nil {
		return
	}

	var err error
	if coord.State() != family.StateReady {
		err = coord.Setup(r.Context())
	} else {
		err = coord.SyncAll(r.Context())
	}
	if err != nil {
		s.writeFamilyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": coord.State()})
}

// handleListMembers returns the cached household members.
// GET /api/v1/family/members
func (s *Server) handleListMembers(w http.ResponseWriter, _ *http.Request) {
	coord := s.requireFamily(w)
	if coord == nil {
		return
	}
	writeJSON(w, http.StatusOK, coord.Members())
}

// updateRoleRequest is the PUT member role payload.
type updateRoleRequest struct {
	Role family.Role `json:"role"`
}

// handleUpdateMemberRole changes a member's role.
// PUT /api/v1/family/members/{memberID}/role
func (s *Server) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	coord := s.requireFamily(w)
	if coord == nil {
		return
	}

	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	memberID := chi.URLParam(r, "memberID")
	if err := coord.UpdateMemberRole(r.Context(), memberID, req.Role); err != nil {
		s.writeFamilyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoveMember removes a household member.
// DELETE /api/v1/family/members/{memberID}
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	coord := s.requireFamily(w)
	if coord == nil {
		return
	}
	if err := coord.RemoveMember(r.Context(), chi.URLParam(r, "memberID")); err != nil {
		s.writeFamilyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSharedLocks returns the cached shared locks.
// GET /api/v1/family/locks
func (s *Server) handleListSharedLocks(w http.ResponseWriter, _ *http.Request) {
	coord := s.requireFamily(w)
	if coord == nil {
		return
	}
	writeJSON(w, http.StatusOK, coord.SharedLocks())
}

// handleRemoveSharedLock retracts a shared lock replica.
// DELETE /api/v1/family/locks/{lockID}
func (s *Server) handleRemoveSharedLock(w http.ResponseWriter, r *http.Request) {
	coord := s.requireFamily(w)
	if coord == nil {
		return
	}
	if err := coord.RemoveSharedLock(r.Context(), chi.URLParam(r, "lockID")); err != nil {
		s.writeFamilyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListActivity returns the cached activity feed, newest first.
// GET /api/v1/family/activity
func (s *Server) handleListActivity(w http.ResponseWriter, _ *http.Request) {
	coord := s.requireFamily(w)
	if coord == nil {
		return
	}
	writeJSON(w, http.StatusOK, coord.Activities())
}
