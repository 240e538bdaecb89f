package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lockstead/lockstead-core/internal/lock"
)

// addLockRequest is the POST /locks payload.
type addLockRequest struct {
	DeviceID        string  `json:"device_id"`
	DeviceName      string  `json:"device_name"`
	Room            *string `json:"room,omitempty"`
	LockedState     bool    `json:"locked_state"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
	Share           bool    `json:"share,omitempty"`
	Replace         bool    `json:"replace,omitempty"`
}

// lockResponse is the lock payload returned to callers.
type lockResponse struct {
	ID               string  `json:"id"`
	DeviceID         string  `json:"device_id"`
	DeviceName       string  `json:"device_name"`
	Room             *string `json:"room,omitempty"`
	LockedState      bool    `json:"locked_state"`
	CreatedAt        string  `json:"created_at"`
	ExpiresAt        *string `json:"expires_at,omitempty"`
	RemainingSeconds *int64  `json:"remaining_seconds,omitempty"`
	Shared           bool    `json:"shared"`
}

func toLockResponse(l *lock.LockConfiguration) lockResponse {
	resp := lockResponse{
		ID:          l.ID,
		DeviceID:    l.DeviceID,
		DeviceName:  l.DeviceName,
		Room:        l.RoomName,
		LockedState: l.LockedState,
		CreatedAt:   l.CreatedAt.UTC().Format(time.RFC3339),
		Shared:      l.Shared,
	}
	if l.ExpiresAt != nil {
		expires := l.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &expires
	}
	if remaining := l.Remaining(); remaining != nil {
		secs := int64(remaining.Seconds())
		resp.RemainingSeconds = &secs
	}
	return resp
}

// handleAddLock pins a device. POST /api/v1/locks
func (s *Server) handleAddLock(w http.ResponseWriter, r *http.Request) {
	var req addLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}
	if req.DeviceName == "" {
		req.DeviceName = req.DeviceID
	}

	engineReq := lock.AddLockRequest{
		DeviceID:    req.DeviceID,
		DeviceName:  req.DeviceName,
		RoomName:    req.Room,
		LockedState: req.LockedState,
		Share:       req.Share,
		Replace:     req.Replace,
	}
	if req.DurationSeconds != nil {
		if *req.DurationSeconds <= 0 {
			writeBadRequest(w, "duration_seconds must be positive")
			return
		}
		d := time.Duration(*req.DurationSeconds) * time.Second
		engineReq.Duration = &d
	}

	created, err := s.engine.AddLock(r.Context(), engineReq)
	if err != nil {
		switch {
		case errors.Is(err, lock.ErrDeviceNotFound):
			writeError(w, http.StatusNotFound, ErrCodeDeviceNotFound, err.Error())
		case errors.Is(err, lock.ErrAlreadyLocked):
			writeError(w, http.StatusConflict, ErrCodeAlreadyLocked, err.Error())
		default:
			s.logger.Error("add lock failed", "device_id", req.DeviceID, "error", err)
			writeInternalError(w, "could not lock the device")
		}
		return
	}
	writeJSON(w, http.StatusCreated, toLockResponse(created))
}

// handleRemoveLock releases a device. DELETE /api/v1/locks/{deviceID}
func (s *Server) handleRemoveLock(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if err := s.engine.RemoveLock(r.Context(), deviceID); err != nil {
		s.logger.Error("remove lock failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "could not unlock the device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnlockAll releases every device. DELETE /api/v1/locks
func (s *Server) handleUnlockAll(w http.ResponseWriter, r *http.Request) {
	removed, err := s.engine.UnlockAll(r.Context())
	if err != nil {
		s.logger.Error("unlock all failed", "error", err)
		writeInternalError(w, "could not unlock all devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// handleListLocks returns every active lock. GET /api/v1/locks
func (s *Server) handleListLocks(w http.ResponseWriter, _ *http.Request) {
	locks := s.engine.ListLocks()
	resp := make([]lockResponse, 0, len(locks))
	for i := range locks {
		resp = append(resp, toLockResponse(&locks[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLockStatus reports one device's lock state. GET /api/v1/locks/{deviceID}
func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	locked, remaining := s.engine.Status(deviceID)

	resp := map[string]any{"device_id": deviceID, "locked": locked}
	if remaining != nil {
		resp["remaining_seconds"] = int64(remaining.Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDetectedLocks scans installed reversion rules, including ones left
// by other processes. GET /api/v1/locks/detected
func (s *Server) handleDetectedLocks(w http.ResponseWriter, r *http.Request) {
	detected, err := s.bridge.ListInstalledRules(r.Context())
	if err != nil {
		s.logger.Error("rule scan failed", "error", err)
		writeInternalError(w, "could not scan installed rules")
		return
	}
	writeJSON(w, http.StatusOK, detected)
}

// handlePurgeRules removes every feature-owned rule. DELETE /api/v1/rules
func (s *Server) handlePurgeRules(w http.ResponseWriter, r *http.Request) {
	removed, err := s.bridge.PurgeAllRules(r.Context())
	if err != nil {
		s.logger.Error("rule purge failed", "removed", removed, "error", err)
		writeInternalError(w, "rule purge incomplete")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
