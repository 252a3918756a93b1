package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"unison/pkg/models"
)

var errEmptyPatch = errors.New("patch contains no playback fields")

// handleRoomState serves the raw room record to sync clients (GET) and merges
// playback patches into it (PATCH, PUT or POST)
func (s *RoomServer) handleRoomState(w http.ResponseWriter, r *http.Request, roomID string) {
	switch r.Method {
	case http.MethodGet:
		room, err := s.hub.Get(roomID)
		if err != nil {
			s.respondWithServiceError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, room)

	case http.MethodPatch, http.MethodPut, http.MethodPost:
		var patch models.RoomPatch
		if !s.decodeJSON(w, r, &patch) {
			return
		}
		room, err := s.applyStatePatch(r.Context(), roomID, patch)
		if errors.Is(err, errEmptyPatch) {
			s.respondWithValidationError(w, r, []ValidationError{{
				Field:   "body",
				Message: "Patch contains no playback fields",
				Code:    "EMPTY_PATCH",
			}})
			return
		}
		if err != nil {
			s.respondWithServiceError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, room)

	default:
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	}
}

// applyStatePatch merges the playback fields of patch into the room. Room
// settings are only changed through the settings endpoint, and a patch that
// moves the playhead without a timestamp is stamped with the server time.
func (s *RoomServer) applyStatePatch(ctx context.Context, roomID string, patch models.RoomPatch) (models.Room, error) {
	patch.Name = nil
	patch.MaxMembers = nil
	if patch.IsEmpty() {
		return models.Room{}, errEmptyPatch
	}
	if patch.Timestamp == nil {
		now := s.clock.Now().UnixMilli()
		patch.Timestamp = &now
	}

	room, err := s.hub.Mutate(ctx, roomID, func(room *models.Room) error {
		patch.ApplyTo(room)
		return nil
	})
	if err != nil {
		return models.Room{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"room_id":      roomID,
		"is_playing":   room.IsPlaying,
		"current_time": room.CurrentTime,
	}).Debug("Room state updated")
	return room, nil
}
