package server

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"unison/internal/rooms"
	"unison/pkg/models"
)

type createRoomRequest struct {
	RoomName   string `json:"roomName"`
	MaxMembers int    `json:"maxMembers"`
}

type kickRequest struct {
	UserID string `json:"userId"`
}

type addSongRequest struct {
	SongID string       `json:"songId,omitempty"`
	Song   *models.Song `json:"song,omitempty"`
}

type playIndexRequest struct {
	Index int `json:"index"`
}

// handleRooms lists rooms (GET) or creates one (POST). A creator without a
// user ID is assigned a fresh one, returned in the room's creatorId.
func (s *RoomServer) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.rooms.List())

	case http.MethodPost:
		var req createRoomRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}

		creatorID := userIDFrom(r)
		if creatorID == "" {
			creatorID = rooms.NewUserID()
		} else if verr := validateUserID(creatorID); verr != nil {
			s.respondWithValidationError(w, r, []ValidationError{*verr})
			return
		}

		room, err := s.rooms.Create(r.Context(), creatorID, sanitizeInput(req.RoomName), req.MaxMembers)
		if err != nil {
			s.respondWithServiceError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, room)

	default:
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	}
}

// handleRoomRoutes dispatches /api/rooms/{id}[/action[/arg]]
func (s *RoomServer) handleRoomRoutes(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/api/rooms/")
	if len(parts) == 0 {
		s.handleRooms(w, r)
		return
	}

	roomID := parts[0]
	if verr := validateID("room_id", roomID); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && len(parts) == 1:
		s.handleRoom(w, r, roomID)
	case action == "state" && len(parts) == 2:
		s.handleRoomState(w, r, roomID)
	case action == "listeners" && len(parts) == 2:
		s.handleListeners(w, r, roomID)
	case action == "playlist" && len(parts) <= 3:
		s.handlePlaylist(w, r, roomID, parts[2:])
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.handleRoomAction(w, r, roomID, action)
	case len(parts) == 2 && action == "settings":
		s.handleRoomAction(w, r, roomID, action)
	default:
		s.respondWithError(w, r, http.StatusNotFound, "Not found", nil)
	}
}

func (s *RoomServer) handleRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	switch r.Method {
	case http.MethodGet:
		room, err := s.rooms.Get(roomID)
		if err != nil {
			s.respondWithServiceError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, room)

	case http.MethodDelete:
		userID, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		if err := s.rooms.Delete(r.Context(), roomID, userID); err != nil {
			s.respondWithServiceError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})

	default:
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	}
}

// handleRoomAction serves the membership and settings endpoints
func (s *RoomServer) handleRoomAction(w http.ResponseWriter, r *http.Request, roomID, action string) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		room models.Room
		err  error
	)

	switch action {
	case "join":
		room, err = s.rooms.Join(ctx, roomID, userID)
		if err == nil {
			s.logger.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("User joined room")
		}

	case "leave":
		if err = s.rooms.Leave(ctx, roomID, userID); err == nil {
			s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
			return
		}

	case "kick":
		var req kickRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}
		if verr := validateUserID(sanitizeInput(req.UserID)); verr != nil {
			s.respondWithValidationError(w, r, []ValidationError{*verr})
			return
		}
		if err = s.rooms.Kick(ctx, roomID, userID, sanitizeInput(req.UserID)); err == nil {
			room, err = s.rooms.Get(roomID)
		}

	case "settings":
		if r.Method != http.MethodPut && r.Method != http.MethodPatch {
			s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
			return
		}
		var settings rooms.Settings
		if !s.decodeJSON(w, r, &settings) {
			return
		}
		room, err = s.rooms.UpdateSettings(ctx, roomID, userID, settings)

	case "play":
		var req playIndexRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}
		room, err = s.rooms.PlayIndex(ctx, roomID, userID, req.Index)

	case "next":
		room, err = s.rooms.Advance(ctx, roomID, userID)

	default:
		s.respondWithError(w, r, http.StatusNotFound, "Not found", nil)
		return
	}

	if err != nil {
		s.respondWithServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

// handlePlaylist lists (GET), appends to (POST) or removes from
// (DELETE /playlist/{index}) the room playlist
func (s *RoomServer) handlePlaylist(w http.ResponseWriter, r *http.Request, roomID string, rest []string) {
	if r.Method == http.MethodGet && len(rest) == 0 {
		room, err := s.rooms.Get(roomID)
		if err != nil {
			s.respondWithServiceError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, room.Playlist)
		return
	}

	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var (
		room models.Room
		err  error
	)

	switch {
	case r.Method == http.MethodPost && len(rest) == 0:
		var req addSongRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}
		song, serr := s.resolveSong(req)
		if serr != nil {
			s.respondWithServiceError(w, r, serr)
			return
		}
		room, err = s.rooms.AddSong(r.Context(), roomID, userID, song)

	case r.Method == http.MethodDelete && len(rest) == 1:
		index, perr := strconv.Atoi(rest[0])
		if perr != nil {
			s.respondWithValidationError(w, r, []ValidationError{{
				Field:   "index",
				Message: "Playlist index must be an integer",
				Code:    "INVALID_INDEX_FORMAT",
			}})
			return
		}
		room, err = s.rooms.RemoveSong(r.Context(), roomID, userID, index)

	default:
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if err != nil {
		s.respondWithServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, room.Playlist)
}

func (s *RoomServer) handleListeners(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	if _, err := s.rooms.Get(roomID); err != nil {
		s.respondWithServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessions.InRoom(roomID))
}

// resolveSong looks a library song up by ID, or accepts an external song
// with its own URL
func (s *RoomServer) resolveSong(req addSongRequest) (models.Song, error) {
	if req.SongID != "" {
		return s.library.Get(req.SongID)
	}
	if req.Song != nil {
		return *req.Song, nil
	}
	return models.Song{}, rooms.ErrInvalidIndex
}

func (s *RoomServer) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := userIDFrom(r)
	if verr := validateUserID(userID); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return "", false
	}
	return userID, true
}
