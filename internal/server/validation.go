package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"unison/internal/catalog"
	"unison/internal/rooms"
)

const (
	maxIDLength     = 64
	maxUserIDLength = 128
	maxQueryLength  = 1000
	maxBodyBytes    = 1 << 20
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondJSON writes data as the JSON response body
func (s *RoomServer) respondJSON(w http.ResponseWriter, data interface{}) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeJSON sets the status code and writes data as JSON
func (s *RoomServer) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	s.respondJSON(w, data)
}

// respondWithValidationError sends a structured validation error response
func (s *RoomServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errs []ValidationError) {
	s.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errs,
	}).Warn("Validation failed")

	s.writeJSON(w, http.StatusBadRequest, ValidationResult{
		Valid:  false,
		Errors: errs,
	})
}

// respondWithError sends a structured error response
func (s *RoomServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := s.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	s.writeJSON(w, statusCode, map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// respondWithServiceError maps room and catalog errors onto HTTP statuses.
// Client errors carry the error text; anything else is reported generically.
func (s *RoomServer) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound), errors.Is(err, catalog.ErrSongNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rooms.ErrNotCreator), errors.Is(err, rooms.ErrNotMember):
		status = http.StatusForbidden
	case errors.Is(err, rooms.ErrRoomFull), errors.Is(err, rooms.ErrAlreadyMember),
		errors.Is(err, rooms.ErrSongExists), errors.Is(err, rooms.ErrEmptyPlaylist):
		status = http.StatusConflict
	case errors.Is(err, rooms.ErrKickSelf), errors.Is(err, rooms.ErrInvalidName),
		errors.Is(err, rooms.ErrInvalidMaxMembers), errors.Is(err, rooms.ErrBelowMemberCount),
		errors.Is(err, rooms.ErrInvalidIndex):
		status = http.StatusBadRequest
	}

	message := "Internal server error"
	if status < 500 {
		message = err.Error()
	}
	s.respondWithError(w, r, status, message, err)
}

// decodeJSON reads a bounded JSON request body into v
func (s *RoomServer) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondWithValidationError(w, r, []ValidationError{{
			Field:   "body",
			Message: "Request body must be valid JSON",
			Code:    "INVALID_JSON",
		}})
		return false
	}
	return true
}

// validateID checks a room or song ID taken from the URL path
func validateID(field, id string) *ValidationError {
	upper := strings.ToUpper(field)
	if id == "" {
		return &ValidationError{
			Field:   field,
			Message: "ID is required",
			Code:    "MISSING_" + upper,
		}
	}
	if len(id) > maxIDLength {
		return &ValidationError{
			Field:   field,
			Message: "ID too long",
			Code:    upper + "_TOO_LONG",
		}
	}
	for _, c := range id {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return &ValidationError{
				Field:   field,
				Message: "ID may only contain letters, digits, '-' and '_'",
				Code:    "INVALID_" + upper + "_FORMAT",
			}
		}
	}
	return nil
}

// userIDFrom returns the caller's user ID from the X-User-ID header or the
// userId query parameter (browsers cannot set headers on websockets)
func userIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return sanitizeInput(id)
	}
	return sanitizeInput(r.URL.Query().Get("userId"))
}

// validateUserID checks a caller identity
func validateUserID(userID string) *ValidationError {
	if userID == "" {
		return &ValidationError{
			Field:   "user_id",
			Message: "User ID is required (X-User-ID header)",
			Code:    "MISSING_USER_ID",
		}
	}
	if len(userID) > maxUserIDLength {
		return &ValidationError{
			Field:   "user_id",
			Message: "User ID too long",
			Code:    "USER_ID_TOO_LONG",
		}
	}
	if strings.ContainsAny(userID, "\r\n\x00") {
		return &ValidationError{
			Field:   "user_id",
			Message: "User ID contains invalid characters",
			Code:    "INVALID_USER_ID_CHARACTERS",
		}
	}
	return nil
}

// validateSearchQuery validates search query parameters
func validateSearchQuery(query string) *ValidationError {
	if len(query) > maxQueryLength {
		return &ValidationError{
			Field:   "search",
			Message: "Search query too long (max 1000 characters)",
			Code:    "SEARCH_QUERY_TOO_LONG",
		}
	}

	if strings.Contains(query, "\x00") {
		return &ValidationError{
			Field:   "search",
			Message: "Search query contains invalid characters",
			Code:    "INVALID_SEARCH_CHARACTERS",
		}
	}

	return nil
}

// validateFilePath ensures file path is within the configured library
func (s *RoomServer) validateFilePath(filePath string) *ValidationError {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return &ValidationError{
			Field:   "file_path",
			Message: "Invalid file path",
			Code:    "INVALID_FILE_PATH",
		}
	}

	absLibrary, err := filepath.Abs(s.config.Library.Path)
	if err != nil {
		return &ValidationError{
			Field:   "file_path",
			Message: "Server configuration error",
			Code:    "CONFIG_ERROR",
		}
	}

	relPath, err := filepath.Rel(absLibrary, absPath)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return &ValidationError{
			Field:   "file_path",
			Message: "File path outside allowed directory",
			Code:    "PATH_TRAVERSAL_DENIED",
		}
	}

	return nil
}

// sanitizeInput removes null bytes and surrounding whitespace
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}

// pathParts splits the URL path after prefix into its segments
func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
