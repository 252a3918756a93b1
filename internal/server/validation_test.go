package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"unison/internal/config"
	"unison/internal/rooms"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		wantError bool
	}{
		{name: "room ID", id: "Ab3dE9xZ", wantError: false},
		{name: "song ID", id: "0123456789abcdef", wantError: false},
		{name: "dashes and underscores", id: "room_1-a", wantError: false},
		{name: "empty ID", id: "", wantError: true},
		{name: "too long", id: strings.Repeat("a", 65), wantError: true},
		{name: "path traversal", id: "..", wantError: true},
		{name: "space", id: "room 1", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateID("room_id", tt.id)

			if tt.wantError && err == nil {
				t.Errorf("validateID() expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("validateID() unexpected error: %v", err)
			}
		})
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		wantCode string
	}{
		{name: "uuid", userID: "7c9e6679-7425-40de-944b-e07fc1f90ae7"},
		{name: "missing", userID: "", wantCode: "MISSING_USER_ID"},
		{name: "too long", userID: strings.Repeat("u", 129), wantCode: "USER_ID_TOO_LONG"},
		{name: "header injection", userID: "u1\r\nX-Evil: 1", wantCode: "INVALID_USER_ID_CHARACTERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateUserID(tt.userID)
			switch {
			case tt.wantCode == "" && err != nil:
				t.Errorf("validateUserID() unexpected error: %+v", err)
			case tt.wantCode != "" && err == nil:
				t.Errorf("validateUserID() expected %s but got none", tt.wantCode)
			case tt.wantCode != "" && err.Code != tt.wantCode:
				t.Errorf("validateUserID() code = %s, want %s", err.Code, tt.wantCode)
			}
		})
	}
}

func TestUserIDFrom(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{name: "header", url: "/ws/rooms/abc", header: "u1", want: "u1"},
		{name: "query", url: "/ws/rooms/abc?userId=u2", want: "u2"},
		{name: "header wins", url: "/ws/rooms/abc?userId=u2", header: "u1", want: "u1"},
		{name: "trimmed", url: "/ws/rooms/abc", header: "  u3 ", want: "u3"},
		{name: "none", url: "/ws/rooms/abc", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				r.Header.Set("X-User-ID", tt.header)
			}
			if got := userIDFrom(r); got != tt.want {
				t.Errorf("userIDFrom() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateSearchQuery(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantError bool
	}{
		{
			name:      "valid search query",
			query:     "Beatles",
			wantError: false,
		},
		{
			name:      "empty search query",
			query:     "",
			wantError: false,
		},
		{
			name:      "long search query",
			query:     strings.Repeat("a", 1001),
			wantError: true,
		},
		{
			name:      "query with null byte",
			query:     "test\x00query",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSearchQuery(tt.query)

			if tt.wantError && err == nil {
				t.Errorf("validateSearchQuery() expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("validateSearchQuery() unexpected error: %v", err)
			}
		})
	}
}

func TestValidateFilePath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Library.Path = "/tmp/test-music"
	s := &RoomServer{config: cfg}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{
			name:      "valid file path within music directory",
			filePath:  "/tmp/test-music/song.mp3",
			wantError: false,
		},
		{
			name:      "path traversal attempt",
			filePath:  "/tmp/test-music/../../../etc/passwd",
			wantError: true,
		},
		{
			name:      "absolute path outside music directory",
			filePath:  "/etc/passwd",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.validateFilePath(tt.filePath)

			if tt.wantError && err == nil {
				t.Errorf("validateFilePath() expected error but got none")
			}
			if !tt.wantError && err != nil {
				t.Errorf("validateFilePath() unexpected error: %v", err)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal input",
			input:    "Hello World",
			expected: "Hello World",
		},
		{
			name:     "input with null bytes",
			input:    "Hello\x00World",
			expected: "HelloWorld",
		},
		{
			name:     "input with whitespace",
			input:    "  Hello World  ",
			expected: "Hello World",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizeInput(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeInput() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestPathParts(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{path: "/api/rooms/", want: nil},
		{path: "/api/rooms/abc", want: []string{"abc"}},
		{path: "/api/rooms/abc/state/", want: []string{"abc", "state"}},
		{path: "/api/rooms/abc/playlist/2", want: []string{"abc", "playlist", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := pathParts(tt.path, "/api/rooms/"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("pathParts() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRespondWithServiceError(t *testing.T) {
	s := &RoomServer{logger: testLogger()}

	tests := []struct {
		err  error
		want int
	}{
		{err: rooms.ErrRoomNotFound, want: http.StatusNotFound},
		{err: rooms.ErrNotCreator, want: http.StatusForbidden},
		{err: rooms.ErrNotMember, want: http.StatusForbidden},
		{err: rooms.ErrRoomFull, want: http.StatusConflict},
		{err: rooms.ErrAlreadyMember, want: http.StatusConflict},
		{err: rooms.ErrInvalidName, want: http.StatusBadRequest},
		{err: rooms.ErrInvalidIndex, want: http.StatusBadRequest},
		{err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.respondWithServiceError(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/x", nil), tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "disk on fire") {
				t.Error("internal error text leaked to client")
			}
		})
	}
}
