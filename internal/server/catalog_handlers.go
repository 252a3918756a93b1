package server

import (
	"bytes"
	"net/http"
	"os"

	"unison/internal/metadata"
)

// handleSearchSongs lists library songs matching ?search=
func (s *RoomServer) handleSearchSongs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	query := sanitizeInput(r.URL.Query().Get("search"))
	if verr := validateSearchQuery(query); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	s.writeJSON(w, http.StatusOK, s.library.Search(query))
}

// handleGetSong returns one library song, ready to be added to a playlist
func (s *RoomServer) handleGetSong(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	parts := pathParts(r.URL.Path, "/api/songs/")
	if len(parts) != 1 {
		s.respondWithError(w, r, http.StatusNotFound, "Not found", nil)
		return
	}
	if verr := validateID("song_id", parts[0]); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	song, err := s.library.Get(parts[0])
	if err != nil {
		s.respondWithServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, song)
}

// handleStreamSong serves the audio file behind /stream/{id} with range
// support, which players need to seek
func (s *RoomServer) handleStreamSong(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	parts := pathParts(r.URL.Path, "/stream/")
	if len(parts) != 1 {
		s.respondWithError(w, r, http.StatusNotFound, "Not found", nil)
		return
	}
	if verr := validateID("song_id", parts[0]); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	entry, err := s.library.Entry(parts[0])
	if err != nil {
		s.respondWithServiceError(w, r, err)
		return
	}
	if verr := s.validateFilePath(entry.Path); verr != nil {
		s.respondWithError(w, r, http.StatusForbidden, verr.Message, nil)
		return
	}

	file, err := os.Open(entry.Path)
	if err != nil {
		s.respondWithError(w, r, http.StatusNotFound, "Audio file not available", err)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Internal server error", err)
		return
	}

	w.Header().Set("Content-Type", metadata.ContentType(entry.Path))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	setCORSHeaders(w)
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
}

// handleAlbumArt serves embedded cover images extracted during the scan
func (s *RoomServer) handleAlbumArt(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/albumart/")
	if len(parts) != 1 {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid album art ID", nil)
		return
	}

	data, ok := s.extractor.AlbumArt(parts[0])
	if !ok {
		s.respondWithError(w, r, http.StatusNotFound, "Album art not found", nil)
		return
	}

	w.Header().Set("Content-Type", metadata.ImageType(data))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, "", s.startedAt, bytes.NewReader(data))
}
