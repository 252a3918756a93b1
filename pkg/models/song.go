package models

// Song represents a playable song record shared by everyone in a room
type Song struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	URL      string  `json:"url"`
	AlbumArt string  `json:"albumArt,omitempty"`
	Duration float64 `json:"duration"` // in seconds
}

// RoomState is the shared playback state of a room.
//
// CurrentTime is the position as of Timestamp, not "now": readers playing along
// must project it forward by the wall-clock time elapsed since Timestamp.
type RoomState struct {
	CurrentSong *Song   `json:"currentSong"`
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"` // in seconds
	Timestamp   int64   `json:"timestamp"`   // unix millis
	Playlist    []Song  `json:"playlist"`
}

// SongURL returns the URL of the current song, or "" when nothing is queued
func (s *RoomState) SongURL() string {
	if s == nil || s.CurrentSong == nil {
		return ""
	}
	return s.CurrentSong.URL
}

// Clone returns a deep copy so cached states never alias store-owned memory
func (s RoomState) Clone() RoomState {
	if s.CurrentSong != nil {
		song := *s.CurrentSong
		s.CurrentSong = &song
	}
	if s.Playlist != nil {
		s.Playlist = append([]Song(nil), s.Playlist...)
	}
	return s
}
