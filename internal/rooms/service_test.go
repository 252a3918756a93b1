package rooms

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"unison/internal/store"
	"unison/pkg/models"
)

func newTestService(t *testing.T) (*Service, *store.Hub) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	mock := clock.NewMock()
	mock.Set(time.UnixMilli(10_000))

	hub, err := store.NewHub(nil, mock, logger)
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	t.Cleanup(hub.Close)
	return NewService(hub, mock, logger), hub
}

func createRoom(t *testing.T, s *Service, creator string, capacity int) models.Room {
	t.Helper()
	room, err := s.Create(context.Background(), creator, "  Friday Night  ", capacity)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return room
}

func TestGenerateRoomID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateRoomID()
		if err != nil {
			t.Fatalf("GenerateRoomID failed: %v", err)
		}
		if len(id) != 8 {
			t.Errorf("Expected 8 characters, got %q", id)
		}
		for _, c := range id {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
				t.Errorf("Unexpected character %q in %q", c, id)
			}
		}
		seen[id] = true
	}
	if len(seen) < 99 {
		t.Errorf("Expected unique IDs, got %d distinct of 100", len(seen))
	}
}

func TestCreate(t *testing.T) {
	tests := []struct {
		name    string
		creator string
		title   string
		max     int
		wantErr error
	}{
		{"valid", "u1", "Room", 4, nil},
		{"minimum capacity", "u1", "Room", MinMembers, nil},
		{"maximum capacity", "u1", "Room", MaxMembers, nil},
		{"capacity too small", "u1", "Room", 1, ErrInvalidMaxMembers},
		{"capacity too large", "u1", "Room", 11, ErrInvalidMaxMembers},
		{"blank name", "u1", "   ", 4, ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestService(t)
			room, err := s.Create(context.Background(), tt.creator, tt.title, tt.max)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if room.CreatorID != tt.creator || !room.HasMember(tt.creator) || room.MemberCount() != 1 {
				t.Errorf("Creator should be the only member: %+v", room.Members)
			}
			if room.CreatedAt != 10_000 {
				t.Errorf("CreatedAt = %d, want 10000", room.CreatedAt)
			}
			if room.IsPlaying || room.CurrentSong != nil {
				t.Error("New room should be idle")
			}
		})
	}
}

func TestCreateTrimsName(t *testing.T) {
	s, _ := newTestService(t)
	room := createRoom(t, s, "u1", 4)
	if room.Name != "Friday Night" {
		t.Errorf("Name = %q, want trimmed name", room.Name)
	}
}

func TestJoin(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	room := createRoom(t, s, "u1", 2)

	joined, err := s.Join(ctx, room.ID, "u2")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if joined.MemberCount() != 2 {
		t.Errorf("MemberCount = %d, want 2", joined.MemberCount())
	}

	if _, err := s.Join(ctx, room.ID, "u2"); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("Expected ErrAlreadyMember, got %v", err)
	}
	if _, err := s.Join(ctx, room.ID, "u3"); !errors.Is(err, ErrRoomFull) {
		t.Errorf("Expected ErrRoomFull, got %v", err)
	}
	if _, err := s.Join(ctx, "missing", "u3"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	room := createRoom(t, s, "u1", 4)

	if _, err := s.Join(ctx, room.ID, "u2"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := s.Leave(ctx, room.ID, "u1"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}

	got, err := s.Get(room.ID)
	if err != nil {
		t.Fatalf("Room should remain while a member is left: %v", err)
	}
	if got.HasMember("u1") {
		t.Error("u1 should have left")
	}

	if err := s.Leave(ctx, room.ID, "u3"); !errors.Is(err, ErrNotMember) {
		t.Errorf("Expected ErrNotMember, got %v", err)
	}

	if err := s.Leave(ctx, room.ID, "u2"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if _, err := s.Get(room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected room to be deleted, got %v", err)
	}

	if err := s.Leave(ctx, room.ID, "u2"); err != nil {
		t.Errorf("Leaving a deleted room should succeed, got %v", err)
	}
}

func TestDeleteCreatorOnly(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	room := createRoom(t, s, "u1", 4)
	if _, err := s.Join(ctx, room.ID, "u2"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if err := s.Delete(ctx, room.ID, "u2"); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("Expected ErrNotCreator, got %v", err)
	}
	if err := s.Delete(ctx, room.ID, "u1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected room to be deleted, got %v", err)
	}
}

func TestKick(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	room := createRoom(t, s, "u1", 4)
	for _, u := range []string{"u2", "u3"} {
		if _, err := s.Join(ctx, room.ID, u); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}

	tests := []struct {
		name    string
		actor   string
		target  string
		wantErr error
	}{
		{"self", "u1", "u1", ErrKickSelf},
		{"not creator", "u2", "u3", ErrNotCreator},
		{"not member", "u1", "u9", ErrNotMember},
		{"creator kicks member", "u1", "u2", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Kick(ctx, room.ID, tt.actor, tt.target)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Kick error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, _ := s.Get(room.ID)
	if got.HasMember("u2") || got.MemberCount() != 2 {
		t.Errorf("Unexpected members after kick: %v", got.Members)
	}
}

func TestUpdateSettings(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	room := createRoom(t, s, "u1", 4)
	for _, u := range []string{"u2", "u3"} {
		if _, err := s.Join(ctx, room.ID, u); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}

	name := func(v string) *string { return &v }
	capacity := func(v int) *int { return &v }

	tests := []struct {
		name     string
		actor    string
		settings Settings
		wantErr  error
	}{
		{"not creator", "u2", Settings{Name: name("Mine")}, ErrNotCreator},
		{"below member count", "u1", Settings{MaxMembers: capacity(2)}, ErrBelowMemberCount},
		{"out of range", "u1", Settings{MaxMembers: capacity(20)}, ErrInvalidMaxMembers},
		{"blank name", "u1", Settings{Name: name("  ")}, ErrInvalidName},
		{"valid", "u1", Settings{Name: name("  Renamed "), MaxMembers: capacity(3)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.UpdateSettings(ctx, room.ID, tt.actor, tt.settings)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("UpdateSettings error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, _ := s.Get(room.ID)
	if got.Name != "Renamed" || got.MaxMembers != 3 {
		t.Errorf("Settings not applied: name=%q max=%d", got.Name, got.MaxMembers)
	}
}

func TestPlaylist(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	room := createRoom(t, s, "u1", 4)
	if _, err := s.Join(ctx, room.ID, "u2"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	songs := []models.Song{
		{ID: "a", Title: "A", URL: "http://x/a", Duration: 100},
		{ID: "b", Title: "B", URL: "http://x/b", Duration: 200},
		{ID: "c", Title: "C", URL: "http://x/c", Duration: 300},
	}
	for _, song := range songs {
		if _, err := s.AddSong(ctx, room.ID, "u1", song); err != nil {
			t.Fatalf("AddSong failed: %v", err)
		}
	}

	if _, err := s.AddSong(ctx, room.ID, "u1", songs[0]); !errors.Is(err, ErrSongExists) {
		t.Errorf("Expected ErrSongExists, got %v", err)
	}
	if _, err := s.AddSong(ctx, room.ID, "u2", models.Song{ID: "d", URL: "http://x/d"}); !errors.Is(err, ErrNotCreator) {
		t.Errorf("Expected ErrNotCreator, got %v", err)
	}

	got, err := s.Advance(ctx, room.ID, "u2")
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if got.CurrentSong == nil || got.CurrentSong.ID != "a" || !got.IsPlaying || got.CurrentTime != 0 {
		t.Fatalf("Expected first song playing from start, got %+v", got.RoomState)
	}
	if got.Timestamp != 10_000 {
		t.Errorf("Timestamp = %d, want 10000", got.Timestamp)
	}

	if got, err = s.PlayIndex(ctx, room.ID, "u2", 2); err != nil {
		t.Fatalf("PlayIndex failed: %v", err)
	}
	if got.CurrentSong.ID != "c" {
		t.Errorf("Expected song c, got %s", got.CurrentSong.ID)
	}

	if got, err = s.Advance(ctx, room.ID, "u1"); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if got.CurrentSong.ID != "a" {
		t.Errorf("Expected wrap to song a, got %s", got.CurrentSong.ID)
	}

	if _, err := s.RemoveSong(ctx, room.ID, "u1", 5); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("Expected ErrInvalidIndex, got %v", err)
	}
	if got, err = s.RemoveSong(ctx, room.ID, "u1", 1); err != nil {
		t.Fatalf("RemoveSong failed: %v", err)
	}
	if len(got.Playlist) != 2 || got.Playlist[0].ID != "a" || got.Playlist[1].ID != "c" {
		t.Errorf("Unexpected playlist after removal: %+v", got.Playlist)
	}
}

func TestAdvanceEmptyPlaylist(t *testing.T) {
	s, _ := newTestService(t)
	room := createRoom(t, s, "u1", 4)

	if _, err := s.Advance(context.Background(), room.ID, "u1"); !errors.Is(err, ErrEmptyPlaylist) {
		t.Errorf("Expected ErrEmptyPlaylist, got %v", err)
	}
}
