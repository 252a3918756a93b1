package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"

	"unison/pkg/models"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "rooms.db"), testLogger())
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteSaveAndLoad(t *testing.T) {
	db := openTestDB(t)

	room := testRoom("abc")
	room.CurrentSong = &models.Song{ID: "s1", Title: "Song", URL: "http://example.com/s1", Duration: 200}
	room.Playlist = []models.Song{*room.CurrentSong}
	if err := db.SaveRoom(room); err != nil {
		t.Fatalf("SaveRoom failed: %v", err)
	}

	room.Name = "Renamed"
	if err := db.SaveRoom(room); err != nil {
		t.Fatalf("SaveRoom (upsert) failed: %v", err)
	}

	rooms, err := db.LoadRooms()
	if err != nil {
		t.Fatalf("LoadRooms failed: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("Expected 1 room, got %d", len(rooms))
	}
	got := rooms[0]
	if got.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", got.Name)
	}
	if got.CurrentSong == nil || got.CurrentSong.Duration != 200 {
		t.Errorf("Song not restored: %+v", got.CurrentSong)
	}
	if len(got.Playlist) != 1 {
		t.Errorf("Playlist length = %d, want 1", len(got.Playlist))
	}
	if got.Members["creator"] != 1000 {
		t.Errorf("Members not restored: %v", got.Members)
	}

	if err := db.DeleteRoom("abc"); err != nil {
		t.Fatalf("DeleteRoom failed: %v", err)
	}
	if err := db.DeleteRoom("abc"); err != nil {
		t.Errorf("Deleting a missing room should not fail: %v", err)
	}
	rooms, err = db.LoadRooms()
	if err != nil {
		t.Fatalf("LoadRooms failed: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("Expected no rooms after delete, got %d", len(rooms))
	}
}

func TestHubRestoresPersistedRooms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.db")
	ctx := context.Background()

	db, err := OpenSQLite(path, testLogger())
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	hub, err := NewHub(db, clock.NewMock(), testLogger())
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	if err := hub.Create(ctx, testRoom("abc")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := hub.Update(ctx, "abc", models.Seek(77)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	hub.Close()
	db.Close()

	db, err = OpenSQLite(path, testLogger())
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer db.Close()

	restored, err := NewHub(db, clock.NewMock(), testLogger())
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	defer restored.Close()

	room, err := restored.Get("abc")
	if err != nil {
		t.Fatalf("Expected restored room: %v", err)
	}
	if room.CurrentTime != 77 {
		t.Errorf("CurrentTime = %v, want 77", room.CurrentTime)
	}
}
