package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"unison/internal/player"
	"unison/internal/store"
	"unison/internal/syncengine"
	"unison/pkg/models"
)

func TestCommandPatch(t *testing.T) {
	now := time.UnixMilli(100_000)
	playing := models.RoomState{IsPlaying: true, CurrentTime: 10, Timestamp: 96_000}
	paused := models.RoomState{IsPlaying: false, CurrentTime: 42, Timestamp: 50_000}

	tests := []struct {
		name        string
		cmd         command
		state       models.RoomState
		wantTime    float64
		wantPlaying *bool
	}{
		{name: "pause freezes projected position", cmd: command{pause: true, seek: -1}, state: playing, wantTime: 14, wantPlaying: boolPtr(false)},
		{name: "play resumes from paused position", cmd: command{play: true, seek: -1}, state: paused, wantTime: 42, wantPlaying: boolPtr(true)},
		{name: "seek keeps transport", cmd: command{seek: 90}, state: playing, wantTime: 90},
		{name: "seek and play", cmd: command{play: true, seek: 5}, state: paused, wantTime: 5, wantPlaying: boolPtr(true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch := tt.cmd.patch(tt.state, now, 0)
			if patch.CurrentTime == nil || *patch.CurrentTime != tt.wantTime {
				t.Errorf("CurrentTime = %v, want %v", patch.CurrentTime, tt.wantTime)
			}
			switch {
			case tt.wantPlaying == nil && patch.IsPlaying != nil:
				t.Errorf("IsPlaying = %v, want unset", *patch.IsPlaying)
			case tt.wantPlaying != nil && (patch.IsPlaying == nil || *patch.IsPlaying != *tt.wantPlaying):
				t.Errorf("IsPlaying = %v, want %v", patch.IsPlaying, *tt.wantPlaying)
			}
		})
	}
}

func TestCommandEmpty(t *testing.T) {
	if !(command{seek: -1}).empty() {
		t.Error("no flags should be an empty command")
	}
	if (command{seek: 0}).empty() {
		t.Error("seek to 0 is a command")
	}
}

func TestCatalogDuration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/songs/abc123" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(models.Song{ID: "abc123", Duration: 187.5})
	}))
	defer ts.Close()

	resolve := catalogDuration(ts.URL + "/")

	d, err := resolve(ts.URL + "/stream/abc123")
	if err != nil || d != 187.5 {
		t.Errorf("library song = (%v, %v), want 187.5", d, err)
	}

	d, err = resolve("https://cdn.example.com/song.mp3")
	if err != nil || d != 0 {
		t.Errorf("external song = (%v, %v), want unknown duration", d, err)
	}

	if _, err := resolve(ts.URL + "/stream/missing"); err == nil {
		t.Error("expected an error for an unknown song")
	}
}

func boolPtr(b bool) *bool { return &b }

func TestListenStopsWhenRoomIsGone(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	remote, err := store.NewRemote("http://127.0.0.1:1", logger)
	if err != nil {
		t.Fatal(err)
	}
	mock := clock.NewMock()
	engine := syncengine.New("room1234", remote, syncengine.WithClock(mock), syncengine.WithLogger(logger))
	defer engine.Destroy()
	audio := player.NewVirtual(player.Options{}, mock, logger)
	projector := syncengine.NewProjector(engine)

	tests := []struct {
		name    string
		send    []syncengine.Event
		close   bool
		wantErr error
	}{
		{name: "room deleted", send: []syncengine.Event{syncengine.ConnectionError{Err: errors.New("reset")}, syncengine.RoomNotFound{RoomID: "room1234"}}, wantErr: errRoomGone},
		{name: "engine destroyed", close: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := make(chan syncengine.Event, len(tt.send))
			for _, ev := range tt.send {
				events <- ev
			}
			if tt.close {
				close(events)
			}

			done := make(chan error, 1)
			go func() {
				done <- listen(context.Background(), engine, audio, projector, events, make(chan os.Signal), command{seek: -1}, mock, logger)
			}()

			select {
			case err := <-done:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("listen() = %v, want %v", err, tt.wantErr)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("listen did not return")
			}
		})
	}
}
