package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"unison/internal/player"
	"unison/pkg/models"
)

// catalogDuration resolves song lengths for library stream URLs by asking the
// room server's song endpoint. Other URLs report an unknown duration.
func catalogDuration(serverURL string) player.DurationFunc {
	client := &http.Client{Timeout: 10 * time.Second}
	base := strings.TrimRight(serverURL, "/")

	return func(url string) (float64, error) {
		i := strings.LastIndex(url, "/stream/")
		if i < 0 {
			return 0, nil
		}
		id := url[i+len("/stream/"):]

		resp, err := client.Get(base + "/api/songs/" + id)
		if err != nil {
			return 0, fmt.Errorf("failed to look up song %s: %w", id, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("song %s: unexpected status %d", id, resp.StatusCode)
		}

		var song models.Song
		if err := json.NewDecoder(resp.Body).Decode(&song); err != nil {
			return 0, fmt.Errorf("failed to decode song %s: %w", id, err)
		}
		return song.Duration, nil
	}
}
