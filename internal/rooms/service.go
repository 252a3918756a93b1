package rooms

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"unison/internal/store"
	"unison/pkg/models"
)

const (
	MinMembers = 2
	MaxMembers = 10

	MaxNameLength = 50

	idLength   = 8
	idChars    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	idAttempts = 5
)

var (
	ErrRoomNotFound      = store.ErrRoomNotFound
	ErrRoomFull          = errors.New("room is at maximum capacity")
	ErrAlreadyMember     = errors.New("already in this room")
	ErrNotMember         = errors.New("not a member of this room")
	ErrNotCreator        = errors.New("only the room creator can do that")
	ErrKickSelf          = errors.New("cannot kick yourself from the room")
	ErrInvalidName       = errors.New("room name is required")
	ErrInvalidMaxMembers = fmt.Errorf("max members must be between %d and %d", MinMembers, MaxMembers)
	ErrBelowMemberCount  = errors.New("cannot reduce max members below current member count")
	ErrSongExists        = errors.New("song already in playlist")
	ErrInvalidIndex      = errors.New("playlist index out of range")
	ErrEmptyPlaylist     = errors.New("playlist is empty")
)

// Settings holds the creator-editable room fields. Nil fields are unchanged.
type Settings struct {
	Name       *string `json:"roomName,omitempty"`
	MaxMembers *int    `json:"maxMembers,omitempty"`
}

// Service implements the room lifecycle on top of the hub. Every check and
// its write happen inside one hub mutation, so concurrent joins cannot
// overfill a room.
type Service struct {
	hub    *store.Hub
	clock  clock.Clock
	logger *logrus.Logger
}

// NewService creates a room lifecycle service
func NewService(hub *store.Hub, clk clock.Clock, logger *logrus.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{hub: hub, clock: clk, logger: logger}
}

// NewUserID returns a fresh listener ID
func NewUserID() string {
	return uuid.NewString()
}

// GenerateRoomID returns a random 8 character alphanumeric room ID
func GenerateRoomID() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(idChars)))
	for i := 0; i < idLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(idChars[n.Int64()])
	}
	return b.String(), nil
}

// Create makes a new room with creatorID as its first member
func (s *Service) Create(ctx context.Context, creatorID, name string, maxMembers int) (models.Room, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return models.Room{}, err
	}
	if maxMembers < MinMembers || maxMembers > MaxMembers {
		return models.Room{}, ErrInvalidMaxMembers
	}
	if creatorID == "" {
		return models.Room{}, errors.New("creator ID is required")
	}

	now := s.clock.Now().UnixMilli()
	for attempt := 0; attempt < idAttempts; attempt++ {
		id, err := GenerateRoomID()
		if err != nil {
			return models.Room{}, fmt.Errorf("failed to generate room ID: %w", err)
		}

		room := models.Room{
			ID:         id,
			Name:       name,
			CreatorID:  creatorID,
			MaxMembers: maxMembers,
			Members:    map[string]int64{creatorID: now},
			CreatedAt:  now,
			RoomState: models.RoomState{
				Timestamp: now,
				Playlist:  []models.Song{},
			},
		}

		err = s.hub.Create(ctx, room)
		if errors.Is(err, store.ErrRoomExists) {
			continue
		}
		if err != nil {
			return models.Room{}, err
		}

		s.logger.WithFields(logrus.Fields{
			"room_id":     id,
			"creator_id":  creatorID,
			"max_members": maxMembers,
		}).Info("Room created")
		return s.hub.Get(id)
	}

	return models.Room{}, errors.New("failed to allocate a unique room ID")
}

// Get returns the room record
func (s *Service) Get(roomID string) (models.Room, error) {
	if roomID == "" {
		return models.Room{}, errors.New("room ID is required")
	}
	return s.hub.Get(roomID)
}

// List returns every room
func (s *Service) List() []models.Room {
	return s.hub.List()
}

// Join adds userID to the room
func (s *Service) Join(ctx context.Context, roomID, userID string) (models.Room, error) {
	return s.hub.Mutate(ctx, roomID, func(room *models.Room) error {
		if room.HasMember(userID) {
			return ErrAlreadyMember
		}
		if room.MemberCount() >= room.MaxMembers {
			return ErrRoomFull
		}
		if room.Members == nil {
			room.Members = make(map[string]int64)
		}
		room.Members[userID] = s.clock.Now().UnixMilli()
		return nil
	})
}

// Leave removes userID from the room. The room is deleted when its last
// member leaves. Leaving a room that no longer exists is not an error.
func (s *Service) Leave(ctx context.Context, roomID, userID string) error {
	_, err := s.hub.Mutate(ctx, roomID, func(room *models.Room) error {
		if !room.HasMember(userID) {
			return ErrNotMember
		}
		if room.MemberCount() <= 1 {
			return store.ErrDeleteRoom
		}
		delete(room.Members, userID)
		return nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	if err == nil {
		s.logger.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("User left room")
	}
	return err
}

// Delete removes the room. Only the creator may delete it.
func (s *Service) Delete(ctx context.Context, roomID, userID string) error {
	_, err := s.hub.Mutate(ctx, roomID, func(room *models.Room) error {
		if room.CreatorID != userID {
			return ErrNotCreator
		}
		return store.ErrDeleteRoom
	})
	return err
}

// Kick removes targetID from the room on behalf of the creator
func (s *Service) Kick(ctx context.Context, roomID, creatorID, targetID string) error {
	if targetID == creatorID {
		return ErrKickSelf
	}
	_, err := s.hub.Mutate(ctx, roomID, func(room *models.Room) error {
		if room.CreatorID != creatorID {
			return ErrNotCreator
		}
		if !room.HasMember(targetID) {
			return ErrNotMember
		}
		delete(room.Members, targetID)
		return nil
	})
	if err == nil {
		s.logger.WithFields(logrus.Fields{"room_id": roomID, "user_id": targetID}).Info("User kicked from room")
	}
	return err
}

// UpdateSettings changes the room name or capacity. Only the creator may
// change settings and capacity cannot drop below the current member count.
func (s *Service) UpdateSettings(ctx context.Context, roomID, userID string, settings Settings) (models.Room, error) {
	var name string
	if settings.Name != nil {
		name = strings.TrimSpace(*settings.Name)
		if err := validateName(name); err != nil {
			return models.Room{}, err
		}
	}
	if settings.MaxMembers != nil && (*settings.MaxMembers < MinMembers || *settings.MaxMembers > MaxMembers) {
		return models.Room{}, ErrInvalidMaxMembers
	}

	return s.hub.Mutate(ctx, roomID, func(room *models.Room) error {
		if room.CreatorID != userID {
			return ErrNotCreator
		}
		if settings.MaxMembers != nil {
			if *settings.MaxMembers < room.MemberCount() {
				return fmt.Errorf("%w (%d)", ErrBelowMemberCount, room.MemberCount())
			}
			room.MaxMembers = *settings.MaxMembers
		}
		if settings.Name != nil {
			room.Name = name
		}
		return nil
	})
}

// AddSong appends song to the playlist. Songs already present are rejected.
func (s *Service) AddSong(ctx context.Context, roomID, userID string, song models.Song) (models.Room, error) {
	if song.ID == "" || song.URL == "" {
		return models.Room{}, errors.New("song ID and URL are required")
	}
	return s.hub.Mutate(ctx, roomID, func(room *models.Room) error {
		if room.CreatorID != userID {
			return ErrNotCreator
		}
		for _, existing := range room.Playlist {
			if existing.ID == song.ID {
				return ErrSongExists
			}
		}
		room.Playlist = append(room.Playlist, song)
		return nil
	})
}

// RemoveSong drops the playlist entry at index
func (s *Service) RemoveSong(ctx context.Context, roomID, userID string, index int) (models.Room, error) {
	return s.hub.Mutate(ctx, roomID, func(room *models.Room) error {
		if room.CreatorID != userID {
			return ErrNotCreator
		}
		if index < 0 || index >= len(room.Playlist) {
			return ErrInvalidIndex
		}
		room.Playlist = append(room.Playlist[:index:index], room.Playlist[index+1:]...)
		return nil
	})
}

// PlayIndex makes the playlist entry at index the current song, starting
// from the beginning. Any member may change the song.
func (s *Service) PlayIndex(ctx context.Context, roomID, userID string, index int) (models.Room, error) {
	return s.hub.Mutate(ctx, roomID, func(room *models.Room) error {
		if !room.HasMember(userID) {
			return ErrNotMember
		}
		if index < 0 || index >= len(room.Playlist) {
			return ErrInvalidIndex
		}
		s.changeSong(room, room.Playlist[index])
		return nil
	})
}

// Advance moves to the song after the current one, wrapping to the start of
// the playlist
func (s *Service) Advance(ctx context.Context, roomID, userID string) (models.Room, error) {
	return s.hub.Mutate(ctx, roomID, func(room *models.Room) error {
		if !room.HasMember(userID) {
			return ErrNotMember
		}
		if len(room.Playlist) == 0 {
			return ErrEmptyPlaylist
		}
		next := 0
		if room.CurrentSong != nil {
			for i, song := range room.Playlist {
				if song.ID == room.CurrentSong.ID {
					next = (i + 1) % len(room.Playlist)
					break
				}
			}
		}
		s.changeSong(room, room.Playlist[next])
		return nil
	})
}

func (s *Service) changeSong(room *models.Room, song models.Song) {
	models.ChangeSong(song, true).ApplyTo(room)
	room.Timestamp = s.clock.Now().UnixMilli()
}

func validateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("room name must be at most %d characters", MaxNameLength)
	}
	return nil
}
