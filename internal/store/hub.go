package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"unison/internal/syncengine"
	"unison/pkg/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
	ErrClosed       = errors.New("store closed")

	// ErrDeleteRoom may be returned from a MutateFunc to delete the room
	// instead of saving it
	ErrDeleteRoom = errors.New("delete room")
)

// Persister saves room records so they survive a restart
type Persister interface {
	LoadRooms() ([]models.Room, error)
	SaveRoom(room models.Room) error
	DeleteRoom(roomID string) error
}

// MutateFunc edits a room in place while the hub holds its write lock
type MutateFunc func(room *models.Room) error

// Hub is the authoritative room record store. Writes are merged field by
// field, the last write wins, and every subscriber of the room receives the
// full record after each change.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]*models.Room
	subs    map[string]map[uint64]*subscriber
	nextID  uint64
	closed  bool
	persist Persister
	clock   clock.Clock
	logger  *logrus.Logger
}

// NewHub creates a hub, loading any rooms saved by persist. persist may be nil.
func NewHub(persist Persister, clk clock.Clock, logger *logrus.Logger) (*Hub, error) {
	if clk == nil {
		clk = clock.New()
	}
	h := &Hub{
		rooms:   make(map[string]*models.Room),
		subs:    make(map[string]map[uint64]*subscriber),
		persist: persist,
		clock:   clk,
		logger:  logger,
	}

	if persist != nil {
		rooms, err := persist.LoadRooms()
		if err != nil {
			return nil, fmt.Errorf("failed to load rooms: %w", err)
		}
		for i := range rooms {
			room := rooms[i]
			h.rooms[room.ID] = &room
		}
		logger.WithField("rooms", len(rooms)).Info("Loaded persisted rooms")
	}

	return h, nil
}

// Read returns the current record of roomID
func (h *Hub) Read(ctx context.Context, roomID string) (syncengine.Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return syncengine.Snapshot{}, ErrClosed
	}
	return h.snapshotLocked(roomID), nil
}

// Get returns a copy of the room or ErrRoomNotFound
func (h *Hub) Get(roomID string) (models.Room, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return room.Clone(), nil
}

// List returns copies of every room ordered by creation time
func (h *Hub) List() []models.Room {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]models.Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room.Clone())
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt == rooms[j].CreatedAt {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt < rooms[j].CreatedAt
	})
	return rooms
}

// Create stores a new room
func (h *Hub) Create(ctx context.Context, room models.Room) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if _, exists := h.rooms[room.ID]; exists {
		return ErrRoomExists
	}

	stored := room.Clone()
	stored.LastUpdated = h.clock.Now().UnixMilli()
	if err := h.saveLocked(stored); err != nil {
		return err
	}
	h.rooms[room.ID] = &stored
	h.broadcastLocked(room.ID)

	h.logger.WithField("room_id", room.ID).Info("Room created")
	return nil
}

// Update merges patch into the room record
func (h *Hub) Update(ctx context.Context, roomID string, patch models.RoomPatch) error {
	_, err := h.Mutate(ctx, roomID, func(room *models.Room) error {
		patch.ApplyTo(room)
		return nil
	})
	return err
}

// Mutate applies fn to a copy of the room and stores the result. If fn
// returns ErrDeleteRoom the room is deleted; any other error aborts the
// change. The returned room is the stored result.
func (h *Hub) Mutate(ctx context.Context, roomID string, fn MutateFunc) (models.Room, error) {
	if err := ctx.Err(); err != nil {
		return models.Room{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return models.Room{}, ErrClosed
	}
	current, ok := h.rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		if errors.Is(err, ErrDeleteRoom) {
			return next, h.deleteLocked(roomID)
		}
		return models.Room{}, err
	}

	next.ID = roomID
	next.LastUpdated = h.clock.Now().UnixMilli()
	if err := h.saveLocked(next); err != nil {
		return models.Room{}, err
	}
	h.rooms[roomID] = &next
	h.broadcastLocked(roomID)
	return next.Clone(), nil
}

// Delete removes the room. Subscribers receive a snapshot with Exists=false.
func (h *Hub) Delete(ctx context.Context, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if _, ok := h.rooms[roomID]; !ok {
		return ErrRoomNotFound
	}
	return h.deleteLocked(roomID)
}

// Subscribe delivers the current record of roomID and every later change.
// Subscribing to a room that does not exist delivers Exists=false.
func (h *Hub) Subscribe(roomID string, onChange func(syncengine.Snapshot), onError func(error)) (syncengine.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	h.nextID++
	sub := newSubscriber(h, roomID, h.nextID, onChange, onError)
	if h.subs[roomID] == nil {
		h.subs[roomID] = make(map[uint64]*subscriber)
	}
	h.subs[roomID][sub.id] = sub

	go sub.run()
	sub.push(h.snapshotLocked(roomID))

	h.logger.WithFields(logrus.Fields{
		"room_id":     roomID,
		"subscribers": len(h.subs[roomID]),
	}).Debug("Subscriber added")
	return sub, nil
}

// SubscriberCount returns the number of live subscriptions to roomID
func (h *Hub) SubscriberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[roomID])
}

// Close fails every subscription with ErrClosed and rejects later calls
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for _, subs := range h.subs {
		for _, sub := range subs {
			sub.fail(ErrClosed)
		}
	}
	h.subs = make(map[string]map[uint64]*subscriber)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[sub.roomID]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.subs, sub.roomID)
		}
	}
}

// snapshotLocked must be called with the lock held
func (h *Hub) snapshotLocked(roomID string) syncengine.Snapshot {
	room, ok := h.rooms[roomID]
	if !ok {
		return syncengine.Snapshot{Exists: false}
	}
	clone := room.Clone()
	return syncengine.Snapshot{Exists: true, Room: &clone}
}

// broadcastLocked sends the current record to every subscriber of roomID
// (must be called with lock held)
func (h *Hub) broadcastLocked(roomID string) {
	for _, sub := range h.subs[roomID] {
		sub.push(h.snapshotLocked(roomID))
	}
}

func (h *Hub) saveLocked(room models.Room) error {
	if h.persist == nil {
		return nil
	}
	if err := h.persist.SaveRoom(room); err != nil {
		h.logger.WithError(err).WithField("room_id", room.ID).Error("Failed to persist room")
		return fmt.Errorf("failed to save room %s: %w", room.ID, err)
	}
	return nil
}

func (h *Hub) deleteLocked(roomID string) error {
	if h.persist != nil {
		if err := h.persist.DeleteRoom(roomID); err != nil {
			return fmt.Errorf("failed to delete room %s: %w", roomID, err)
		}
	}
	delete(h.rooms, roomID)
	h.broadcastLocked(roomID)

	h.logger.WithField("room_id", roomID).Info("Room deleted")
	return nil
}

// subscriber delivers snapshots on its own goroutine. If the consumer falls
// behind, intermediate snapshots are replaced by the newest one.
type subscriber struct {
	hub      *Hub
	roomID   string
	id       uint64
	onChange func(syncengine.Snapshot)
	onError  func(error)

	mu      sync.Mutex
	pending *syncengine.Snapshot
	err     error
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscriber(h *Hub, roomID string, id uint64, onChange func(syncengine.Snapshot), onError func(error)) *subscriber {
	return &subscriber{
		hub:      h,
		roomID:   roomID,
		id:       id,
		onChange: onChange,
		onError:  onError,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (s *subscriber) push(snap syncengine.Snapshot) {
	s.mu.Lock()
	s.pending = &snap
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		snap, err := s.pending, s.err
		s.pending, s.err = nil, nil
		s.mu.Unlock()

		if snap != nil && s.onChange != nil {
			s.onChange(*snap)
		}
		if err != nil {
			if s.onError != nil {
				s.onError(err)
			}
			s.stop()
			return
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Unsubscribe stops delivery. It is safe to call more than once.
func (s *subscriber) Unsubscribe() {
	s.hub.remove(s)
	s.stop()
}
