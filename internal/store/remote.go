package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"unison/internal/syncengine"
	"unison/pkg/models"
)

const (
	writeWait = 5 * time.Second
	pongWait  = 60 * time.Second
)

// Remote is a room store served by roomd. Reads and writes go over HTTP and
// subscriptions over a websocket per room.
type Remote struct {
	baseURL *url.URL
	client  *http.Client
	dialer  *websocket.Dialer
	logger  *logrus.Logger
	header  http.Header
}

// NewRemote creates a store client for the roomd instance at serverURL
func NewRemote(serverURL string, logger *logrus.Logger) (*Remote, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}

	return &Remote{
		baseURL: u,
		client:  &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
		header: http.Header{},
	}, nil
}

// SetUserID sends userID with every request so roomd can track presence
func (r *Remote) SetUserID(userID string) {
	r.header.Set("X-User-ID", userID)
}

func (r *Remote) endpoint(scheme string, parts ...string) string {
	u := *r.baseURL
	u.Scheme = scheme
	u.Path = path.Join(append([]string{r.baseURL.Path}, parts...)...)
	return u.String()
}

func (r *Remote) wsScheme() string {
	if r.baseURL.Scheme == "https" {
		return "wss"
	}
	return "ws"
}

// Read fetches the current room record
func (r *Remote) Read(ctx context.Context, roomID string) (syncengine.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(r.baseURL.Scheme, "api", "rooms", roomID, "state"), nil)
	if err != nil {
		return syncengine.Snapshot{}, err
	}
	r.applyHeader(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return syncengine.Snapshot{}, fmt.Errorf("read room %s: %w", roomID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return syncengine.Snapshot{Exists: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return syncengine.Snapshot{}, fmt.Errorf("read room %s: %w", roomID, decodeError(resp))
	}

	var room models.Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return syncengine.Snapshot{}, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return syncengine.Snapshot{Exists: true, Room: &room}, nil
}

// Update sends patch to be merged into the room record
func (r *Remote) Update(ctx context.Context, roomID string, patch models.RoomPatch) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, r.endpoint(r.baseURL.Scheme, "api", "rooms", roomID, "state"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	r.applyHeader(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrRoomNotFound
	default:
		return decodeError(resp)
	}
}

// Subscribe opens a websocket to the room. Snapshots and errors are
// delivered from a reader goroutine, never from Subscribe itself.
func (r *Remote) Subscribe(roomID string, onChange func(syncengine.Snapshot), onError func(error)) (syncengine.Subscription, error) {
	target := r.endpoint(r.wsScheme(), "ws", "rooms", roomID)

	conn, _, err := r.dialer.Dial(target, r.header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	sub := &remoteSub{
		conn:   conn,
		done:   make(chan struct{}),
		logger: r.logger.WithField("room_id", roomID),
	}
	go sub.readLoop(onChange, onError)

	r.logger.WithField("url", target).Debug("Room subscription opened")
	return sub, nil
}

func (r *Remote) applyHeader(req *http.Request) {
	for key, values := range r.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
}

type remoteSub struct {
	conn   *websocket.Conn
	done   chan struct{}
	once   sync.Once
	logger *logrus.Entry
}

func (s *remoteSub) readLoop(onChange func(syncengine.Snapshot), onError func(error)) {
	defer s.conn.Close()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPingHandler(func(data string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.done:
			default:
				onError(fmt.Errorf("room subscription lost: %w", err))
			}
			return
		}

		switch frame.Type {
		case FrameState:
			onChange(frame.Snapshot())
		case FrameError:
			s.logger.WithField("error", frame.Error).Warn("Server reported an error")
		default:
			s.logger.WithField("type", frame.Type).Debug("Ignoring unknown frame")
		}
	}
}

// Unsubscribe closes the websocket without reporting an error
func (s *remoteSub) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.conn.Close()
	})
}

// apiError is the error body roomd answers with
type apiError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
