package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"unison/internal/session"
	"unison/internal/store"
	"unison/internal/syncengine"
)

const defaultSendBuffer = 16

// roomClient is one websocket listener of a room. Only writePump writes to
// the connection.
type roomClient struct {
	conn    *websocket.Conn
	send    chan store.Frame
	session session.Session
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logrus.Entry
}

// handleRoomSocket upgrades /ws/rooms/{id} and streams the room record to the
// listener. Update frames from the listener are merged like state PATCHes.
func (s *RoomServer) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, "/ws/rooms/")
	if len(parts) != 1 {
		s.respondWithError(w, r, http.StatusNotFound, "Not found", nil)
		return
	}
	roomID := parts[0]
	if verr := validateID("room_id", roomID); verr != nil {
		s.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("room_id", roomID).Warn("Websocket upgrade failed")
		return
	}

	buffer := s.config.Server.WebsocketBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := s.sessions.Open(roomID, userIDFrom(r), r.UserAgent(), r.RemoteAddr)
	client := &roomClient{
		conn:    conn,
		send:    make(chan store.Frame, buffer),
		session: sess,
		ctx:     ctx,
		cancel:  cancel,
		logger: s.logger.WithFields(logrus.Fields{
			"room_id":    roomID,
			"session_id": sess.ID,
		}),
	}

	sub, err := s.hub.Subscribe(roomID, client.deliverState, client.deliverError)
	if err != nil {
		client.logger.WithError(err).Warn("Could not subscribe listener")
		cancel()
		s.sessions.Close(sess.ID)
		conn.Close()
		return
	}

	client.logger.Info("Listener connected")
	go client.writePump()

	s.readPump(client)

	sub.Unsubscribe()
	cancel()
	s.sessions.Close(sess.ID)
	client.logger.Info("Listener disconnected")
}

// deliverState queues a room snapshot. It blocks while the send buffer is
// full, so the hub coalesces further changes for this listener.
func (c *roomClient) deliverState(snap syncengine.Snapshot) {
	c.queue(store.StateFrame(snap))
}

// deliverError reports a failed subscription and ends the connection
func (c *roomClient) deliverError(err error) {
	c.queue(store.Frame{Type: store.FrameError, Error: err.Error()})
	c.cancel()
}

func (c *roomClient) queue(frame store.Frame) {
	select {
	case c.send <- frame:
	case <-c.ctx.Done():
	}
}

func (c *roomClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.WithError(err).Debug("Write to listener failed")
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump runs until the listener disconnects or the write side fails
func (s *RoomServer) readPump(c *roomClient) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.sessions.Touch(c.session.ID)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("Read from listener failed")
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.sessions.Touch(c.session.ID)

		var frame store.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.queue(store.Frame{Type: store.FrameError, Error: "malformed frame"})
			continue
		}
		if frame.Type != store.FrameUpdate || frame.Patch == nil {
			c.queue(store.Frame{Type: store.FrameError, Error: "unsupported frame type"})
			continue
		}
		if _, err := s.applyStatePatch(c.ctx, c.session.RoomID, *frame.Patch); err != nil {
			c.logger.WithError(err).Warn("Listener update rejected")
			c.queue(store.Frame{Type: store.FrameError, Error: err.Error()})
		}
	}
}
