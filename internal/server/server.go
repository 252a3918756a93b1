package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"unison/internal/catalog"
	"unison/internal/config"
	"unison/internal/metadata"
	"unison/internal/ngrok"
	"unison/internal/rooms"
	"unison/internal/session"
	"unison/internal/store"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	shutdownTimeout = 5 * time.Second
	cleanupInterval = 30 * time.Second
)

// Pinger reports whether persistent storage is reachable
type Pinger interface {
	Ping() error
}

// RoomServer is roomd: it owns the authoritative room records, serves the
// room lifecycle and state over REST, pushes state to listeners over
// websockets and streams songs from the local library.
type RoomServer struct {
	config    *config.Config
	hub       *store.Hub
	rooms     *rooms.Service
	library   *catalog.Library
	extractor *metadata.Extractor
	sessions  *session.Manager
	ngrok     *ngrok.Service
	db        Pinger
	clock     clock.Clock
	logger    *logrus.Logger
	upgrader  websocket.Upgrader
	startedAt time.Time
}

// Option configures a RoomServer
type Option func(*RoomServer)

// WithClock replaces the wall clock, for tests
func WithClock(clk clock.Clock) Option {
	return func(s *RoomServer) { s.clock = clk }
}

// WithDatabase reports db health on /health
func WithDatabase(db Pinger) Option {
	return func(s *RoomServer) { s.db = db }
}

// NewRoomServer wires a room server around hub and library
func NewRoomServer(cfg *config.Config, hub *store.Hub, library *catalog.Library, extractor *metadata.Extractor, logger *logrus.Logger, opts ...Option) *RoomServer {
	s := &RoomServer{
		config:    cfg,
		hub:       hub,
		library:   library,
		extractor: extractor,
		logger:    logger,
		clock:     clock.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.rooms = rooms.NewService(hub, s.clock, logger)
	s.sessions = session.NewManager(time.Duration(cfg.Server.SessionTimeout)*time.Second, s.clock)
	s.startedAt = s.clock.Now()

	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Ngrok tunnel not available")
	}
	s.ngrok = ngrokSvc

	return s
}

// Rooms returns the room lifecycle service
func (s *RoomServer) Rooms() *rooms.Service {
	return s.rooms
}

// Handler returns the HTTP handler with middleware applied
func (s *RoomServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealthCheck)

	mux.HandleFunc("/api/rooms", s.handleRooms)
	mux.HandleFunc("/api/rooms/", s.handleRoomRoutes)
	mux.HandleFunc("/ws/rooms/", s.handleRoomSocket)

	mux.HandleFunc("/api/songs", s.handleSearchSongs)
	mux.HandleFunc("/api/songs/", s.handleGetSong)
	mux.HandleFunc("/stream/", s.handleStreamSong)
	mux.HandleFunc("/albumart/", s.handleAlbumArt)

	var handler http.Handler = mux
	handler = s.requestLoggingMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.panicRecoveryMiddleware(handler)
	return handler
}

// Start scans the library, opens the ngrok tunnel if configured and serves
// until ctx is cancelled
func (s *RoomServer) Start(ctx context.Context) error {
	localAddress := fmt.Sprintf("http://%s", s.config.GetAddress())

	if err := s.library.Start(ctx); err != nil {
		return err
	}
	defer s.library.Close()

	if err := s.ngrok.StartTunnel(ctx, localAddress); err != nil {
		s.logger.WithError(err).Warn("Could not start ngrok tunnel")
	} else {
		defer s.ngrok.Stop()
	}
	s.library.SetBaseURL(s.PublicURL())

	go s.cleanupSessions(ctx)

	server := &http.Server{
		Addr:        s.config.GetAddress(),
		Handler:     s.Handler(),
		ReadTimeout: time.Duration(s.config.Server.ReadTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.logger.WithFields(logrus.Fields{
		"address":    localAddress,
		"public_url": s.PublicURL(),
		"songs":      s.library.Count(),
		"rooms":      len(s.hub.List()),
	}).Info("Room server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down room server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	return server.Shutdown(shutdownCtx)
}

// PublicURL is the address listeners use to reach this server: the ngrok
// tunnel, the configured public URL or the local address, in that order
func (s *RoomServer) PublicURL() string {
	if url := s.ngrok.PublicURL(); url != "" {
		return url
	}
	if s.config.Server.PublicURL != "" {
		return s.config.Server.PublicURL
	}
	return fmt.Sprintf("http://%s", s.config.GetAddress())
}

func (s *RoomServer) cleanupSessions(ctx context.Context) {
	ticker := s.clock.Ticker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sess := range s.sessions.Cleanup() {
				s.logger.WithFields(logrus.Fields{
					"session_id": sess.ID,
					"room_id":    sess.RoomID,
				}).Debug("Expired idle session")
			}
		}
	}
}
