package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"unison/internal/config"
	"unison/internal/player"
	"unison/internal/store"
	"unison/internal/syncengine"
	"unison/pkg/models"
)

var errRoomGone = errors.New("room no longer exists")

// command is a one-shot playback change sent once the room state is known
type command struct {
	play, pause bool
	seek        float64
}

func (c command) empty() bool {
	return !c.play && !c.pause && c.seek < 0
}

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	roomID := flag.String("room", "", "room to listen along with (required)")
	userID := flag.String("user", "", "user ID to act as (defaults to client.user_id or a new ID)")
	interact := flag.Bool("interact", false, "treat startup as a user gesture, unblocking autoplay")
	var cmd command
	flag.BoolVar(&cmd.play, "play", false, "start playback for the whole room")
	flag.BoolVar(&cmd.pause, "pause", false, "pause playback for the whole room")
	flag.Float64Var(&cmd.seek, "seek", -1, "move the room playhead to this many seconds")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if *roomID == "" {
		logger.Fatal("-room is required")
	}
	if cmd.play && cmd.pause {
		logger.Fatal("-play and -pause are mutually exclusive")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}
	logger, err = cfg.Logging.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("Error configuring logger")
	}

	id := *userID
	if id == "" {
		id = cfg.Client.UserID
	}
	if id == "" {
		id = uuid.NewString()
	}

	remote, err := store.NewRemote(cfg.Client.ServerURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid server URL")
	}
	remote.SetUserID(id)

	clk := clock.New()
	audio := player.NewVirtual(player.Options{
		LoadDelay:     time.Duration(cfg.Client.LoadDelayMs) * time.Millisecond,
		AllowAutoplay: cfg.Client.AllowAutoplay,
		Duration:      catalogDuration(cfg.Client.ServerURL),
	}, clk, logger)
	if *interact {
		audio.Interact()
	}

	engine := syncengine.New(*roomID, remote,
		syncengine.WithClock(clk),
		syncengine.WithLogger(logger),
		syncengine.WithPolicy(syncengine.NewPolicy(&cfg.Sync)),
	)
	defer engine.Destroy()

	events, cancel := engine.Subscribe()
	defer cancel()

	engine.Initialize(audio)

	projector := syncengine.NewProjector(engine)
	projector.Start()
	defer projector.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// SIGUSR1 is the force-sync button
	resync := make(chan os.Signal, 1)
	signal.Notify(resync, syscall.SIGUSR1)
	defer signal.Stop(resync)

	logger.WithFields(logrus.Fields{
		"room_id": *roomID,
		"user_id": id,
		"server":  cfg.Client.ServerURL,
	}).Info("Listening along")

	if err := listen(ctx, engine, audio, projector, events, resync, cmd, clk, logger); err != nil {
		projector.Stop()
		engine.Destroy()
		logger.WithError(err).WithField("room_id", *roomID).Fatal("Stopped listening")
	}
}

func listen(ctx context.Context, engine *syncengine.Engine, audio *player.VirtualPlayer, projector *syncengine.Projector,
	events <-chan syncengine.Event, resync <-chan os.Signal, cmd command, clk clock.Clock, logger *logrus.Logger) error {

	pending := !cmd.empty()
	var status string

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case syncengine.StateChanged:
				entry := logger.WithFields(logrus.Fields{
					"is_playing":   ev.State.IsPlaying,
					"current_time": ev.State.CurrentTime,
				})
				if ev.State.CurrentSong != nil {
					entry = entry.WithField("song", ev.State.CurrentSong.Title)
				}
				entry.Debug("Room state")

				if pending {
					pending = false
					if err := engine.UpdateState(ctx, cmd.patch(ev.State, clk.Now(), audio.Duration())); err != nil {
						logger.WithError(err).Error("Playback command failed")
					}
				}

			case syncengine.RoomNotFound:
				return errRoomGone

			case syncengine.ConnectionError:
				logger.WithError(ev.Err).Warn("Room connection error")

			case syncengine.AutoplayBlocked:
				logger.WithField("src", ev.Audio.Source).Warn("Autoplay blocked; run with -interact to allow playback")
			}

		case <-resync:
			if engine.TriggerSync() {
				logger.Warn("Player was stuck; reloaded audio")
			} else {
				logger.Info("Resynchronized with room")
			}

		case proj := <-projector.Updates():
			if proj.Status != status {
				status = proj.Status
				logger.WithFields(logrus.Fields{
					"healthy": proj.Healthy,
					"drift":   proj.SyncDrift,
					"latency": proj.NetworkLatency,
				}).Info(status)
			}
		}
	}
}

// patch builds the room patch for the command from the current room state
func (c command) patch(state models.RoomState, now time.Time, duration float64) models.RoomPatch {
	pos := syncengine.ProjectTime(state, now, duration)
	if c.seek >= 0 {
		pos = c.seek
	}

	patch := models.RoomPatch{CurrentTime: &pos}
	switch {
	case c.play:
		playing := true
		patch.IsPlaying = &playing
	case c.pause:
		playing := false
		patch.IsPlaying = &playing
	}
	return patch
}
