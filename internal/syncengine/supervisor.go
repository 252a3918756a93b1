package syncengine

// subscribeLocked replaces the room subscription. Opening a subscription may
// dial the network, so Subscribe runs on its own goroutine and the result is
// attached under the lock once it returns. Callbacks and results from an
// older subscription are ignored once a newer one exists.
func (e *Engine) subscribeLocked() {
	e.unsubscribeLocked()
	if e.roomGone {
		return
	}

	gen := e.subGen
	e.subscribing = true
	// lost is guarded by e.mu and covers errors that arrive before the
	// subscription is attached
	lost := false
	onChange := func(snap Snapshot) {
		e.guarded(func() {
			if gen == e.subGen {
				e.onRoomStateChange(snap)
			}
		})
	}
	onError := func(err error) {
		e.guarded(func() {
			if gen == e.subGen {
				lost = true
				e.onSubscriptionError(err)
			}
		})
	}

	go func() {
		sub, err := e.store.Subscribe(e.roomID, onChange, onError)

		e.mu.Lock()
		defer e.mu.Unlock()

		if gen != e.subGen || e.destroyed {
			if sub != nil {
				sub.Unsubscribe()
			}
			return
		}
		e.subscribing = false
		if err != nil {
			e.onSubscriptionError(err)
			return
		}

		e.sub = sub
		if !lost && !e.roomGone {
			e.health.connected = true
		}
		e.logger.Debug("Room subscription established")
	}()
}

func (e *Engine) unsubscribeLocked() {
	e.subGen++
	e.subscribing = false
	if e.sub != nil {
		e.sub.Unsubscribe()
		e.sub = nil
	}
}

// onSubscriptionError marks the connection as interrupted and schedules a
// single resubscribe. Each failure schedules its own retry, so reconnection
// continues indefinitely at a fixed delay.
func (e *Engine) onSubscriptionError(err error) {
	e.logger.WithError(err).Warn("Room subscription failed")

	e.health.connected = false
	e.health.interrupted = true
	e.events.emit(ConnectionError{Err: err})

	if e.roomGone {
		return
	}
	e.sched.after(taskReconnect, e.policy.ReconnectDelay, func() {
		if !e.health.connected && !e.subscribing && !e.roomGone {
			e.logger.Info("Attempting to resubscribe to room")
			e.subscribeLocked()
		}
	})
}

// onRoomGone stops every loop that would resubscribe or correct playback.
// A deleted room is final for this engine.
func (e *Engine) onRoomGone() {
	e.roomGone = true
	e.health.connected = false
	e.sched.cancel(taskReconnect)
	e.sched.cancel(taskHealthCheck)
	e.sched.cancel(taskCorrection)
	e.sched.cancel(taskDebounce)
}

// IsConnectionHealthy reports whether the subscription is connected, not
// interrupted, present and has delivered a message recently
func (e *Engine) IsConnectionHealthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthyLocked()
}

func (e *Engine) healthyLocked() bool {
	return e.health.healthy(e.clock.Now(), e.policy.StaleAfter, e.sub != nil)
}

// ForceConnectionCheck resubscribes if the connection is unhealthy and
// returns the health afterwards. A replacement subscription completes in the
// background, so an unhealthy connection reports false until it delivers.
func (e *Engine) ForceConnectionCheck() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return false
	}
	return e.checkConnectionLocked()
}

func (e *Engine) checkConnectionLocked() bool {
	if e.healthyLocked() {
		return true
	}
	if e.roomGone || e.subscribing {
		return false
	}

	e.logger.Info("Connection unhealthy, resubscribing")
	e.health.connected = false
	e.subscribeLocked()
	return e.healthyLocked()
}
