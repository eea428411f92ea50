package arena

import (
	"context"
	"fmt"
	"time"

	"github.com/ernie/rally/internal/domain"
)

// Step advances the whole arena by one tick: drain buffered commands, settle
// and collect finished rooms, then move and broadcast every active room.
// Reconciliation and bracket calls run after the lock is released.
func (c *Coordinator) Step(now time.Time) {
	cmds := c.drainCommands()

	c.mu.Lock()
	var after []afterUnlock
	for _, cmd := range cmds {
		after = append(after, c.dispatchLocked(cmd)...)
	}
	for _, room := range c.rooms {
		after = append(after, c.stepRoomLocked(room, now)...)
	}
	c.mu.Unlock()

	c.runAfter(after)
}

// stepRoomLocked isolates one room: a panic aborts that room only
func (c *Coordinator) stepRoomLocked(room *Room, now time.Time) (after []afterUnlock) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().
				Str("room", room.id).
				Str("panic", fmt.Sprint(rec)).
				Msg("Room panicked during tick, aborting it")
			room.aborted, room.processed = true, true
			room.finishedAt = now
			room.broadcast(domain.NewEvent(domain.EventGameAborted, room.id, domain.GameAbortedEvent{Reason: "internal error"}))
			c.deleteRoomLocked(room)
		}
	}()

	if room.closed() {
		if !room.processed {
			after = append(after, c.finishLocked(room, now))
		}
		if room.finishedAt.IsZero() {
			room.finishedAt = now
		}
		if now.Sub(room.finishedAt) >= c.settings.FinishedGrace {
			c.deleteRoomLocked(room)
		}
		return after
	}

	if room.opponent != nil {
		dy := room.opponent.Tick(room.state.Observe())
		room.state.ApplyMovement(room.opponent.Role(), dy)
	}
	out := room.state.Step()
	if out.Served && room.startedAt.IsZero() {
		room.startedAt = now
	}
	room.broadcast(domain.NewEvent(domain.EventState, room.id, room.state.Snapshot()))
	return after
}

// TickLoop drives a coordinator at a fixed rate
type TickLoop struct {
	coord  *Coordinator
	rate   int
	budget time.Duration
}

// NewTickLoop creates a loop stepping coord rate times per second
func NewTickLoop(coord *Coordinator, rate int) *TickLoop {
	if rate <= 0 {
		rate = 60
	}
	return &TickLoop{
		coord:  coord,
		rate:   rate,
		budget: time.Second / time.Duration(rate),
	}
}

// Run steps on a wall-clock ticker until ctx is cancelled
func (l *TickLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.budget)
	defer ticker.Stop()
	l.RunWith(ctx, ticker.C)
}

// RunWith steps once per value received from ticks until ctx is cancelled
// or ticks is closed. Ticks that overrun the budget are logged, not skipped.
func (l *TickLoop) RunWith(ctx context.Context, ticks <-chan time.Time) {
	l.coord.logger.Info().Int("rate", l.rate).Msg("Tick loop started")
	defer l.coord.logger.Info().Msg("Tick loop stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case now, ok := <-ticks:
			if !ok {
				return
			}
			start := time.Now()
			l.coord.Step(now)
			if took := time.Since(start); took > l.budget {
				l.coord.logger.Warn().
					Dur("took", took).
					Dur("budget", l.budget).
					Msg("Tick over budget")
			}
		}
	}
}
