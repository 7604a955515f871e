// Package console is the boundary between the UI surfaces (HTTP API, debug
// pages) and the core: it owns the arena model, serializes both mutation
// sources through one mutex, and routes every emitted command to the link.
package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arena-rover/roverlink/internal/arena"
	"github.com/arena-rover/roverlink/internal/monitoring"
	"github.com/arena-rover/roverlink/internal/planner"
	"github.com/arena-rover/roverlink/internal/protocol"
	"github.com/arena-rover/roverlink/internal/timeutil"
)

// Link is the slice of the connection supervisor the console needs. Send
// must not block; Receive is the ordered inbound stream.
type Link interface {
	Send(msg string)
	Receive() <-chan string
}

// PathFinder plans a fastest run over the current arena. Satisfied by
// *planner.Client.
type PathFinder interface {
	FindPath(ctx context.Context, snap arena.Snapshot) (planner.Plan, error)
}

// StatusEntry is one line of the diagnostic status log.
type StatusEntry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Options configures a Controller. The zero value is usable.
type Options struct {
	// Planner is optional; RequestPath fails cleanly without one.
	Planner PathFinder

	// StatusLogSize bounds the diagnostic status ring. Defaults to 200.
	StatusLogSize int

	Clock timeutil.Clock
	Logf  func(format string, v ...interface{})
}

func (o Options) normalize() Options {
	if o.StatusLogSize <= 0 {
		o.StatusLogSize = 200
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	if o.Logf == nil {
		o.Logf = monitoring.Logf
	}
	return o
}

// Controller applies inbound events and UI gestures to the arena under one
// lock, and forwards the resulting commands to the link.
type Controller struct {
	link Link
	opts Options

	mu       sync.Mutex
	model    *arena.Arena
	statuses []StatusEntry

	subMu sync.Mutex
	subs  map[string]chan string
}

// NewController creates a controller over a fresh arena.
func NewController(link Link, opts Options) *Controller {
	return &Controller{
		link:  link,
		opts:  opts.normalize(),
		model: arena.New(),
		subs:  make(map[string]chan string),
	}
}

// Run consumes the inbound stream until ctx is canceled. It is the only
// reader of the link's Receive channel.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-c.link.Receive():
			c.handleRaw(raw)
		}
	}
}

func (c *Controller) handleRaw(raw string) {
	c.fanout(raw)

	events := protocol.Decode(raw)
	if len(events) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ev := range events {
		switch e := ev.(type) {
		case protocol.GridUpdate:
			c.model.ApplyGridUpdate(e.Bits)
		case protocol.RobotPose:
			c.model.ApplyRobotPose(e.X, e.Y, e.Dir)
		case protocol.TargetLabel:
			if c.model.ApplyTargetLabel(e.ID, e.Label, e.Face) {
				c.appendStatusLocked(fmt.Sprintf("target %d identified as %s", e.ID, e.Label))
			} else {
				c.opts.Logf("console: target label for unknown obstacle %d", e.ID)
			}
		case protocol.StatusText:
			c.appendStatusLocked(e.Text)
		case protocol.DecodeError:
			c.opts.Logf("console: dropping malformed message %q: %v", e.Raw, e.Err)
		}
	}
}

// appendStatusLocked records a diagnostic line, evicting the oldest entry
// when the ring is full. Callers hold the lock.
func (c *Controller) appendStatusLocked(text string) {
	entry := StatusEntry{At: c.opts.Clock.Now(), Text: text}
	if len(c.statuses) >= c.opts.StatusLogSize {
		copy(c.statuses, c.statuses[1:])
		c.statuses[len(c.statuses)-1] = entry
		return
	}
	c.statuses = append(c.statuses, entry)
}

// StatusLog returns a copy of the diagnostic status entries, oldest first.
func (c *Controller) StatusLog() []StatusEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StatusEntry, len(c.statuses))
	copy(out, c.statuses)
	return out
}

// Snapshot returns a deep copy of the arena state.
func (c *Controller) Snapshot() arena.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model.Snapshot()
}

// RestoreLayout replaces the obstacle set and robot pose from a saved
// layout. The restore is local only; use SendArena to push it to the robot.
func (c *Controller) RestoreLayout(snap arena.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model.Restore(snap)
}

// MoveRobot sends one movement token and applies the same move locally as a
// dead-reckoning guess. Unknown tokens are rejected without touching the
// link.
func (c *Controller) MoveRobot(token string) error {
	if !protocol.IsMoveToken(token) {
		return fmt.Errorf("console: unknown movement token %q", token)
	}
	c.mu.Lock()
	c.model.LocalMove(token)
	c.mu.Unlock()
	c.link.Send(token)
	return nil
}

// SetStartPose moves the robot to the given start cell and announces it to
// the peer. Returns the clamped pose.
func (c *Controller) SetStartPose(x, y int) arena.Robot {
	c.mu.Lock()
	cmd := c.model.SetStartPose(x, y)
	pose := c.model.Robot()
	c.mu.Unlock()
	c.link.Send(cmd)
	return pose
}

// AddObstacle places a new obstacle and announces it to the peer.
func (c *Controller) AddObstacle(col, row int) (arena.Obstacle, error) {
	c.mu.Lock()
	ob, cmd, ok := c.model.AddObstacleAt(col, row)
	c.mu.Unlock()
	if !ok {
		return arena.Obstacle{}, fmt.Errorf("console: cell (%d,%d) already holds an obstacle", col, row)
	}
	c.link.Send(cmd)
	return ob, nil
}

// MoveObstacle drags an obstacle to a new cell and re-announces its
// position.
func (c *Controller) MoveObstacle(id, col, row int) error {
	c.mu.Lock()
	cmd, ok := c.model.MoveObstacle(id, col, row)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("console: no obstacle with id %d", id)
	}
	c.link.Send(cmd)
	return nil
}

// RemoveObstacle deletes an obstacle and announces the removal.
func (c *Controller) RemoveObstacle(id int) error {
	c.mu.Lock()
	cmd, ok := c.model.RemoveObstacle(id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("console: no obstacle with id %d", id)
	}
	c.link.Send(cmd)
	return nil
}

// CycleObstacleFace advances an obstacle's face annotation. Faces travel
// with the next SendArena, so nothing is sent now.
func (c *Controller) CycleObstacleFace(id int) (string, error) {
	c.mu.Lock()
	face, ok := c.model.CycleObstacleFace(id)
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("console: no obstacle with id %d", id)
	}
	return face, nil
}

// BeginExplore starts an autonomous exploration run.
func (c *Controller) BeginExplore() {
	c.mu.Lock()
	c.appendStatusLocked("exploration started")
	c.mu.Unlock()
	c.link.Send(protocol.BeginExplore)
}

// SendArena pushes the full obstacle set to the robot: the mode token
// followed by one ADD per obstacle, in id order.
func (c *Controller) SendArena() {
	c.mu.Lock()
	obstacles := c.model.Obstacles()
	c.mu.Unlock()

	c.link.Send(protocol.SendArena)
	for _, ob := range obstacles {
		c.link.Send(protocol.EncodeAddObstacle(ob.ID, ob.X, ob.Y))
	}
}

// SendRaw forwards text to the peer unchanged. The escape hatch for
// commands the console has no gesture for.
func (c *Controller) SendRaw(text string) {
	if text == "" {
		return
	}
	c.link.Send(text)
}

// RequestPath asks the planner for a fastest run over the current arena.
func (c *Controller) RequestPath(ctx context.Context) (planner.Plan, error) {
	if c.opts.Planner == nil {
		return planner.Plan{}, fmt.Errorf("console: no planner configured")
	}
	return c.opts.Planner.FindPath(ctx, c.Snapshot())
}

// Subscribe registers a tail of the raw inbound stream. Slow subscribers
// miss messages rather than stalling the decode loop.
func (c *Controller) Subscribe() (string, <-chan string) {
	id := uuid.NewString()
	ch := make(chan string, 16)
	c.subMu.Lock()
	c.subs[id] = ch
	c.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (c *Controller) Unsubscribe(id string) {
	c.subMu.Lock()
	ch, ok := c.subs[id]
	delete(c.subs, id)
	c.subMu.Unlock()
	if ok {
		close(ch)
	}
}

func (c *Controller) fanout(raw string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- raw:
		default:
		}
	}
}
