// Package arena holds the spatial model of the 20x20 arena: the occupancy
// grid reported by the robot, the robot's pose, and the obstacle set edited
// from the tablet.
//
// The model performs no locking of its own. Both mutation sources (decoded
// link events and UI gestures) must be serialized by the caller; the console
// boundary adapter does exactly that. Mutators that correspond to outgoing
// wire traffic return the encoded command as a value so the caller can route
// it to the link, keeping the model free of transport coupling.
package arena

import (
	"github.com/arena-rover/roverlink/internal/protocol"
)

const (
	// GridSize is the arena edge length in cells. One cell is 10cm.
	GridSize = 20
	// GridCells is the total cell count; the grid slice is always exactly
	// this long. Cell index = row*GridSize + col, row 0 at the arena bottom.
	GridCells = GridSize * GridSize

	// The robot occupies a 3x3 footprint around its center, so the center
	// stays in [1,18]. Obstacles have a 2x2 footprint anchored at [0,18].
	robotMin    = 1
	robotMax    = GridSize - 2
	obstacleMin = 0
	obstacleMax = GridSize - 2
)

// Cardinal facings. Obstacles may additionally face nowhere.
const (
	FaceNorth = "N"
	FaceEast  = "E"
	FaceSouth = "S"
	FaceWest  = "W"
	FaceNone  = "NONE"
)

// Robot is the robot's center cell and facing.
type Robot struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Facing string `json:"facing"`
}

// Obstacle is one obstacle on the arena. IDs are 1-based and kept dense:
// after any removal the remaining obstacles are renumbered 1..count.
type Obstacle struct {
	ID    int    `json:"id"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Face  string `json:"face"`
	Label string `json:"label,omitempty"`
}

// Snapshot is a deep copy of the model state, safe to hand to renderers,
// the HTTP layer, the layout store, and the planner client.
type Snapshot struct {
	Grid      []byte     `json:"grid"`
	Robot     Robot      `json:"robot"`
	Obstacles []Obstacle `json:"obstacles"`
}

// Arena owns the grid, robot, and obstacles.
type Arena struct {
	grid      [GridCells]byte
	robot     Robot
	obstacles []Obstacle
}

// New returns an empty arena with the robot parked at the start corner
// facing north.
func New() *Arena {
	return &Arena{
		robot: Robot{X: robotMin, Y: robotMin, Facing: FaceNorth},
	}
}

// Robot returns the current robot pose.
func (a *Arena) Robot() Robot {
	return a.robot
}

// Obstacles returns a copy of the obstacle list in id order.
func (a *Arena) Obstacles() []Obstacle {
	out := make([]Obstacle, len(a.obstacles))
	copy(out, a.obstacles)
	return out
}

// Cell returns the occupancy value (0 or 1) at col,row. Out-of-range
// coordinates read as free.
func (a *Arena) Cell(col, row int) byte {
	if col < 0 || col >= GridSize || row < 0 || row >= GridSize {
		return 0
	}
	return a.grid[row*GridSize+col]
}

// Snapshot returns a deep copy of the model state.
func (a *Arena) Snapshot() Snapshot {
	grid := make([]byte, GridCells)
	copy(grid, a.grid[:])
	return Snapshot{
		Grid:      grid,
		Robot:     a.robot,
		Obstacles: a.Obstacles(),
	}
}

// Restore replaces the robot pose and obstacle set from a saved snapshot.
// The occupancy grid is authoritative from the robot, so it is cleared, not
// restored. No commands are emitted; the caller decides whether to push the
// restored obstacles to the peer.
func (a *Arena) Restore(snap Snapshot) {
	a.grid = [GridCells]byte{}
	a.robot = Robot{
		X:      clamp(snap.Robot.X, robotMin, robotMax),
		Y:      clamp(snap.Robot.Y, robotMin, robotMax),
		Facing: normalizeFacing(snap.Robot.Facing),
	}
	a.obstacles = a.obstacles[:0]
	for i, ob := range snap.Obstacles {
		a.obstacles = append(a.obstacles, Obstacle{
			ID:    i + 1,
			X:     clamp(ob.X, obstacleMin, obstacleMax),
			Y:     clamp(ob.Y, obstacleMin, obstacleMax),
			Face:  ob.Face,
			Label: ob.Label,
		})
	}
}

// ApplyGridUpdate overwrites grid cells left-to-right from the update's
// characters. Any character other than '0' marks the cell occupied. Updates
// shorter than the grid touch only the prefix they cover; longer updates are
// truncated. The grid length itself never changes.
func (a *Arena) ApplyGridUpdate(bits string) {
	n := len(bits)
	if n > GridCells {
		n = GridCells
	}
	for i := 0; i < n; i++ {
		if bits[i] == '0' {
			a.grid[i] = 0
		} else {
			a.grid[i] = 1
		}
	}
}

// ApplyRobotPose applies the peer's authoritative pose, overwriting any
// local dead-reckoning guess. Coordinates are clamped into range.
func (a *Arena) ApplyRobotPose(x, y int, dir string) {
	a.robot.X = clamp(x, robotMin, robotMax)
	a.robot.Y = clamp(y, robotMin, robotMax)
	a.robot.Facing = normalizeFacing(dir)
}

// ApplyTargetLabel sets the label and face of the obstacle with the given
// id. An absent id is silently ignored: the peer may reference an obstacle
// the model has already forgotten. A garbled face letter is stored as
// FaceNone rather than leaking an invalid face into the model.
func (a *Arena) ApplyTargetLabel(id int, label, face string) bool {
	for i := range a.obstacles {
		if a.obstacles[i].ID == id {
			a.obstacles[i].Label = label
			a.obstacles[i].Face = normalizeFace(face)
			return true
		}
	}
	return false
}

// LocalMove applies one movement token to the robot pose as a
// dead-reckoning guess, so the UI responds before the robot confirms.
// Returns false for tokens that are not movements.
func (a *Arena) LocalMove(token string) bool {
	if !protocol.IsMoveToken(token) {
		return false
	}
	switch token {
	case protocol.MoveForward:
		a.translate(a.robot.Facing, 1)
	case protocol.MoveReverse:
		a.translate(a.robot.Facing, -1)
	case protocol.TurnLeft:
		a.robot.Facing = leftOf(a.robot.Facing)
	case protocol.TurnRight:
		a.robot.Facing = rightOf(a.robot.Facing)
	case protocol.StrafeLeft:
		a.translate(leftOf(a.robot.Facing), 1)
	case protocol.StrafeRight:
		a.translate(rightOf(a.robot.Facing), 1)
	}
	return true
}

// SetStartPose moves the robot to the given start cell and returns the
// coordinate command to send to the peer.
func (a *Arena) SetStartPose(x, y int) string {
	a.robot.X = clamp(x, robotMin, robotMax)
	a.robot.Y = clamp(y, robotMin, robotMax)
	return protocol.EncodeStartPose(a.robot.X, a.robot.Y)
}

// AddObstacleAt places a new obstacle at the given cell and returns it along
// with the ADD command to send. Placement fails if another obstacle already
// anchors at that cell.
func (a *Arena) AddObstacleAt(col, row int) (Obstacle, string, bool) {
	col = clamp(col, obstacleMin, obstacleMax)
	row = clamp(row, obstacleMin, obstacleMax)
	for _, ob := range a.obstacles {
		if ob.X == col && ob.Y == row {
			return Obstacle{}, "", false
		}
	}
	ob := Obstacle{
		ID:   len(a.obstacles) + 1,
		X:    col,
		Y:    row,
		Face: FaceNorth,
	}
	a.obstacles = append(a.obstacles, ob)
	return ob, protocol.EncodeAddObstacle(ob.ID, ob.X, ob.Y), true
}

// MoveObstacle drags the obstacle with the given id to a new cell, clamping
// into range, and returns the ADD command re-announcing its position.
func (a *Arena) MoveObstacle(id, col, row int) (string, bool) {
	for i := range a.obstacles {
		if a.obstacles[i].ID != id {
			continue
		}
		a.obstacles[i].X = clamp(col, obstacleMin, obstacleMax)
		a.obstacles[i].Y = clamp(row, obstacleMin, obstacleMax)
		return protocol.EncodeAddObstacle(id, a.obstacles[i].X, a.obstacles[i].Y), true
	}
	return "", false
}

// RemoveObstacle deletes the obstacle with the given id, renumbers the
// remaining obstacles to keep ids contiguous from 1, and returns the REMOVE
// command for the deleted id.
func (a *Arena) RemoveObstacle(id int) (string, bool) {
	idx := -1
	for i := range a.obstacles {
		if a.obstacles[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}
	a.obstacles = append(a.obstacles[:idx], a.obstacles[idx+1:]...)
	for i := range a.obstacles {
		a.obstacles[i].ID = i + 1
	}
	return protocol.EncodeRemoveObstacle(id), true
}

// CycleObstacleFace advances the obstacle's face through
// N -> E -> S -> W -> NONE -> N. The face is local annotation until the next
// arena send, so no command is emitted.
func (a *Arena) CycleObstacleFace(id int) (string, bool) {
	for i := range a.obstacles {
		if a.obstacles[i].ID != id {
			continue
		}
		a.obstacles[i].Face = nextFace(a.obstacles[i].Face)
		return a.obstacles[i].Face, true
	}
	return "", false
}

func (a *Arena) translate(facing string, steps int) {
	dx, dy := delta(facing)
	a.robot.X = clamp(a.robot.X+dx*steps, robotMin, robotMax)
	a.robot.Y = clamp(a.robot.Y+dy*steps, robotMin, robotMax)
}

// delta returns the unit translation for a facing. Row 0 is the arena
// bottom, so north is +y.
func delta(facing string) (dx, dy int) {
	switch facing {
	case FaceNorth:
		return 0, 1
	case FaceEast:
		return 1, 0
	case FaceSouth:
		return 0, -1
	case FaceWest:
		return -1, 0
	}
	return 0, 0
}

func leftOf(facing string) string {
	switch facing {
	case FaceNorth:
		return FaceWest
	case FaceWest:
		return FaceSouth
	case FaceSouth:
		return FaceEast
	case FaceEast:
		return FaceNorth
	}
	return facing
}

func rightOf(facing string) string {
	switch facing {
	case FaceNorth:
		return FaceEast
	case FaceEast:
		return FaceSouth
	case FaceSouth:
		return FaceWest
	case FaceWest:
		return FaceNorth
	}
	return facing
}

func nextFace(face string) string {
	switch face {
	case FaceNorth:
		return FaceEast
	case FaceEast:
		return FaceSouth
	case FaceSouth:
		return FaceWest
	case FaceWest:
		return FaceNone
	case FaceNone:
		return FaceNorth
	}
	return FaceNorth
}

// normalizeFace maps a reported obstacle face onto the valid set; anything
// unrecognized becomes FaceNone.
func normalizeFace(face string) string {
	switch face {
	case FaceNorth, FaceEast, FaceSouth, FaceWest, FaceNone:
		return face
	case "n":
		return FaceNorth
	case "e":
		return FaceEast
	case "s":
		return FaceSouth
	case "w":
		return FaceWest
	}
	return FaceNone
}

func normalizeFacing(dir string) string {
	switch dir {
	case FaceNorth, FaceEast, FaceSouth, FaceWest:
		return dir
	case "n":
		return FaceNorth
	case "e":
		return FaceEast
	case "s":
		return FaceSouth
	case "w":
		return FaceWest
	}
	return FaceNorth
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
