// Package protocol implements the text protocol spoken over the robot's
// serial link. Decoding turns raw inbound chunks into typed events; encoding
// produces the exact wire strings the robot understands. The codec holds no
// state and performs no I/O.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Movement tokens understood by the robot. Each token is a complete wire
// message on its own.
const (
	MoveForward = "f"
	MoveReverse = "r"
	TurnLeft    = "tl"
	TurnRight   = "tr"
	StrafeLeft  = "sl"
	StrafeRight = "sr"
)

// Mode tokens switch the robot between manual driving and autonomous runs.
const (
	BeginExplore = "beginExplore"
	SendArena    = "sendArena"
)

var moveTokens = map[string]bool{
	MoveForward: true,
	MoveReverse: true,
	TurnLeft:    true,
	TurnRight:   true,
	StrafeLeft:  true,
	StrafeRight: true,
}

// IsMoveToken reports whether tok is one of the six movement tokens.
func IsMoveToken(tok string) bool {
	return moveTokens[tok]
}

// Event is a decoded inbound message. The concrete types below are the only
// implementations.
type Event interface {
	event()
}

// GridUpdate carries the occupancy grid as a string of 0/1 characters,
// left-to-right from cell 0. The string may be shorter than the full grid;
// consumers update only the prefix it covers.
type GridUpdate struct {
	Bits string
}

// StatusText is free-form status text from the peer, shown in the diagnostic
// log only.
type StatusText struct {
	Text string
}

// RobotPose is the peer's authoritative robot position and facing.
type RobotPose struct {
	X, Y int
	Dir  string
}

// TargetLabel is an image-recognition result for the obstacle with the given
// id.
type TargetLabel struct {
	ID    int
	Label string
	Face  string
}

// DecodeError reports a malformed inbound message. It is consumed by the log
// sink only and never interrupts the link.
type DecodeError struct {
	Raw string
	Err error
}

func (GridUpdate) event()  {}
func (StatusText) event()  {}
func (RobotPose) event()   {}
func (TargetLabel) event() {}
func (DecodeError) event() {}

// Decode parses one raw chunk from the link into zero or more events. It
// never panics and never returns an error: malformed input yields a
// DecodeError event, and unrecognized lines (e.g. free-form chat echoes)
// yield nothing at all.
func Decode(raw string) []Event {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "{") {
		return decodeObject(text)
	}

	fields := strings.Split(text, ",")
	switch {
	case strings.EqualFold(fields[0], "ROBOT"):
		return decodeRobot(text, fields)
	case strings.EqualFold(fields[0], "TARGET"):
		return decodeTarget(text, fields)
	}
	return nil
}

// statusObject is the JSON shape the robot sends for grid and status
// updates. Either field may be absent.
type statusObject struct {
	Grid   *string `json:"grid"`
	Status *string `json:"status"`
}

func decodeObject(text string) []Event {
	var obj statusObject
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return []Event{DecodeError{Raw: text, Err: fmt.Errorf("malformed object: %w", err)}}
	}

	var events []Event
	if obj.Grid != nil {
		events = append(events, GridUpdate{Bits: *obj.Grid})
	}
	if obj.Status != nil {
		events = append(events, StatusText{Text: *obj.Status})
	}
	return events
}

func decodeRobot(text string, fields []string) []Event {
	if len(fields) != 4 {
		return []Event{DecodeError{Raw: text, Err: fmt.Errorf("ROBOT message has %d fields, expected 4", len(fields))}}
	}
	x, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return []Event{DecodeError{Raw: text, Err: fmt.Errorf("ROBOT x: %w", err)}}
	}
	y, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return []Event{DecodeError{Raw: text, Err: fmt.Errorf("ROBOT y: %w", err)}}
	}
	// The tag match is case-insensitive but the direction letter is passed
	// through exactly as the peer sent it.
	return []Event{RobotPose{X: x, Y: y, Dir: strings.TrimSpace(fields[3])}}
}

func decodeTarget(text string, fields []string) []Event {
	if len(fields) < 4 {
		return []Event{DecodeError{Raw: text, Err: fmt.Errorf("TARGET message has %d fields, expected 4", len(fields))}}
	}
	id, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return []Event{DecodeError{Raw: text, Err: fmt.Errorf("TARGET id: %w", err)}}
	}
	// Labels may themselves contain commas; the face letter is always the
	// last field.
	label := strings.TrimSpace(strings.Join(fields[2:len(fields)-1], ","))
	face := strings.TrimSpace(fields[len(fields)-1])
	return []Event{TargetLabel{ID: id, Label: label, Face: face}}
}

// EncodeStartPose produces the command that sets the robot's start pose.
func EncodeStartPose(x, y int) string {
	return fmt.Sprintf("coordinate (%d,%d)", x, y)
}

// EncodeAddObstacle produces the command that places (or repositions)
// obstacle id at the given cell.
func EncodeAddObstacle(id, x, y int) string {
	return fmt.Sprintf("ADD,B%d,(%d,%d)", id, x, y)
}

// EncodeRemoveObstacle produces the command that removes obstacle id.
func EncodeRemoveObstacle(id int) string {
	return fmt.Sprintf("REMOVE,B%d", id)
}
