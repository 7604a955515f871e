// Package planner talks to the pathfinding service: given the obstacle set
// and robot start pose it returns the visitation path and the motor command
// sequence for a fastest-run attempt.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arena-rover/roverlink/internal/arena"
	"github.com/arena-rover/roverlink/internal/httputil"
)

// Direction codes used by the pathfinding service.
const (
	DirNorth = 0
	DirEast  = 2
	DirSouth = 4
	DirWest  = 6
	DirSkip  = 8
)

// DirectionFromFace maps an arena facing to the service's direction code.
// Obstacles facing nowhere map to DirSkip: the planner routes past them
// without scheduling a scan stop.
func DirectionFromFace(face string) int {
	switch face {
	case arena.FaceNorth:
		return DirNorth
	case arena.FaceEast:
		return DirEast
	case arena.FaceSouth:
		return DirSouth
	case arena.FaceWest:
		return DirWest
	}
	return DirSkip
}

// PathObstacle is one obstacle in a pathfinding request.
type PathObstacle struct {
	X  int `json:"x"`
	Y  int `json:"y"`
	D  int `json:"d"`
	ID int `json:"id"`
}

// PathRequest is the body of POST /path.
type PathRequest struct {
	Obstacles []PathObstacle `json:"obstacles"`
	RobotX    int            `json:"robot_x"`
	RobotY    int            `json:"robot_y"`
	RobotDir  int            `json:"robot_dir"`
}

// PathState is one pose along the computed path. Screenshot is set on poses
// where the robot stops to scan a target.
type PathState struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	D          int     `json:"d"`
	Screenshot *string `json:"s"`
}

// Plan is a successful pathfinding result.
type Plan struct {
	Path     []PathState `json:"path"`
	Commands []string    `json:"commands"`
	Cost     float64     `json:"cost"`
	Runtime  float64     `json:"runtime"`
}

// Health is the service's health report.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Client calls the pathfinding service over HTTP.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
}

// NewClient creates a client for the service at baseURL. A nil httpClient
// gets a standard client with a generous timeout: TSP solving over eight
// obstacles can take a few seconds.
func NewClient(baseURL string, httpClient httputil.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(&http.Client{Timeout: 30 * time.Second})
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// RequestFromSnapshot builds a pathfinding request from the arena state.
func RequestFromSnapshot(snap arena.Snapshot) PathRequest {
	req := PathRequest{
		Obstacles: make([]PathObstacle, 0, len(snap.Obstacles)),
		RobotX:    snap.Robot.X,
		RobotY:    snap.Robot.Y,
		RobotDir:  DirectionFromFace(snap.Robot.Facing),
	}
	for _, ob := range snap.Obstacles {
		req.Obstacles = append(req.Obstacles, PathObstacle{
			X:  ob.X,
			Y:  ob.Y,
			D:  DirectionFromFace(ob.Face),
			ID: ob.ID,
		})
	}
	return req
}

// FindPath asks the service for a path visiting every obstacle in the
// snapshot from the robot's current pose.
func (c *Client) FindPath(ctx context.Context, snap arena.Snapshot) (Plan, error) {
	reqBody := RequestFromSnapshot(snap)
	if len(reqBody.Obstacles) == 0 {
		return Plan{}, fmt.Errorf("planner: no obstacles to visit")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Plan{}, fmt.Errorf("planner: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/path", bytes.NewReader(payload))
	if err != nil {
		return Plan{}, fmt.Errorf("planner: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Plan{}, fmt.Errorf("planner: request path: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		msg := eb.Detail
		if msg == "" {
			msg = eb.Error
		}
		if msg == "" {
			msg = resp.Status
		}
		return Plan{}, fmt.Errorf("planner: path request failed (%d): %s", resp.StatusCode, msg)
	}

	var plan Plan
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return Plan{}, fmt.Errorf("planner: decode response: %w", err)
	}
	return plan, nil
}

// CheckHealth queries the service's health endpoint.
func (c *Client) CheckHealth(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return Health{}, fmt.Errorf("planner: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("planner: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("planner: health check failed: %s", resp.Status)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("planner: decode health: %w", err)
	}
	return h, nil
}
