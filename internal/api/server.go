// Package api exposes the console over HTTP for the tablet UI: arena state,
// gesture endpoints, link control, saved layouts, and path planning.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/arena-rover/roverlink/internal/console"
	"github.com/arena-rover/roverlink/internal/httputil"
	"github.com/arena-rover/roverlink/internal/link"
	"github.com/arena-rover/roverlink/internal/store"
)

// Connection is the slice of the link supervisor the API needs.
type Connection interface {
	Connect(peer link.Peer)
	Disconnect()
	Status() *link.StatusBroadcaster
}

// Server wires the console, the link supervisor, and the layout store into
// an HTTP surface.
type Server struct {
	console *console.Controller
	conn    Connection
	store   *store.Store

	// defaultPeer is used by /api/connect when the request names no device.
	defaultPeer link.Peer
}

// NewServer creates the API server. The store may be nil; layout endpoints
// then report 503.
func NewServer(c *console.Controller, conn Connection, st *store.Store, defaultPeer link.Peer) *Server {
	return &Server{
		console:     c,
		conn:        conn,
		store:       st,
		defaultPeer: defaultPeer,
	}
}

// ServeMux returns the API route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.getStatus)
	mux.HandleFunc("/api/arena", s.getArena)
	mux.HandleFunc("/api/arena/send", s.postSendArena)
	mux.HandleFunc("/api/command", s.postCommand)
	mux.HandleFunc("/api/robot/move", s.postMove)
	mux.HandleFunc("/api/robot/start", s.postStartPose)
	mux.HandleFunc("/api/obstacles", s.postAddObstacle)
	mux.HandleFunc("/api/obstacles/move", s.postMoveObstacle)
	mux.HandleFunc("/api/obstacles/remove", s.postRemoveObstacle)
	mux.HandleFunc("/api/obstacles/face", s.postCycleFace)
	mux.HandleFunc("/api/explore", s.postExplore)
	mux.HandleFunc("/api/plan", s.postPlan)
	mux.HandleFunc("/api/layouts", s.layouts)
	mux.HandleFunc("/api/layouts/load", s.postLoadLayout)
	mux.HandleFunc("/api/layouts/delete", s.postDeleteLayout)
	mux.HandleFunc("/api/connect", s.postConnect)
	mux.HandleFunc("/api/disconnect", s.postDisconnect)
	mux.HandleFunc("/api/log", s.getStatusLog)
	return mux
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.BadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return false
	}
	return true
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	state := s.conn.Status().Current()
	httputil.WriteJSONOK(w, map[string]string{
		"phase": state.Phase.String(),
		"peer":  state.Peer,
	})
}

func (s *Server) getArena(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.console.Snapshot())
}

func (s *Server) getStatusLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.console.StatusLog())
}

func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Text == "" {
		httputil.BadRequest(w, "text required")
		return
	}
	s.console.SendRaw(body.Text)
	httputil.WriteJSONOK(w, map[string]string{"sent": body.Text})
}

func (s *Server) postMove(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.console.MoveRobot(body.Token); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.console.Snapshot().Robot)
}

func (s *Server) postStartPose(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	httputil.WriteJSONOK(w, s.console.SetStartPose(body.X, body.Y))
}

func (s *Server) postAddObstacle(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	ob, err := s.console.AddObstacle(body.X, body.Y)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, ob)
}

func (s *Server) postMoveObstacle(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		ID int `json:"id"`
		X  int `json:"x"`
		Y  int `json:"y"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.console.MoveObstacle(body.ID, body.X, body.Y); err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.console.Snapshot().Obstacles)
}

func (s *Server) postRemoveObstacle(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		ID int `json:"id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.console.RemoveObstacle(body.ID); err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.console.Snapshot().Obstacles)
}

func (s *Server) postCycleFace(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		ID int `json:"id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	face, err := s.console.CycleObstacleFace(body.ID)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"id": body.ID, "face": face})
}

func (s *Server) postExplore(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.console.BeginExplore()
	httputil.WriteJSONOK(w, map[string]string{"status": "exploring"})
}

func (s *Server) postSendArena(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.console.SendArena()
	httputil.WriteJSONOK(w, map[string]string{"status": "sent"})
}

func (s *Server) postPlan(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	plan, err := s.console.RequestPath(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, plan)
}

// layouts handles GET (list) and POST (save current arena under a name).
func (s *Server) layouts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "layout store not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		infos, err := s.store.ListLayouts()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if infos == nil {
			infos = []store.LayoutInfo{}
		}
		httputil.WriteJSONOK(w, infos)
	case http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		id, err := s.store.SaveLayout(body.Name, s.console.Snapshot())
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{"id": id, "name": body.Name})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) postLoadLayout(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "layout store not configured")
		return
	}
	var body struct {
		Name string `json:"name"`
		// Push re-announces the restored obstacles to the robot.
		Push bool `json:"push"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	snap, err := s.store.LoadLayout(body.Name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	s.console.RestoreLayout(snap)
	if body.Push {
		s.console.SendArena()
	}
	httputil.WriteJSONOK(w, s.console.Snapshot())
}

func (s *Server) postDeleteLayout(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "layout store not configured")
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.store.DeleteLayout(body.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"deleted": body.Name})
}

func (s *Server) postConnect(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Handle string `json:"handle"`
		Name   string `json:"name"`
	}
	// An empty body means "connect to the configured default device".
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	peer := link.Peer{Handle: body.Handle, Name: body.Name}
	if peer.Handle == "" {
		peer = s.defaultPeer
	}
	if peer.Handle == "" {
		httputil.BadRequest(w, "no device handle given and no default configured")
		return
	}
	s.conn.Connect(peer)
	httputil.WriteJSONOK(w, map[string]string{"connecting": peer.DisplayName()})
}

func (s *Server) postDisconnect(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.conn.Disconnect()
	httputil.WriteJSONOK(w, map[string]string{"phase": link.Disconnected.String()})
}
