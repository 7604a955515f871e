package api

import (
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arena-rover/roverlink/internal/arena"
	"github.com/arena-rover/roverlink/internal/console"
	"github.com/arena-rover/roverlink/internal/link"
	"github.com/arena-rover/roverlink/internal/store"
	"github.com/arena-rover/roverlink/internal/testutil"
)

// fakeLink satisfies console.Link.
type fakeLink struct {
	mu      sync.Mutex
	sent    []string
	inbound chan string
}

func newFakeLink() *fakeLink {
	return &fakeLink{inbound: make(chan string, 16)}
}

func (f *fakeLink) Send(msg string) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
}

func (f *fakeLink) Receive() <-chan string { return f.inbound }

func (f *fakeLink) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeConn satisfies Connection.
type fakeConn struct {
	status      *link.StatusBroadcaster
	connects    []link.Peer
	disconnects int
}

func newFakeConn() *fakeConn {
	return &fakeConn{status: link.NewStatusBroadcaster()}
}

func (f *fakeConn) Connect(peer link.Peer) { f.connects = append(f.connects, peer) }

func (f *fakeConn) Disconnect() { f.disconnects++ }

func (f *fakeConn) Status() *link.StatusBroadcaster { return f.status }

type testServer struct {
	*Server
	link *fakeLink
	conn *fakeConn
	mux  *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fl := newFakeLink()
	fc := newFakeConn()
	c := console.NewController(fl, console.Options{})

	st, err := store.Open(filepath.Join(t.TempDir(), "layouts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := NewServer(c, fc, st, link.Peer{Handle: "/org/bluez/hci0/dev_AA", Name: "rover"})
	return &testServer{Server: srv, link: fl, conn: fc, mux: srv.ServeMux()}
}

func TestGetStatus(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewTestRequest(http.MethodGet, "/api/status")
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var body map[string]string
	testutil.DecodeJSONBody(t, rec.Body, &body)
	assert.Equal(t, "disconnected", body["phase"])
}

func TestGetArena(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewTestRequest(http.MethodGet, "/api/arena")
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var snap arena.Snapshot
	testutil.DecodeJSONBody(t, rec.Body, &snap)
	assert.Len(t, snap.Grid, arena.GridCells)
	assert.Equal(t, arena.Robot{X: 1, Y: 1, Facing: arena.FaceNorth}, snap.Robot)
}

func TestPostMove(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/robot/move", map[string]string{"token": "f"})
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var pose arena.Robot
	testutil.DecodeJSONBody(t, rec.Body, &pose)
	assert.Equal(t, arena.Robot{X: 1, Y: 2, Facing: arena.FaceNorth}, pose)
	assert.Equal(t, []string{"f"}, ts.link.Sent())
}

func TestPostMoveRejectsUnknownToken(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/robot/move", map[string]string{"token": "warp"})
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	assert.Empty(t, ts.link.Sent())
}

func TestPostMoveRequiresPost(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewTestRequest(http.MethodGet, "/api/robot/move")
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestPostStartPose(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/robot/start", map[string]int{"x": 0, "y": 30})
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var pose arena.Robot
	testutil.DecodeJSONBody(t, rec.Body, &pose)
	assert.Equal(t, arena.Robot{X: 1, Y: 18, Facing: arena.FaceNorth}, pose)
	assert.Equal(t, []string{"coordinate (1,18)"}, ts.link.Sent())
}

func TestObstacleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/obstacles", map[string]int{"x": 5, "y": 10})
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var ob arena.Obstacle
	testutil.DecodeJSONBody(t, rec.Body, &ob)
	assert.Equal(t, 1, ob.ID)

	// duplicate cell is rejected
	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/obstacles", map[string]int{"x": 5, "y": 10})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)

	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/obstacles/move", map[string]int{"id": 1, "x": 7, "y": 7})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/obstacles/face", map[string]int{"id": 1})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var faceResp map[string]interface{}
	testutil.DecodeJSONBody(t, rec.Body, &faceResp)
	assert.Equal(t, arena.FaceEast, faceResp["face"])

	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/obstacles/remove", map[string]int{"id": 1})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	// removing again is a 404
	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/obstacles/remove", map[string]int{"id": 1})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	assert.Equal(t, []string{
		"ADD,B1,(5,10)",
		"ADD,B1,(7,7)",
		"REMOVE,B1",
	}, ts.link.Sent())
}

func TestPostCommand(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/command", map[string]string{"text": "ping"})
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)

	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, []string{"ping"}, ts.link.Sent())

	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/command", map[string]string{})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestExploreAndSendArena(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/explore", struct{}{})
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/arena/send", struct{}{})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	assert.Equal(t, []string{"beginExplore", "sendArena"}, ts.link.Sent())
}

func TestLayoutRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	// stage an obstacle, save, clear, reload
	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/obstacles", map[string]int{"x": 5, "y": 10})
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/layouts", map[string]string{"name": "week8"})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/obstacles/remove", map[string]int{"id": 1})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/layouts/load", map[string]interface{}{"name": "week8", "push": true})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var snap arena.Snapshot
	testutil.DecodeJSONBody(t, rec.Body, &snap)
	require.Len(t, snap.Obstacles, 1)
	assert.Equal(t, 5, snap.Obstacles[0].X)

	// push re-announced the obstacle after the restore
	sent := ts.link.Sent()
	assert.Equal(t, "sendArena", sent[len(sent)-2])
	assert.Equal(t, "ADD,B1,(5,10)", sent[len(sent)-1])

	req = testutil.NewTestRequest(http.MethodGet, "/api/layouts")
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var infos []store.LayoutInfo
	testutil.DecodeJSONBody(t, rec.Body, &infos)
	require.Len(t, infos, 1)
	assert.Equal(t, "week8", infos[0].Name)

	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/layouts/delete", map[string]string{"name": "week8"})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/layouts/load", map[string]string{"name": "week8"})
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestLayoutsWithoutStore(t *testing.T) {
	fl := newFakeLink()
	c := console.NewController(fl, console.Options{})
	srv := NewServer(c, newFakeConn(), nil, link.Peer{})
	mux := srv.ServeMux()

	req := testutil.NewTestRequest(http.MethodGet, "/api/layouts")
	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
}

func TestPostPlanWithoutPlanner(t *testing.T) {
	ts := newTestServer(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/plan", struct{}{})
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
}

func TestConnectAndDisconnect(t *testing.T) {
	ts := newTestServer(t)

	// explicit device
	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/connect",
		map[string]string{"handle": "/org/bluez/hci0/dev_BB", "name": "spare"})
	rec := testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	// empty body falls back to the default peer
	req = testutil.NewTestRequest(http.MethodPost, "/api/connect")
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	require.Len(t, ts.conn.connects, 2)
	assert.Equal(t, "spare", ts.conn.connects[0].Name)
	assert.Equal(t, "rover", ts.conn.connects[1].Name)

	req = testutil.NewTestRequest(http.MethodPost, "/api/disconnect")
	rec = testutil.NewTestRecorder()
	ts.mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, 1, ts.conn.disconnects)
}

func TestConnectWithoutAnyPeer(t *testing.T) {
	fl := newFakeLink()
	c := console.NewController(fl, console.Options{})
	srv := NewServer(c, newFakeConn(), nil, link.Peer{})
	mux := srv.ServeMux()

	req := testutil.NewTestRequest(http.MethodPost, "/api/connect")
	rec := testutil.NewTestRecorder()
	mux.ServeHTTP(rec, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}
