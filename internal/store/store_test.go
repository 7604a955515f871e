package store

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arena-rover/roverlink/internal/arena"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "layouts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot() arena.Snapshot {
	return arena.Snapshot{
		Robot: arena.Robot{X: 1, Y: 1, Facing: arena.FaceNorth},
		Obstacles: []arena.Obstacle{
			{ID: 1, X: 5, Y: 10, Face: arena.FaceNorth},
			{ID: 2, X: 15, Y: 5, Face: arena.FaceSouth, Label: "36"},
		},
	}
}

func TestSaveAndLoadLayout(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveLayout("week8", sampleSnapshot())
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := s.LoadLayout("week8")
	require.NoError(t, err)

	want := sampleSnapshot()
	want.Grid = nil // the grid is not persisted
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveLayoutReplacesExisting(t *testing.T) {
	s := openTestStore(t)

	_, err := s.SaveLayout("course", sampleSnapshot())
	require.NoError(t, err)

	updated := arena.Snapshot{
		Robot:     arena.Robot{X: 9, Y: 9, Facing: arena.FaceWest},
		Obstacles: []arena.Obstacle{{ID: 1, X: 2, Y: 3, Face: arena.FaceEast}},
	}
	_, err = s.SaveLayout("course", updated)
	require.NoError(t, err)

	got, err := s.LoadLayout("course")
	require.NoError(t, err)
	assert.Equal(t, updated.Robot, got.Robot)
	require.Len(t, got.Obstacles, 1)
	assert.Equal(t, updated.Obstacles[0], got.Obstacles[0])

	infos, err := s.ListLayouts()
	require.NoError(t, err)
	require.Len(t, infos, 1, "replacing must not create a second layout")
}

func TestSaveLayoutRequiresName(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SaveLayout("", sampleSnapshot())
	assert.Error(t, err)
}

func TestLoadLayoutNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadLayout("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListLayouts(t *testing.T) {
	s := openTestStore(t)

	_, err := s.SaveLayout("a", sampleSnapshot())
	require.NoError(t, err)
	_, err = s.SaveLayout("b", arena.Snapshot{Robot: arena.Robot{X: 1, Y: 1, Facing: arena.FaceNorth}})
	require.NoError(t, err)

	infos, err := s.ListLayouts()
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byName := map[string]LayoutInfo{}
	for _, info := range infos {
		byName[info.Name] = info
	}
	assert.Equal(t, 2, byName["a"].Obstacles)
	assert.Equal(t, 0, byName["b"].Obstacles)
}

func TestDeleteLayout(t *testing.T) {
	s := openTestStore(t)

	_, err := s.SaveLayout("gone", sampleSnapshot())
	require.NoError(t, err)

	require.NoError(t, s.DeleteLayout("gone"))
	_, err = s.LoadLayout("gone")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteLayout("gone"), ErrNotFound)

	// obstacle rows must not linger after delete
	var n int
	require.NoError(t, s.QueryRow("SELECT COUNT(*) FROM layout_obstacles").Scan(&n))
	assert.Zero(t, n)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layouts.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.SaveLayout("persists", sampleSnapshot())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// reopening runs migrations again; data must survive
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.LoadLayout("persists")
	require.NoError(t, err)
	assert.Len(t, got.Obstacles, 2)
}
