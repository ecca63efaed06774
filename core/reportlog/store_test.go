package reportlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/flexsim/core/factory"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/internal/testutil"
)

func entry(start int64, success bool, devices ...model.Address) Entry {
	e := Entry{
		Report:   model.Report{ID: start, Start: start, Stop: start + 100, Success: success},
		Settled:  true,
		Recorded: time.Unix(start, 0).UTC(),
	}
	for _, d := range devices {
		e.Records = append(e.Records, model.SettlementRecord{Device: d, AverageFlexibility: 12})
	}
	return e
}

// exerciseStore runs the shared query contract against s.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, entry(300, false, "der-wind-0002")))
	require.NoError(t, s.Append(ctx, entry(100, true, "der-solar-0001", "der-wind-0002")))
	require.NoError(t, s.Append(ctx, entry(200, true, "der-solar-0001")))

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{100, 200, 300}, starts(all))
	assert.Len(t, all[0].Records, 2)

	ranged, err := s.Query(ctx, Query{From: 150, To: 300})
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 300}, starts(ranged))

	ok := true
	succeeded, err := s.Query(ctx, Query{Success: &ok})
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200}, starts(succeeded))

	byDevice, err := s.Query(ctx, Query{Device: "der-wind-0002"})
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 300}, starts(byDevice))

	latest, err := s.Query(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{300}, starts(latest))
}

func starts(es []Entry) []int64 {
	out := make([]int64, len(es))
	for i, e := range es {
		out[i] = e.Report.Start
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestJSONLStore(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "flex.jsonl"), false)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestJSONLStoreCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flex.jsonl.zst")
	s, err := NewJSONLStore(path, true)
	require.NoError(t, err)
	exerciseStore(t, s)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "der-solar-0001")
}

func TestJSONLStoreSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flex.jsonl")
	s, err := NewJSONLStore(path, false)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), entry(1, true)))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := s.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestRotatingJSONLStore(t *testing.T) {
	s, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "logs", "flex.jsonl"), 1, 2, 1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestRotatingJSONLStoreRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flex.jsonl")
	s, err := NewRotatingJSONLStore(path, 1, 3, 1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// About 1.3 MB of records forces one rotation.
	e := entry(1, true)
	for i := 0; i < 200; i++ {
		e.Records = append(e.Records, model.SettlementRecord{Device: model.Address(fmt.Sprintf("der-solar-%04d", i))})
	}
	for i := 0; i < 60; i++ {
		e.Report.Start = int64(i + 1)
		require.NoError(t, s.Append(context.Background(), e))
	}
	backups, err := filepath.Glob(filepath.Join(dir, "flex-*.jsonl"))
	require.NoError(t, err)
	assert.NotEmpty(t, backups)

	out, err := s.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, out, 60)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "flex.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestNewStoreFromConfig(t *testing.T) {
	s, err := NewStore(factory.ModuleConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	path := filepath.Join(t.TempDir(), "cfg.jsonl")
	s, err = NewStore(factory.ModuleConfig{Type: "jsonl", Conf: map[string]any{"path": path, "compress": "true"}})
	require.NoError(t, err)
	js, ok := s.(*JSONLStore)
	require.True(t, ok)
	assert.True(t, js.compress)
	assert.Equal(t, path, js.path)

	_, err = NewStore(factory.ModuleConfig{Type: "tape"})
	assert.ErrorContains(t, err, "unknown module type")
}

func TestRedisStore(t *testing.T) {
	testutil.RequireDocker(t)
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	s, err := NewRedisStore(RedisConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port()), Key: "test:reports"})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}
