package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleverdata/ferry-agent/internal/api"
	"github.com/cleverdata/ferry-agent/internal/config"
	"github.com/cleverdata/ferry-agent/internal/debounce"
	"github.com/cleverdata/ferry-agent/internal/fileio"
	"github.com/cleverdata/ferry-agent/internal/models"
	"github.com/cleverdata/ferry-agent/internal/notify"
	"github.com/cleverdata/ferry-agent/internal/postproc"
	"github.com/cleverdata/ferry-agent/internal/stats"
	"github.com/cleverdata/ferry-agent/internal/watchcfg"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() config.Config {
	return config.Config{
		Agent: config.AgentConfig{
			RefreshInterval: time.Hour,
			DebounceWindow:  2 * time.Second,
			Workers:         2,
			QueueSize:       16,
			Extensions:      []string{".csv"},
			ShutdownGrace:   time.Second,
			Hostname:        "test-host",
		},
	}
}

// fakePlatform serves the watch configuration and the ingestion endpoints.
type fakePlatform struct {
	srv *httptest.Server

	mu          sync.Mutex
	folders     []models.WatchedFolder
	fetched     chan struct{}
	fetchedOnce sync.Once
	submissions []string
	submitOK    bool
}

func newFakePlatform(t *testing.T, folders []models.WatchedFolder) *fakePlatform {
	t.Helper()
	p := &fakePlatform{
		folders:  folders,
		fetched:  make(chan struct{}),
		submitOK: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/DataReceiver/WatchedFolders", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		folders := append([]models.WatchedFolder(nil), p.folders...)
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(folders)
		p.fetchedOnce.Do(func() { close(p.fetched) })
	})
	mux.HandleFunc("/DataReceiver/CheckFileProcessed/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.APIResult{StatusCode: 200, Result: false, IsSuccess: true})
	})
	mux.HandleFunc("/DataReceiver/ReceivesFileLogs/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.APIResult{StatusCode: 200, IsSuccess: true})
	})
	mux.HandleFunc("/DataReceiver/ReceivesStationData/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.submissions = append(p.submissions, string(body))
		ok := p.submitOK
		p.mu.Unlock()
		if ok {
			_ = json.NewEncoder(w).Encode(models.APIResult{StatusCode: 200, IsSuccess: true})
			return
		}
		_ = json.NewEncoder(w).Encode(models.APIResult{StatusCode: 500, Message: "rejected", IsSuccess: false})
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePlatform) submissionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submissions)
}

func (p *fakePlatform) setFolders(folders []models.WatchedFolder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.folders = folders
}

func newTestEngine(t *testing.T, p *fakePlatform, tracker *stats.Tracker) *Engine {
	t.Helper()
	cfg := testConfig()
	logger := testLogger()
	return New(cfg,
		api.New(p.srv.URL, "GPRS", cfg.Agent.Hostname, "", logger),
		watchcfg.New(p.srv.URL, []string{"ST-01"}, "", logger),
		debounce.New(cfg.Agent.DebounceWindow),
		fileio.New(logger),
		postproc.New(logger),
		tracker, notify.Nop{}, logger)
}

func TestRun_EndToEnd_SubmitAndArchive(t *testing.T) {
	inDir := t.TempDir()
	arcDir := filepath.Join(t.TempDir(), "arc")

	p := newFakePlatform(t, []models.WatchedFolder{{
		Name:          "station-1",
		Path:          inDir,
		ArchivePath:   arcDir,
		ClientCode:    "C1",
		EnableArchive: true,
	}})
	tracker := stats.New(notify.Nop{}, "", testLogger())
	engine := newTestEngine(t, p, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- engine.Run(ctx) }()

	select {
	case <-p.fetched:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never fetched watch configuration")
	}
	time.Sleep(200 * time.Millisecond) // let the watch settle

	require.NoError(t, os.WriteFile(filepath.Join(inDir, "data.csv"), []byte("1,2,3"), 0o644))

	require.Eventually(t, func() bool {
		_, processed, _ := tracker.Snapshot()
		return processed == 1
	}, 10*time.Second, 50*time.Millisecond, "file was never processed")

	assert.NoFileExists(t, filepath.Join(inDir, "data.csv"))
	assert.FileExists(t, filepath.Join(arcDir, "data.csv"))
	assert.Equal(t, 1, p.submissionCount())
	_, _, issues := tracker.Snapshot()
	assert.Zero(t, issues)

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not shut down")
	}
}

func TestRun_FailedSubmissionLeavesSource(t *testing.T) {
	inDir := t.TempDir()
	arcDir := t.TempDir()

	p := newFakePlatform(t, []models.WatchedFolder{{
		Name:          "station-1",
		Path:          inDir,
		ArchivePath:   arcDir,
		ClientCode:    "C1",
		EnableArchive: true,
	}})
	p.submitOK = false

	tracker := stats.New(notify.Nop{}, "", testLogger())
	engine := newTestEngine(t, p, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = engine.Run(ctx) }()

	select {
	case <-p.fetched:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never fetched watch configuration")
	}
	time.Sleep(200 * time.Millisecond)

	source := filepath.Join(inDir, "data.csv")
	require.NoError(t, os.WriteFile(source, []byte("1,2,3"), 0o644))

	require.Eventually(t, func() bool {
		_, _, issues := tracker.Snapshot()
		return issues == 1
	}, 10*time.Second, 50*time.Millisecond, "issue was never recorded")

	// A failed submission must never move, delete or relay the source.
	assert.FileExists(t, source)
	assert.NoFileExists(t, filepath.Join(arcDir, "data.csv"))
	_, processed, _ := tracker.Snapshot()
	assert.Zero(t, processed)
}

func TestRun_EmptyConfigurationExitsCleanly(t *testing.T) {
	p := newFakePlatform(t, nil)
	tracker := stats.New(notify.Nop{}, "", testLogger())
	engine := newTestEngine(t, p, tracker)

	err := engine.Run(context.Background())

	assert.NoError(t, err)
}

func TestMatchesExtension(t *testing.T) {
	engine := New(testConfig(), nil, nil, debounce.New(0), nil, nil, nil, notify.Nop{}, testLogger())

	assert.True(t, engine.matchesExtension("data.csv"))
	assert.True(t, engine.matchesExtension("DATA.CSV"))
	assert.False(t, engine.matchesExtension("data.tmp"))
	assert.False(t, engine.matchesExtension("data"))
}

func TestSwapWatches_RoutesAndRebuild(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	engine := New(testConfig(), nil, nil, debounce.New(0), nil, nil, nil, notify.Nop{}, testLogger())
	t.Cleanup(engine.closeWatches)

	folderA := models.WatchedFolder{Name: "a", Path: dirA, ClientCode: "C1"}
	require.NoError(t, engine.swapWatches([]models.WatchedFolder{folderA}))

	got, ok := engine.routeFor(filepath.Join(dirA, "x.csv"))
	require.True(t, ok)
	assert.Equal(t, "a", got.Name)

	folderB := models.WatchedFolder{Name: "b", Path: dirB, ClientCode: "C2"}
	require.NoError(t, engine.swapWatches([]models.WatchedFolder{folderB}))

	_, ok = engine.routeFor(filepath.Join(dirA, "x.csv"))
	assert.False(t, ok, "old routes must be gone after a swap")
	_, ok = engine.routeFor(filepath.Join(dirB, "x.csv"))
	assert.True(t, ok)
}

func TestSwapWatches_RecursiveRegistersSubdirs(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	engine := New(testConfig(), nil, nil, debounce.New(0), nil, nil, nil, notify.Nop{}, testLogger())
	t.Cleanup(engine.closeWatches)

	folder := models.WatchedFolder{Name: "r", Path: root, ClientCode: "C1", Recurse: true}
	require.NoError(t, engine.swapWatches([]models.WatchedFolder{folder}))

	_, ok := engine.routeFor(filepath.Join(sub, "x.csv"))
	assert.True(t, ok, "files in subdirectories must route to the recursive folder")
}

func TestSwapWatches_CreatesMissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "not-there-yet")

	engine := New(testConfig(), nil, nil, debounce.New(0), nil, nil, nil, notify.Nop{}, testLogger())
	t.Cleanup(engine.closeWatches)

	folder := models.WatchedFolder{Name: "m", Path: missing, ClientCode: "C1"}
	require.NoError(t, engine.swapWatches([]models.WatchedFolder{folder}))

	info, err := os.Stat(missing)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func (e *Engine) currentWatcher() *fsnotify.Watcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watcher
}

func TestRefresh_UnchangedConfigKeepsWatcher(t *testing.T) {
	dir := t.TempDir()
	p := newFakePlatform(t, []models.WatchedFolder{{Name: "a", Path: dir, ClientCode: "C1"}})
	tracker := stats.New(notify.Nop{}, "", testLogger())
	engine := newTestEngine(t, p, tracker)
	t.Cleanup(engine.closeWatches)

	folders, err := engine.source.Fetch(context.Background())
	require.NoError(t, err)
	require.NoError(t, engine.swapWatches(folders))
	before := engine.currentWatcher()

	engine.refresh(context.Background())

	assert.Same(t, before, engine.currentWatcher(),
		"a refresh with no field-level difference must not touch the live watcher")
}

func TestRefresh_SingleFieldChangeSwapsWatcher(t *testing.T) {
	dir := t.TempDir()
	p := newFakePlatform(t, []models.WatchedFolder{{Name: "a", Path: dir, ClientCode: "C1"}})
	tracker := stats.New(notify.Nop{}, "", testLogger())
	engine := newTestEngine(t, p, tracker)
	t.Cleanup(engine.closeWatches)

	folders, err := engine.source.Fetch(context.Background())
	require.NoError(t, err)
	require.NoError(t, engine.swapWatches(folders))
	before := engine.currentWatcher()

	p.setFolders([]models.WatchedFolder{{Name: "a", Path: dir, ClientCode: "C2"}})
	engine.refresh(context.Background())

	assert.NotSame(t, before, engine.currentWatcher(),
		"a one-field difference must dispose and recreate the watcher")
	got, ok := engine.routeFor(filepath.Join(dir, "x.csv"))
	require.True(t, ok)
	assert.Equal(t, "C2", got.ClientCode)
}

func TestHandleFsEvent_Filtering(t *testing.T) {
	dir := t.TempDir()

	engine := New(testConfig(), nil, nil, debounce.New(0), nil, nil, nil, notify.Nop{}, testLogger())
	t.Cleanup(engine.closeWatches)
	require.NoError(t, engine.swapWatches([]models.WatchedFolder{{Name: "f", Path: dir, ClientCode: "C1"}}))

	hidden := filepath.Join(dir, ".hidden.csv")
	wrongExt := filepath.Join(dir, "notes.tmp")
	stale := filepath.Join(dir, "gone.csv")
	for _, path := range []string{hidden, wrongExt} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	for _, path := range []string{hidden, wrongExt, stale} {
		engine.handleFsEvent(fsnotify.Event{Name: path, Op: fsnotify.Write})
	}
	accepted := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(accepted, []byte("x"), 0o644))
	engine.handleFsEvent(fsnotify.Event{Name: accepted, Op: fsnotify.Create})

	// Only the accepted file may be queued.
	require.Eventually(t, func() bool { return len(engine.jobs) > 0 }, time.Second, 10*time.Millisecond)
	j := <-engine.jobs
	assert.Equal(t, accepted, j.event.Path)
	assert.Equal(t, "created", j.event.Kind)
	assert.Empty(t, engine.jobs)
}
