// Package core wires filesystem events through the ingestion pipeline:
// debounce, remote duplicate check, retrying read, content submission,
// relay/archive and statistics.
package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

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

const driverTick = time.Minute

type job struct {
	event  models.FileEvent
	folder models.WatchedFolder
}

// Engine owns the active watches and drives the ingestion pipeline.
type Engine struct {
	cfg      config.Config
	api      *api.Client
	source   *watchcfg.Source
	deb      *debounce.Debouncer
	reader   *fileio.Reader
	post     *postproc.Processor
	stats    *stats.Tracker
	notifier notify.Notifier
	logger   zerolog.Logger

	jobs chan job
	done chan struct{}

	// mu guards the watcher swap and the dir -> folder routing table so
	// no event is dispatched against a disposed watcher.
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	folders []models.WatchedFolder
	routes  map[string]models.WatchedFolder
}

// New assembles an Engine from its collaborators.
func New(cfg config.Config, apiClient *api.Client, source *watchcfg.Source,
	deb *debounce.Debouncer, reader *fileio.Reader, post *postproc.Processor,
	tracker *stats.Tracker, notifier notify.Notifier, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		api:      apiClient,
		source:   source,
		deb:      deb,
		reader:   reader,
		post:     post,
		stats:    tracker,
		notifier: notifier,
		logger:   logger,
		jobs:     make(chan job, cfg.Agent.QueueSize),
		done:     make(chan struct{}),
		routes:   make(map[string]models.WatchedFolder),
	}
}

// Run fetches the initial watch configuration, starts the watches and the
// worker pool, then drives the periodic loop until ctx is cancelled. An
// empty initial configuration is logged and returns cleanly.
func (e *Engine) Run(ctx context.Context) error {
	folders, err := e.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("initial watch configuration: %w", err)
	}
	if len(folders) == 0 {
		e.logger.Warn().Msg("no folders configured for watching, exiting")
		return nil
	}

	if err := e.swapWatches(folders); err != nil {
		return err
	}

	var workers sync.WaitGroup
	for i := 0; i < e.cfg.Agent.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			e.worker(ctx)
		}()
	}

	e.logger.Info().Int("folders", len(folders)).Int("workers", e.cfg.Agent.Workers).
		Msg("ingestion pipeline started")

	e.driverLoop(ctx)

	close(e.done)
	e.closeWatches()
	workers.Wait()
	e.stats.Wait(e.cfg.Agent.ShutdownGrace)
	e.logger.Info().Msg("ingestion pipeline stopped")
	return nil
}

// driverLoop is the single periodic driver: config refresh, statistics
// rollover and the hourly statistics line.
func (e *Engine) driverLoop(ctx context.Context) {
	ticker := time.NewTicker(driverTick)
	defer ticker.Stop()

	lastRefresh := time.Now()
	lastStatsLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(lastRefresh) >= e.cfg.Agent.RefreshInterval {
				lastRefresh = now
				e.refresh(ctx)
			}
			e.stats.RolloverIfNeeded(ctx, now)
			if now.Sub(lastStatsLog) >= time.Hour {
				lastStatsLog = now
				day, processed, issues := e.stats.Snapshot()
				e.logger.Info().Time("day", day).Int("processed", processed).
					Int("issues", issues).Int("tracked_paths", e.deb.Len()).
					Msg("hourly statistics")
			}
		}
	}
}

// refresh re-fetches the folder list and rebuilds the watches only when a
// field-level difference exists. A failed fetch keeps the previous set in
// force.
func (e *Engine) refresh(ctx context.Context) {
	folders, err := e.source.Fetch(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("watch configuration refresh failed, keeping previous set")
		return
	}

	e.mu.Lock()
	current := e.folders
	e.mu.Unlock()

	if !watchcfg.Changed(current, folders) {
		e.logger.Debug().Msg("watch configuration unchanged")
		return
	}

	e.logger.Info().Int("folders", len(folders)).Msg("watch configuration changed, rebuilding watches")
	if err := e.swapWatches(folders); err != nil {
		e.logger.Error().Err(err).Msg("rebuilding watches failed")
		if nerr := e.notifier.NotifyError(ctx, "watch refresh", err); nerr != nil {
			e.logger.Warn().Err(nerr).Msg("error notification failed")
		}
	}
}

// swapWatches builds a new watcher for the folder list and swaps it in
// atomically, then disposes the old one. The old watcher's pump goroutine
// exits when its event channel closes.
func (e *Engine) swapWatches(folders []models.WatchedFolder) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	routes := make(map[string]models.WatchedFolder)
	for _, folder := range folders {
		if err := addFolder(watcher, routes, folder); err != nil {
			e.logger.Error().Err(err).Str("path", folder.Path).Msg("failed to watch folder")
			continue
		}
		e.logger.Info().Str("path", folder.Path).Str("client", folder.ClientCode).
			Bool("recurse", folder.Recurse).Msg("watching folder")
	}

	e.mu.Lock()
	old := e.watcher
	e.watcher = watcher
	e.folders = folders
	e.routes = routes
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go e.pump(watcher)
	return nil
}

func addFolder(watcher *fsnotify.Watcher, routes map[string]models.WatchedFolder, folder models.WatchedFolder) error {
	if _, err := os.Stat(folder.Path); os.IsNotExist(err) {
		if err := os.MkdirAll(folder.Path, 0o755); err != nil {
			return fmt.Errorf("creating watch directory: %w", err)
		}
	}
	if err := watcher.Add(folder.Path); err != nil {
		return err
	}
	routes[folder.Path] = folder

	if !folder.Recurse {
		return nil
	}
	return filepath.WalkDir(folder.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == folder.Path {
			return err
		}
		if err := watcher.Add(path); err != nil {
			return err
		}
		routes[path] = folder
		return nil
	})
}

func (e *Engine) closeWatches() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil {
		e.watcher.Close()
		e.watcher = nil
	}
}

// pump forwards one watcher's notifications into the pipeline. It exits
// when the watcher is closed during a swap or shutdown.
func (e *Engine) pump(watcher *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			e.handleFsEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func (e *Engine) handleFsEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// A vanished path means the event is stale; skip silently.
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		if ev.Op&fsnotify.Create != 0 {
			e.maybeWatchNewDir(ev.Name)
		}
		return
	}

	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return
	}
	if !e.matchesExtension(base) {
		return
	}

	folder, ok := e.routeFor(ev.Name)
	if !ok {
		return
	}

	now := time.Now()
	if e.deb.ShouldSuppress(ev.Name, now) {
		e.logger.Debug().Str("path", ev.Name).Msg("event suppressed inside debounce window")
		return
	}

	kind := "changed"
	if ev.Op&fsnotify.Create != 0 {
		kind = "created"
	}

	j := job{
		event: models.FileEvent{
			Path:       ev.Name,
			Name:       base,
			Kind:       kind,
			ObservedAt: now,
		},
		folder: folder,
	}
	select {
	case e.jobs <- j:
	case <-e.done:
	}
}

// maybeWatchNewDir extends a recursive watch onto a directory created
// after setup. fsnotify watches are not recursive by themselves.
func (e *Engine) maybeWatchNewDir(path string) {
	folder, ok := e.routeFor(path)
	if !ok || !folder.Recurse {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher == nil {
		return
	}
	if err := e.watcher.Add(path); err != nil {
		e.logger.Warn().Err(err).Str("path", path).Msg("failed to watch new subdirectory")
		return
	}
	e.routes[path] = folder
	e.logger.Info().Str("path", path).Msg("watching new subdirectory")
}

// routeFor resolves an event path to the folder definition of the
// directory it lives in.
func (e *Engine) routeFor(path string) (models.WatchedFolder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	folder, ok := e.routes[filepath.Dir(path)]
	return folder, ok
}

func (e *Engine) matchesExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range e.cfg.Agent.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			e.processFile(ctx, j)
		}
	}
}

// processFile runs the per-file pipeline. It is the outermost per-file
// failure boundary: any panic is recovered, logged, counted as an issue
// and reported, so a single bad file can never take down a watch or the
// process.
func (e *Engine) processFile(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic processing %s: %v", j.event.Path, r)
			e.logger.Error().Err(err).Str("path", j.event.Path).Msg("recovered panic in file processing")
			e.stats.RecordIssue(j.folder.Name, j.folder.Path, j.event.Name, err.Error())
			if nerr := e.notifier.NotifyError(ctx, "file processing", err); nerr != nil {
				e.logger.Warn().Err(nerr).Msg("error notification failed")
			}
		}
	}()

	log := e.logger.With().Str("path", j.event.Path).Str("client", j.folder.ClientCode).Logger()
	log.Info().Str("kind", j.event.Kind).Msg("processing file event")

	// The event may be stale by the time a worker picks it up.
	info, err := os.Stat(j.event.Path)
	if err != nil || info.IsDir() {
		return
	}

	if e.api.CheckAlreadyProcessed(ctx, j.folder.ClientCode, j.event.Name) {
		log.Info().Msg("file already processed remotely, skipping")
		return
	}

	// Best-effort metadata post; a failure is logged by the client and
	// never blocks the submission path.
	e.api.SubmitFileLog(ctx, j.folder.ClientCode, []string{j.event.Name})

	content, err := e.reader.ReadWithRetry(ctx, j.event.Path)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("file unreadable")
		e.stats.RecordIssue(j.folder.Name, j.folder.Path, j.event.Name, "read failed: "+err.Error())
		return
	}
	if len(content) == 0 {
		log.Error().Msg("file content is empty")
		e.stats.RecordIssue(j.folder.Name, j.folder.Path, j.event.Name, "file content is empty")
		return
	}

	result := e.api.SubmitFileContent(ctx, j.folder.ClientCode, content)
	if !result.IsSuccess {
		// Failed submission must never move, delete or relay the source.
		log.Warn().Int("status", result.StatusCode).Str("message", result.Message).
			Msg("submission was not successful")
		e.stats.RecordIssue(j.folder.Name, j.folder.Path, j.event.Name,
			fmt.Sprintf("submission failed (status %d): %s", result.StatusCode, result.Message))
		return
	}

	e.stats.IncrementProcessed()

	if err := e.post.Process(ctx, j.event.Path, j.folder); err != nil {
		log.Error().Err(err).Msg("post-processing failed")
		e.stats.RecordIssue(j.folder.Name, j.folder.Path, j.event.Name, "post-processing: "+err.Error())
		return
	}

	log.Info().Msg("completed processing")
}
