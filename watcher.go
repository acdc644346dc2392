// watcher.go: Polling reload of file-backed property sources
//
// A Watcher polls the files behind FileSources and reloads a source when its
// file changes. Sources keep serving their last good snapshot when a reload
// fails, so a half-written file never empties a configuration.
//
// Example Usage:
//
//	w := strata.NewWatcher(strata.WatcherConfig{PollInterval: 2 * time.Second})
//	_ = w.WatchAggregator(cfg.Aggregator(), func(c strata.SourceChange) {
//	    log.Printf("reloaded %s", c.Source)
//	})
//	_ = w.Start()
//	defer w.Stop()
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// WatcherConfig configures polling.
type WatcherConfig struct {
	PollInterval    time.Duration
	CacheTTL        time.Duration
	MaxWatchedFiles int
	ErrorHandler    func(err error, path string)
}

// WithDefaults fills unset fields.
func (c WatcherConfig) WithDefaults() WatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.CacheTTL <= 0 || c.CacheTTL > c.PollInterval {
		c.CacheTTL = c.PollInterval / 2
	}
	if c.MaxWatchedFiles <= 0 {
		c.MaxWatchedFiles = maxSourceFiles
	}
	return c
}

// SourceChange describes a reloaded (or vanished) file source.
type SourceChange struct {
	Source   string
	Path     string
	ModTime  time.Time
	Size     int64
	IsCreate bool
	IsDelete bool
	IsModify bool
}

// ReloadCallback is called after a watched source changed.
type ReloadCallback func(change SourceChange)

// fileStat caches file metadata between polls.
type fileStat struct {
	modTime  time.Time
	size     int64
	exists   bool
	cachedAt int64
}

func (fs *fileStat) isExpired(ttl time.Duration) bool {
	return timecache.CachedTimeNano()-fs.cachedAt > int64(ttl)
}

type watchedSource struct {
	path     string
	source   *FileSource
	callback ReloadCallback
	lastStat fileStat
}

// Watcher reloads FileSources whose files change on disk.
type Watcher struct {
	config  WatcherConfig
	files   map[string]*watchedSource
	filesMu sync.RWMutex

	// copy-on-write stat cache, read without locks
	statCache atomic.Pointer[map[string]fileStat]

	auditLogger *AuditLogger

	running   atomic.Bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewWatcher creates a stopped watcher.
func NewWatcher(config WatcherConfig) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		config: config.WithDefaults(),
		files:  make(map[string]*watchedSource),
		ctx:    ctx,
		cancel: cancel,
	}
	empty := make(map[string]fileStat)
	w.statCache.Store(&empty)
	return w
}

// WithAudit records reloads and rejected paths in the audit trail.
func (w *Watcher) WithAudit(logger *AuditLogger) *Watcher {
	w.auditLogger = logger
	return w
}

// Watch polls the file behind src and reloads it on change. callback may be
// nil.
func (w *Watcher) Watch(src *FileSource, callback ReloadCallback) error {
	if src == nil {
		return errors.New(ErrCodeInvalidConfig, "source cannot be nil")
	}

	absPath, err := w.securePath(src.Path())
	if err != nil {
		return err
	}

	w.filesMu.Lock()
	defer w.filesMu.Unlock()

	if _, exists := w.files[absPath]; !exists && len(w.files) >= w.config.MaxWatchedFiles {
		w.auditLogger.LogSecurityEvent("watch_limit_exceeded", "Maximum watched files exceeded",
			map[string]interface{}{"path": absPath, "max_files": w.config.MaxWatchedFiles})
		return errors.New(ErrCodeTooManyFiles, "maximum watched files exceeded").
			WithContext("max_files", strconv.Itoa(w.config.MaxWatchedFiles))
	}

	initial, err := w.getStat(absPath)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, ErrCodeIOError, "failed to stat file").
			WithContext("path", absPath)
	}

	w.files[absPath] = &watchedSource{path: absPath, source: src, callback: callback, lastStat: initial}
	w.auditLogger.Log(AuditInfo, "watch_start", "watcher", absPath, nil, nil, map[string]interface{}{
		"source": src.Name(),
	})
	return nil
}

// WatchAggregator watches every FileSource currently in agg.
func (w *Watcher) WatchAggregator(agg *Aggregator, callback ReloadCallback) error {
	for _, src := range agg.PropertySources() {
		if fs, ok := src.(*FileSource); ok {
			if err := w.Watch(fs, callback); err != nil {
				return err
			}
		}
	}
	return nil
}

// securePath validates path and returns it absolute, with symlinks checked.
func (w *Watcher) securePath(path string) (string, error) {
	if err := ValidateSecurePath(path); err != nil {
		w.auditLogger.LogSecurityEvent("path_traversal_attempt", "Rejected unsafe file path",
			map[string]interface{}{"rejected_path": path, "reason": err.Error()})
		return "", err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, ErrCodeInvalidConfig, "invalid file path").
			WithContext("path", path)
	}

	if realPath, err := filepath.EvalSymlinks(absPath); err == nil && realPath != absPath {
		if err := ValidateSecurePath(realPath); err != nil {
			w.auditLogger.LogSecurityEvent("symlink_traversal_attempt", "Symlink points to unsafe location",
				map[string]interface{}{"symlink_path": absPath, "resolved_path": realPath})
			return "", errors.Wrap(err, ErrCodeUnsafePath, "symlink target is unsafe").
				WithContext("symlink_path", absPath).
				WithContext("resolved_path", realPath)
		}
	}
	return absPath, nil
}

// Unwatch stops polling path.
func (w *Watcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "invalid file path").
			WithContext("path", path)
	}

	w.filesMu.Lock()
	delete(w.files, absPath)
	w.filesMu.Unlock()

	w.removeFromCache(absPath)
	return nil
}

// Start begins polling in the background. A closed watcher cannot be
// restarted.
func (w *Watcher) Start() error {
	if w.ctx.Err() != nil {
		return errors.New(ErrCodeWatcherStopped, "watcher is closed")
	}
	if !w.running.CompareAndSwap(false, true) {
		return errors.New(ErrCodeWatcherBusy, "watcher is already running")
	}
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	go w.watchLoop()
	return nil
}

// Stop ends polling and waits for the loop to exit.
func (w *Watcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return errors.New(ErrCodeWatcherStopped, "watcher is not running")
	}
	close(w.stopCh)
	<-w.stoppedCh
	return nil
}

// Close stops the watcher if it is running. It is safe to call repeatedly.
func (w *Watcher) Close() error {
	if w.running.Load() {
		if err := w.Stop(); err != nil {
			return err
		}
	}
	w.cancel()
	return nil
}

// IsRunning reports whether the polling loop is active.
func (w *Watcher) IsRunning() bool {
	return w.running.Load()
}

// WatchedFiles returns the number of watched files.
func (w *Watcher) WatchedFiles() int {
	w.filesMu.RLock()
	defer w.filesMu.RUnlock()
	return len(w.files)
}

// Poll checks every watched file once, synchronously.
func (w *Watcher) Poll() {
	w.filesMu.RLock()
	files := make([]*watchedSource, 0, len(w.files))
	for _, ws := range w.files {
		files = append(files, ws)
	}
	w.filesMu.RUnlock()

	if len(files) == 1 {
		w.checkFile(files[0])
		return
	}

	const maxConcurrency = 8
	fileCh := make(chan *watchedSource, len(files))
	var wg sync.WaitGroup
	for i := 0; i < maxConcurrency && i < len(files); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ws := range fileCh {
				w.checkFile(ws)
			}
		}()
	}
	for _, ws := range files {
		fileCh <- ws
	}
	close(fileCh)
	wg.Wait()
}

func (w *Watcher) watchLoop() {
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// getStat returns the cached stat of path, refreshing it after CacheTTL.
func (w *Watcher) getStat(path string) (fileStat, error) {
	if cached, ok := (*w.statCache.Load())[path]; ok && !cached.isExpired(w.config.CacheTTL) {
		return cached, nil
	}

	info, err := os.Stat(path)
	stat := fileStat{cachedAt: timecache.CachedTimeNano(), exists: err == nil}
	if err == nil {
		stat.modTime = info.ModTime()
		stat.size = info.Size()
	}
	w.updateCache(path, stat)
	return stat, err
}

func (w *Watcher) updateCache(path string, stat fileStat) {
	for {
		oldPtr := w.statCache.Load()
		next := make(map[string]fileStat, len(*oldPtr)+1)
		for k, v := range *oldPtr {
			next[k] = v
		}
		next[path] = stat
		if w.statCache.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

func (w *Watcher) removeFromCache(path string) {
	for {
		oldPtr := w.statCache.Load()
		if _, ok := (*oldPtr)[path]; !ok {
			return
		}
		next := make(map[string]fileStat, len(*oldPtr))
		for k, v := range *oldPtr {
			if k != path {
				next[k] = v
			}
		}
		if w.statCache.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

// ClearCache forces fresh stat calls on the next poll.
func (w *Watcher) ClearCache() {
	empty := make(map[string]fileStat)
	w.statCache.Store(&empty)
}

// checkFile compares the current stat with the last one and reloads the
// source on change. Each watchedSource is checked by one goroutine at a time.
func (w *Watcher) checkFile(ws *watchedSource) {
	current, err := w.getStat(ws.path)
	if err != nil {
		if os.IsNotExist(err) {
			if ws.lastStat.exists {
				ws.lastStat.exists = false
				w.notify(ws, SourceChange{Source: ws.source.Name(), Path: ws.path, IsDelete: true})
			}
		} else {
			w.handleError(errors.Wrap(err, ErrCodeIOError, "failed to stat file").
				WithContext("path", ws.path), ws.path)
		}
		return
	}

	change := SourceChange{Source: ws.source.Name(), Path: ws.path, ModTime: current.modTime, Size: current.size}
	switch {
	case !ws.lastStat.exists:
		change.IsCreate = true
	case current.modTime != ws.lastStat.modTime || current.size != ws.lastStat.size:
		change.IsModify = true
	default:
		return
	}
	ws.lastStat = current

	if err := ws.source.Reload(); err != nil {
		w.handleError(err, ws.path)
		w.auditLogger.Log(AuditWarn, "source_reload_failed", "watcher", ws.path, nil, nil, map[string]interface{}{
			"source": ws.source.Name(),
			"error":  err.Error(),
		})
		return
	}
	w.auditLogger.Log(AuditInfo, "source_reloaded", "watcher", ws.path, nil, nil, map[string]interface{}{
		"source": ws.source.Name(),
	})
	w.notify(ws, change)
}

func (w *Watcher) notify(ws *watchedSource, change SourceChange) {
	if ws.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.auditLogger.Log(AuditCritical, "callback_panic", "watcher", ws.path, nil, nil, nil)
		}
	}()
	ws.callback(change)
}

func (w *Watcher) handleError(err error, path string) {
	if w.config.ErrorHandler != nil {
		w.config.ErrorHandler(err, path)
	}
}

// CacheStats describes the stat cache.
type CacheStats struct {
	Entries   int
	OldestAge time.Duration
	NewestAge time.Duration
}

// GetCacheStats returns current stat cache statistics.
func (w *Watcher) GetCacheStats() CacheStats {
	cache := *w.statCache.Load()
	if len(cache) == 0 {
		return CacheStats{}
	}

	now := timecache.CachedTimeNano()
	var oldest, newest int64
	first := true
	for _, stat := range cache {
		if first || stat.cachedAt < oldest {
			oldest = stat.cachedAt
		}
		if first || stat.cachedAt > newest {
			newest = stat.cachedAt
		}
		first = false
	}
	return CacheStats{
		Entries:   len(cache),
		OldestAge: time.Duration(now - oldest),
		NewestAge: time.Duration(now - newest),
	}
}
