/*
NAME
  watch.go

DESCRIPTION
  watch.go provides Watcher, which re-reads a subset of detection
  thresholds from a tuning file into a Config whenever the file is
  written.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ausocean/utils/logging"
)

// Watcher watches a key=value tuning file on disk and applies recognised
// keys, under a mutex, to the *Config it was given. Components that took a
// copy of that Config before a reload (detect.New and stack.New take it by
// value) keep their copy and do not see later updates. Only a safe subset
// of fields is reloadable: those that affect thresholds, not those that
// affect allocation sizes.
type Watcher struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
	log  logging.Logger

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher returns a Watcher for path, applying it on top of cfg.
// path need not exist yet; Watcher tolerates a missing file and simply
// keeps cfg's current values until the file appears.
func NewWatcher(path string, cfg *Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path: path,
		cfg:  cfg,
		log:  cfg.Logger,
		fsw:  fsw,
		done: make(chan struct{}),
	}
	w.reload()
	return w, nil
}

// Start begins watching the config file's directory for changes and
// applies them as they occur. It returns immediately; reloading happens on
// a background goroutine until Stop is called.
func (w *Watcher) Start() error {
	dir := dirOf(w.path)
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	go w.run()
	return nil
}

// Stop halts the watch goroutine and releases the underlying inotify
// handle.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name == w.path && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				w.reload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warning("config: watcher error", "error", err)
		}
	}
}

// reload re-reads the tuning file and applies recognised keys. Unreadable
// or malformed files are logged and otherwise ignored — a config watcher
// failure must never take down the detection pipeline.
func (w *Watcher) reload() {
	f, err := os.Open(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warning("config: could not open tuning file", "path", w.path, "error", err)
		}
		return
	}
	defer f.Close()

	w.mu.Lock()
	defer w.mu.Unlock()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		w.applyLocked(key, val)
	}
	if err := sc.Err(); err != nil {
		w.log.Warning("config: error scanning tuning file", "error", err)
	}
}

func (w *Watcher) applyLocked(key, val string) {
	i, ierr := strconv.Atoi(val)
	switch key {
	case "SigmaK":
		if ierr == nil && i > 0 {
			w.cfg.SigmaK = i
		}
	case "MinVotes":
		if ierr == nil && i > 0 {
			w.cfg.MinVotes = i
		}
	case "MinLengthPx":
		if ierr == nil && i > 0 {
			w.cfg.MinLengthPx = i
		}
	case "PeakThreshold":
		if ierr == nil && i > 0 {
			w.cfg.PeakThreshold = i
		}
	case "Push.ServerIP":
		w.cfg.Push.ServerIP = val
	case "Push.ServerPort":
		if ierr == nil && i > 0 {
			w.cfg.Push.ServerPort = i
		}
	default:
		// Unrecognised keys are ignored; this file is shared with other,
		// unrelated tuning concerns on the device.
	}
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}
