/*
NAME
  main.go

DESCRIPTION
  nightcam is a low-power night-sky camera pipeline that ingests a
  luminance frame stream, detects meteor streaks via a temporal
  accumulator and Hough-transform line detector, and periodically
  uploads an averaged full-resolution image stack, both pushed as
  summary artifacts and JSON events to a local HTTP receiver.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package main wires together the capture, detect, stack, push and ivs
// packages into the long-lived nightcam service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/nightcam/capture"
	"github.com/ausocean/nightcam/config"
	"github.com/ausocean/nightcam/detect"
	"github.com/ausocean/nightcam/encode"
	"github.com/ausocean/nightcam/ivs"
	"github.com/ausocean/nightcam/push"
	"github.com/ausocean/nightcam/stack"
	"github.com/ausocean/utils/logging"
)

// Logging configuration.
const (
	logPath      = "/var/log/nightcam/nightcam.log"
	logMaxSize   = 100 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

const (
	watchdogInterval = 10 * time.Second
	pkg              = "nightcam: "
)

func main() {
	stationID := flag.String("station", "", "station identifier, <=19 ASCII bytes")
	cameraID := flag.Uint("camera", 1, "camera id")
	serverIP := flag.String("server-ip", "127.0.0.1", "receiver IP address")
	serverPort := flag.Int("server-port", 8080, "receiver port")
	stagingDir := flag.String("staging-dir", config.DefaultStagingDir, "directory for summary files before upload")
	inputPath := flag.String("input", "", "path to a raw NV12 frame file (empty: run the synthetic test source)")
	inputLoop := flag.Bool("loop", true, "loop the input file at EOF")
	tuningPath := flag.String("tuning-file", "", "optional key=value file of threshold overrides, read at startup")
	fps := flag.Float64("fps", config.DefaultFPS, "nominal capture frame rate")
	flag.Parse()

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(logVerbosity, io.MultiWriter(fileLog, os.Stderr), logSuppress)

	if *stationID == "" {
		log.Fatal(pkg + "no -station provided, check usage")
	}

	cfg := config.Default(log)
	cfg.StationID = *stationID
	cfg.CameraID = uint32(*cameraID)
	cfg.FPS = *fps
	cfg.StagingDir = *stagingDir
	cfg.Push.ServerIP = *serverIP
	cfg.Push.ServerPort = *serverPort
	if err := cfg.Validate(); err != nil {
		log.Fatal(pkg+"invalid configuration", "error", err)
	}
	if err := os.MkdirAll(cfg.StagingDir, 0755); err != nil {
		log.Fatal(pkg+"could not create staging directory", "error", err)
	}

	var watcher *config.Watcher
	if *tuningPath != "" {
		var err error
		watcher, err = config.NewWatcher(*tuningPath, &cfg)
		if err != nil {
			log.Fatal(pkg+"could not create config watcher", "error", err)
		}
		if err := watcher.Start(); err != nil {
			log.Fatal(pkg+"could not start config watcher", "error", err)
		}
		defer watcher.Stop()
	}

	pusher := push.New(cfg.Push, log)
	counters := ivs.New()

	det := detect.New(cfg, pusher)
	defer det.Stop()

	stk := stack.New(cfg, counters, encode.JPEGEncoder{}, pusher)
	defer stk.Stop()

	src, closeSrc := newSource(*inputPath, *inputLoop, cfg, log)
	defer closeSrc()

	ctx, cancel := context.WithCancel(context.Background())
	go capture.Run(ctx, src, det, stk, cfg.DetectWidth, cfg.DetectHeight, log)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug(pkg+"systemd readiness notification failed (likely not running under systemd)", "error", err)
	}
	go watchdogLoop(log)

	waitForShutdown(log)
	cancel()
}

// newSource builds the frame source: a FileSource if inputPath is set,
// otherwise a Synthetic source producing a faint uniform background, so
// the service always has a usable data path even without real hardware
// wired up yet.
func newSource(inputPath string, loop bool, cfg config.Config, log logging.Logger) (capture.Source, func()) {
	if inputPath != "" {
		fs := capture.NewFileSource(log, inputPath, cfg.StackWidth, cfg.StackHeight, cfg.FPS, loop)
		if err := fs.Open(); err != nil {
			log.Fatal(pkg+"could not open input file", "error", err)
		}
		return fs, func() { fs.Close() }
	}

	log.Info(pkg + "no -input provided, running the synthetic uniform-background source")
	syn := capture.NewSynthetic(cfg.StackWidth, cfg.StackHeight, cfg.FPS, 0, func(i int64, y, uv []byte) {
		for j := range y {
			y[j] = 16
		}
		for j := range uv {
			uv[j] = 128
		}
	})
	return syn, func() {}
}

// watchdogLoop periodically pings systemd's watchdog if one is configured,
// proving the main goroutine tree is still alive.
func watchdogLoop(log logging.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	if interval > watchdogInterval {
		interval = watchdogInterval
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for range ticker.C {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
			log.Debug(pkg+"systemd watchdog notification failed", "error", err)
		}
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func waitForShutdown(log logging.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	log.Info(fmt.Sprintf(pkg+"received signal %v, shutting down", s))
}
