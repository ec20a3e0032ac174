/*
NAME
  config.go

DESCRIPTION
  config.go provides Config, the set of tunables for the night-sky camera
  detection pipeline: detection thresholds, the summary header template,
  the event receiver endpoint, and stack-averaging parameters.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package config provides the configuration settings for the night-sky
// camera detection pipeline.
package config

import (
	"errors"
	"fmt"

	"github.com/ausocean/utils/logging"
)

// Default values, matching the defaults named in the detection spec.
const (
	DefaultDetectWidth  = 640
	DefaultDetectHeight = 480
	DefaultStackWidth   = 1920
	DefaultStackHeight  = 1080

	DefaultSigmaK         = 5
	DefaultMinCandidates  = 5
	DefaultMaxCandidates  = 4096
	DefaultPeakThreshold  = 8
	DefaultMinVotes       = 10
	DefaultMinLengthPx    = 15
	DefaultThetaSteps     = 180
	DefaultRhoMax         = 900

	DefaultFPS               = 25.0
	DefaultJPEGQuality       = 85
	DefaultStackIntervalSecs = 30

	DefaultPushTimeoutMs = 2000
	DefaultStagingDir    = "/tmp/nightcam"
)

// PushConfig describes the HTTP receiver this pipeline pushes detections
// and stacks to.
type PushConfig struct {
	ServerIP   string
	ServerPort int
	TimeoutMs  int
}

// Config aggregates every tunable of the detection pipeline. Validate
// replaces zero-value tuning fields with documented defaults and rejects
// zero plane dimensions; StationID, CameraID and the Push address are
// left as set.
type Config struct {
	// Logger receives structured log output from every component
	// constructed with this Config.
	Logger logging.Logger

	// StationID is the ASCII station identifier (<=19 bytes) stamped into
	// every summary file header and event payload.
	StationID string

	// CameraID identifies the physical camera within a station.
	CameraID uint32

	// FPS is the nominal capture frame rate, used for the summary header
	// and to derive stack cadence.
	FPS float64

	// DetectWidth and DetectHeight are the downsampled plane dimensions the
	// temporal accumulator and Hough detector operate on.
	DetectWidth, DetectHeight int

	// StackWidth and StackHeight are the full-resolution plane dimensions
	// the stack averager operates on.
	StackWidth, StackHeight int

	// SigmaK is the deviation-from-mean threshold factor (K in
	// maxpixel-avgpixel > K*stdpixel) used to collect Hough candidates.
	SigmaK int

	MinCandidates int
	MaxCandidates int
	PeakThreshold int
	MinVotes      int
	MinLengthPx   int
	ThetaSteps    int
	RhoMax        int

	// StackIntervalSecs is the number of seconds of full-resolution frames
	// averaged into one stack image.
	StackIntervalSecs int
	JPEGQuality       int

	// DarkYPath and DarkUVPath, if set, name NV12 dark-frame planes
	// subtracted from every stack average.
	DarkYPath, DarkUVPath string

	// StagingDir is where summary binaries are written before upload.
	StagingDir string

	Push PushConfig
}

// Default returns a Config with every field set to the spec's documented
// defaults. Callers still need to set StationID, CameraID and Push before
// use.
func Default(log logging.Logger) Config {
	return Config{
		Logger:            log,
		FPS:               DefaultFPS,
		DetectWidth:       DefaultDetectWidth,
		DetectHeight:      DefaultDetectHeight,
		StackWidth:        DefaultStackWidth,
		StackHeight:       DefaultStackHeight,
		SigmaK:            DefaultSigmaK,
		MinCandidates:     DefaultMinCandidates,
		MaxCandidates:     DefaultMaxCandidates,
		PeakThreshold:     DefaultPeakThreshold,
		MinVotes:          DefaultMinVotes,
		MinLengthPx:       DefaultMinLengthPx,
		ThetaSteps:        DefaultThetaSteps,
		RhoMax:            DefaultRhoMax,
		StackIntervalSecs: DefaultStackIntervalSecs,
		JPEGQuality:       DefaultJPEGQuality,
		StagingDir:        DefaultStagingDir,
		Push: PushConfig{
			TimeoutMs: DefaultPushTimeoutMs,
		},
	}
}

var (
	errNoLogger       = errors.New("config: Logger must be set")
	errBadDetectDims  = errors.New("config: DetectWidth and DetectHeight must be positive")
	errBadStackDims   = errors.New("config: StackWidth and StackHeight must be positive")
	errBadCandBounds  = errors.New("config: MinCandidates must be less than MaxCandidates")
	errStationTooLong = errors.New("config: StationID must be 19 ASCII bytes or fewer")
)

// Validate fills unset tuning fields (thresholds, FPS, stack cadence, JPEG
// quality, staging directory, push timeout) with defaults (logging the
// substitution) and rejects combinations that would misallocate memory or
// violate spec invariants. The latter are fatal — corresponding to the
// ResourceExhausted error kind, construction must not proceed.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errNoLogger
	}
	if c.DetectWidth <= 0 || c.DetectHeight <= 0 {
		return errBadDetectDims
	}
	if c.StackWidth <= 0 || c.StackHeight <= 0 {
		return errBadStackDims
	}
	if len(c.StationID) > 19 {
		return errStationTooLong
	}

	if c.SigmaK <= 0 {
		c.logInvalid("SigmaK", DefaultSigmaK)
		c.SigmaK = DefaultSigmaK
	}
	if c.MinCandidates <= 0 {
		c.logInvalid("MinCandidates", DefaultMinCandidates)
		c.MinCandidates = DefaultMinCandidates
	}
	if c.MaxCandidates <= 0 {
		c.logInvalid("MaxCandidates", DefaultMaxCandidates)
		c.MaxCandidates = DefaultMaxCandidates
	}
	if c.MinCandidates >= c.MaxCandidates {
		return errBadCandBounds
	}
	if c.PeakThreshold <= 0 {
		c.logInvalid("PeakThreshold", DefaultPeakThreshold)
		c.PeakThreshold = DefaultPeakThreshold
	}
	if c.MinVotes <= 0 {
		c.logInvalid("MinVotes", DefaultMinVotes)
		c.MinVotes = DefaultMinVotes
	}
	if c.MinLengthPx <= 0 {
		c.logInvalid("MinLengthPx", DefaultMinLengthPx)
		c.MinLengthPx = DefaultMinLengthPx
	}
	if c.ThetaSteps <= 0 {
		c.logInvalid("ThetaSteps", DefaultThetaSteps)
		c.ThetaSteps = DefaultThetaSteps
	}
	if c.RhoMax <= 0 {
		c.logInvalid("RhoMax", DefaultRhoMax)
		c.RhoMax = DefaultRhoMax
	}
	if c.FPS <= 0 {
		c.logInvalid("FPS", DefaultFPS)
		c.FPS = DefaultFPS
	}
	if c.StackIntervalSecs <= 0 {
		c.logInvalid("StackIntervalSecs", DefaultStackIntervalSecs)
		c.StackIntervalSecs = DefaultStackIntervalSecs
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.logInvalid("JPEGQuality", DefaultJPEGQuality)
		c.JPEGQuality = DefaultJPEGQuality
	}
	if c.StagingDir == "" {
		c.logInvalid("StagingDir", DefaultStagingDir)
		c.StagingDir = DefaultStagingDir
	}
	if c.Push.TimeoutMs <= 0 {
		c.logInvalid("Push.TimeoutMs", DefaultPushTimeoutMs)
		c.Push.TimeoutMs = DefaultPushTimeoutMs
	}
	return nil
}

// FramesPerStack returns the number of full-resolution frames the stack
// averager folds into one image, derived from StackIntervalSecs and FPS.
func (c *Config) FramesPerStack() int {
	return int(c.FPS * float64(c.StackIntervalSecs))
}

func (c *Config) logInvalid(name string, def interface{}) {
	c.Logger.Info(fmt.Sprintf("%s bad or unset, defaulting", name), name, def)
}
