//go:build withcv
// +build withcv

/*
NAME
  webcam_source.go

DESCRIPTION
  webcam_source.go provides WebcamSource, an OpenCV-backed Source for
  bench and development use against a real webcam, gated behind the
  withcv build tag since it requires cgo and the OpenCV native library.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package capture

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// WebcamSource is a Source backed by a local OpenCV VideoCapture device,
// converting each captured BGR frame to NV12 on read.
type WebcamSource struct {
	mu   sync.Mutex
	cap  *gocv.VideoCapture
	mat  gocv.Mat
	yuv  gocv.Mat
	w, h int

	y, uv []byte
	start time.Time
}

// NewWebcamSource opens device index devID and returns a WebcamSource
// capturing w x h frames.
func NewWebcamSource(devID, w, h int) (*WebcamSource, error) {
	cap, err := gocv.OpenVideoCapture(devID)
	if err != nil {
		return nil, fmt.Errorf("capture: open video capture device %d: %w", devID, err)
	}
	cap.Set(gocv.VideoCaptureFrameWidth, float64(w))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(h))
	return &WebcamSource{
		cap:   cap,
		mat:   gocv.NewMat(),
		yuv:   gocv.NewMat(),
		w:     w,
		h:     h,
		y:     make([]byte, w*h),
		uv:    make([]byte, w*h/2),
		start: time.Now(),
	}, nil
}

// Close releases the underlying device and OpenCV matrices.
func (s *WebcamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mat.Close()
	s.yuv.Close()
	return s.cap.Close()
}

// Frame reads one frame from the webcam and converts it to NV12 planes.
func (s *WebcamSource) Frame() (tsMs int64, w, h, stride int, y, uv []byte, release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok := s.cap.Read(&s.mat); !ok || s.mat.Empty() {
		return 0, 0, 0, 0, nil, nil, noop, fmt.Errorf("capture: webcam read failed")
	}
	gocv.CvtColor(s.mat, &s.yuv, gocv.ColorBGRToYUV_I420)

	planeSize := s.w * s.h
	data := s.yuv.ToBytes()
	if len(data) < planeSize+planeSize/2 {
		return 0, 0, 0, 0, nil, nil, noop, fmt.Errorf("capture: unexpected YUV buffer size %d", len(data))
	}
	copy(s.y, data[:planeSize])

	// I420 stores U and V as separate quarter-size planes; interleave them
	// into the NV12 layout the rest of the pipeline expects.
	uPlane := data[planeSize : planeSize+planeSize/4]
	vPlane := data[planeSize+planeSize/4 : planeSize+planeSize/2]
	for i := range uPlane {
		s.uv[2*i] = uPlane[i]
		s.uv[2*i+1] = vPlane[i]
	}

	tsMs = time.Since(s.start).Milliseconds()

	return tsMs, s.w, s.h, s.w, s.y, s.uv, noop, nil
}
