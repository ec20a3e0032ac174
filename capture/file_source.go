/*
NAME
  file_source.go

DESCRIPTION
  file_source.go provides FileSource, a Source backed by a file of
  concatenated raw NV12 frames, following device/file.AVFile's
  open/read/loop pattern.

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
	"io"
	"os"
	"sync"

	"github.com/ausocean/utils/logging"
)

// FileSource reads fixed-size NV12 frames (stride == width, no padding)
// from a file on disk, optionally looping back to the start at EOF.
// Timestamps are synthesised from the count of frames read so far times
// the configured frame interval, since a raw frame file carries none.
type FileSource struct {
	mu   sync.Mutex
	f    *os.File
	path string
	w, h int
	loop bool
	log  logging.Logger

	frameSize int
	buf       []byte
	frameIdx  int64
	fps       float64
}

// NewFileSource returns a FileSource for path, reading w x h NV12 frames
// at the given nominal fps (used only to synthesise timestamps).
func NewFileSource(log logging.Logger, path string, w, h int, fps float64, loop bool) *FileSource {
	frameSize := w*h + w*h/2
	return &FileSource{
		path:      path,
		w:         w,
		h:         h,
		loop:      loop,
		log:       log,
		frameSize: frameSize,
		buf:       make([]byte, frameSize),
		fps:       fps,
	}
}

// Open opens the backing file. It must be called before the first Frame.
func (s *FileSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("capture: open frame file: %w", err)
	}
	s.f = f
	return nil
}

// Close closes the backing file.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

// Frame reads the next frame from the file, looping to the start on EOF
// if configured to do so.
func (s *FileSource) Frame() (tsMs int64, w, h, stride int, y, uv []byte, release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return 0, 0, 0, 0, nil, nil, noop, fmt.Errorf("capture: FileSource not opened")
	}

	_, err = io.ReadFull(s.f, s.buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		if !s.loop {
			return 0, 0, 0, 0, nil, nil, noop, fmt.Errorf("capture: end of frame file")
		}
		s.log.Info("capture: looping frame file")
		if _, serr := s.f.Seek(0, io.SeekStart); serr != nil {
			return 0, 0, 0, 0, nil, nil, noop, fmt.Errorf("capture: seek to start: %w", serr)
		}
		_, err = io.ReadFull(s.f, s.buf)
	}
	if err != nil {
		return 0, 0, 0, 0, nil, nil, noop, fmt.Errorf("capture: read frame: %w", err)
	}

	tsMs = int64(float64(s.frameIdx) * 1000 / s.fps)
	s.frameIdx++

	return tsMs, s.w, s.h, s.w, s.buf[:s.w*s.h], s.buf[s.w*s.h:], noop, nil
}

func noop() {}
