/*
NAME
  header.go

DESCRIPTION
  header.go provides Header, the per-block metadata stamped into a summary
  file, and the canonical summary filename format.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ffmt implements the bit-exact binary summary-file format and its
// canonical filename, compatible with the established downstream
// reduction pipeline this camera feeds.
package ffmt

import (
	"fmt"
	"time"
)

// Header is the per-block metadata needed to serialise and name a summary
// file. Station is ASCII and must be 19 bytes or fewer.
type Header struct {
	Station string

	Year, Month, Day          int
	Hour, Minute, Second      int
	Millisecond               int

	Width, Height int
	NFrames       uint32
	FPS           float64
	CameraID      uint32
}

// FromTimestamp fills the Year..Millisecond fields of h by decomposing a
// Unix millisecond timestamp as UTC.
func (h *Header) FromTimestamp(tsMs int64) {
	t := time.UnixMilli(tsMs).UTC()
	h.Year = t.Year()
	h.Month = int(t.Month())
	h.Day = t.Day()
	h.Hour = t.Hour()
	h.Minute = t.Minute()
	h.Second = t.Second()
	h.Millisecond = t.Nanosecond() / 1e6
}

// Filename returns the canonical summary filename:
// F_<station>_<YYYYMMDD>_<HHMMSS>_<mmm>_000000.bin
func (h Header) Filename() string {
	return fmt.Sprintf("F_%s_%04d%02d%02d_%02d%02d%02d_%03d_000000.bin",
		h.Station, h.Year, h.Month, h.Day, h.Hour, h.Minute, h.Second, h.Millisecond)
}
