/*
NAME
  writer.go

DESCRIPTION
  writer.go provides Write, which serialises a Header plus four summary
  planes to the stable little-endian binary format consumed by the
  downstream reduction pipeline.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package ffmt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// versionMarker is the magic first field of every summary file, stored as
// the two's-complement encoding of int32(-1).
const versionMarker = uint32(0xFFFFFFFF)

// Planes holds the four summary planes produced by a finalised
// block.TemporalBlock. Each must have length Header.Width*Header.Height.
type Planes struct {
	Max, Maxframe, Avg, Std []byte
}

// Write serialises hdr and planes to w in the exact byte layout specified
// by the summary-file format: a 36-byte header of nine little-endian
// uint32 fields, followed by the four planes concatenated in
// max/maxframe/avg/std order.
func Write(w io.Writer, hdr Header, p Planes) error {
	plane := hdr.Width * hdr.Height
	if len(p.Max) != plane || len(p.Maxframe) != plane || len(p.Avg) != plane || len(p.Std) != plane {
		return errors.Errorf("ffmt: plane length mismatch: want %d bytes each", plane)
	}

	var buf [36]byte
	binary.LittleEndian.PutUint32(buf[0:4], versionMarker)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(hdr.Height))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(hdr.Width))
	binary.LittleEndian.PutUint32(buf[12:16], hdr.NFrames)
	binary.LittleEndian.PutUint32(buf[16:20], 0) // first frame
	binary.LittleEndian.PutUint32(buf[20:24], hdr.CameraID)
	binary.LittleEndian.PutUint32(buf[24:28], 1) // decimation
	binary.LittleEndian.PutUint32(buf[28:32], 0) // interleave
	binary.LittleEndian.PutUint32(buf[32:36], uint32(hdr.FPS*1000+0.5))

	if _, err := w.Write(buf[:]); err != nil {
		return errors.Wrap(err, "ffmt: write header")
	}
	for _, plane := range [][]byte{p.Max, p.Maxframe, p.Avg, p.Std} {
		if _, err := w.Write(plane); err != nil {
			return errors.Wrap(err, "ffmt: write plane")
		}
	}
	return nil
}

// WriteFile serialises hdr and p to a new file named by hdr.Filename()
// inside dir, returning the full path written. The file is created with
// mode 0644; dir is not created by WriteFile.
func WriteFile(dir string, hdr Header, p Planes) (string, error) {
	path := dir + "/" + hdr.Filename()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", errors.Wrap(err, "ffmt: open summary file")
	}
	bw := bufio.NewWriter(f)
	werr := Write(bw, hdr, p)
	if werr == nil {
		werr = bw.Flush()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", fmt.Errorf("ffmt: write summary file %s: %w", path, werr)
	}
	return path, nil
}
