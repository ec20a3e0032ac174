/*
NAME
  jpeg.go

DESCRIPTION
  jpeg.go provides JPEGEncoder, the default Encoder adapter producing the
  image/jpeg content the receiver's /stack endpoint expects.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package encode

import (
	"image"
	"image/color"
	"image/jpeg"
	"io"
)

// JPEGEncoder is the default Encoder, built on the standard library's
// image/jpeg. No third-party JPEG codec is present anywhere in this
// module's dependency corpus — the one image codec library available
// there produces WebP, which cannot satisfy the receiver's fixed
// Content-Type: image/jpeg contract — so the standard library is used
// at this single externally-specified boundary.
type JPEGEncoder struct{}

// Encode reads every row of src and writes a JPEG image to dst at the
// given quality.
func (JPEGEncoder) Encode(dst io.Writer, src RowSource, quality int) error {
	w, h := src.Width(), src.Height()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := src.Row(y)
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: row[x*3], G: row[x*3+1], B: row[x*3+2], A: 255})
		}
	}
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}
