/*
NAME
  push.go

DESCRIPTION
  push.go provides Pusher, a best-effort HTTP/1.0 client that posts JSON
  event strings and file bodies to a trusted receiver over a single
  one-shot TCP connection per request.

AUTHORS
  AusOcean Night Camera Team <nightcam@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package push provides Pusher, a minimal HTTP/1.0 client for posting
// detection events and artifact bodies to a local receiver. It speaks raw
// HTTP/1.0 over a single TCP connection per request rather than using
// net/http, because the receiver's contract (Connection: close, no
// response parsing, a handful of fixed headers) does not need — and must
// not pay for — a persistent-connection HTTP/1.1 client.
package push

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/ausocean/nightcam/config"
	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"
)

const sendBlockSize = 8 * 1024

// Pusher posts to the three endpoints a receiver exposes: /event, /ff and
// /stack. All methods are best-effort: failures are logged and returned,
// never retried, never fatal to the caller's pipeline.
type Pusher struct {
	cfg config.PushConfig
	log logging.Logger
}

// New returns a Pusher for cfg.
func New(cfg config.PushConfig, log logging.Logger) *Pusher {
	return &Pusher{cfg: cfg, log: log}
}

func (p *Pusher) dial() (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", p.cfg.ServerIP, p.cfg.ServerPort)
	timeout := time.Duration(p.cfg.TimeoutMs) * time.Millisecond
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetDeadline(deadline)
	return conn, nil
}

// PostJSON posts body as application/json to /event. It returns an error
// iff the connection or any send failed; the response, if any, is never
// read.
func (p *Pusher) PostJSON(body string) error {
	conn, err := p.dial()
	if err != nil {
		p.log.Warning("push: cannot connect", "server", p.cfg.ServerIP, "port", p.cfg.ServerPort, "error", err)
		return errors.Wrap(err, "push: dial")
	}
	defer conn.Close()

	req := fmt.Sprintf(
		"POST /event HTTP/1.0\r\n"+
			"Host: %s:%d\r\n"+
			"Content-Type: application/json\r\n"+
			"Content-Length: %d\r\n"+
			"Connection: close\r\n"+
			"\r\n",
		p.cfg.ServerIP, p.cfg.ServerPort, len(body))

	if _, err := io.WriteString(conn, req); err != nil {
		p.log.Warning("push: header send failed", "error", err)
		return errors.Wrap(err, "push: send header")
	}
	if _, err := io.WriteString(conn, body); err != nil {
		p.log.Warning("push: body send failed", "error", err)
		return errors.Wrap(err, "push: send body")
	}
	return nil
}

// PostFile posts the contents of path as contentType to endpoint (e.g.
// "/ff" or "/stack"), with an X-Filename header set to basename.
func (p *Pusher) PostFile(endpoint, contentType, path, basename string) error {
	f, err := os.Open(path)
	if err != nil {
		p.log.Warning("push: cannot open file", "path", path, "error", err)
		return errors.Wrap(err, "push: open file")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		p.log.Warning("push: cannot stat file", "path", path, "error", err)
		return errors.Wrap(err, "push: stat file")
	}

	conn, err := p.dial()
	if err != nil {
		p.log.Warning("push: cannot connect", "server", p.cfg.ServerIP, "port", p.cfg.ServerPort, "error", err)
		return errors.Wrap(err, "push: dial")
	}
	defer conn.Close()

	req := fmt.Sprintf(
		"POST %s HTTP/1.0\r\n"+
			"Host: %s:%d\r\n"+
			"Content-Type: %s\r\n"+
			"Content-Length: %d\r\n"+
			"X-Filename: %s\r\n"+
			"Connection: close\r\n"+
			"\r\n",
		endpoint, p.cfg.ServerIP, p.cfg.ServerPort, contentType, st.Size(), basename)

	if _, err := io.WriteString(conn, req); err != nil {
		p.log.Warning("push: header send failed", "error", err)
		return errors.Wrap(err, "push: send header")
	}

	buf := make([]byte, sendBlockSize)
	r := bufio.NewReaderSize(f, sendBlockSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				p.log.Warning("push: body send failed", "error", werr)
				return errors.Wrap(werr, "push: send body")
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			p.log.Warning("push: file read failed", "error", rerr)
			return errors.Wrap(rerr, "push: read file")
		}
	}
	return nil
}

// PostFF posts the summary binary at path to /ff.
func (p *Pusher) PostFF(path, basename string) error {
	return p.PostFile("/ff", "application/octet-stream", path, basename)
}

// PostStack posts the encoded stack image at path to /stack.
func (p *Pusher) PostStack(path, basename string) error {
	return p.PostFile("/stack", "image/jpeg", path, basename)
}
