package docker

import (
	"encoding/binary"
	"fmt"
	"io"
)

// stdoutStream is the daemon's frame type for stdout.
const stdoutStream = 0x01

// demuxReader reassembles the Docker attach multiplexing into a logical
// stdout byte stream. The daemon frames every chunk with an 8-byte
// header: 1 byte stream type, 3 reserved, 4 bytes big-endian length.
// Only stdout frames are kept; stderr and anything else is discarded.
type demuxReader struct {
	src io.Reader
	cur []byte
	eof bool
}

func newDemuxReader(src io.Reader) *demuxReader {
	return &demuxReader{src: src}
}

func (d *demuxReader) Read(p []byte) (int, error) {
	for len(d.cur) == 0 {
		if d.eof {
			return 0, io.EOF
		}
		if err := d.nextFrame(); err != nil {
			return 0, err
		}
	}
	n := copy(p, d.cur)
	d.cur = d.cur[n:]
	return n, nil
}

func (d *demuxReader) nextFrame() error {
	var hdr [8]byte
	_, err := io.ReadFull(d.src, hdr[:])
	if err == io.EOF {
		d.eof = true
		return nil
	}
	if err != nil {
		// A torn header is a protocol violation, not end of stream.
		return fmt.Errorf("op=docker.demux header: %w", err)
	}
	size := binary.BigEndian.Uint32(hdr[4:])
	body := make([]byte, size)
	if _, err := io.ReadFull(d.src, body); err != nil {
		return fmt.Errorf("op=docker.demux body: %w", err)
	}
	if hdr[0] == stdoutStream {
		d.cur = body
	}
	return nil
}
