package docker

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func muxFrame(stream byte, body []byte) []byte {
	hdr := make([]byte, 8)
	hdr[0] = stream
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(body)))
	return append(hdr, body...)
}

func TestDemuxKeepsStdout(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(muxFrame(0x01, []byte("hello ")))
	buf.Write(muxFrame(0x01, []byte("world")))

	got, err := io.ReadAll(newDemuxReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestDemuxDiscardsStderr(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(muxFrame(0x01, []byte("out1")))
	buf.Write(muxFrame(0x02, []byte("noise on stderr")))
	buf.Write(muxFrame(0x01, []byte("out2")))

	got, err := io.ReadAll(newDemuxReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, []byte("out1out2"), got)
}

func TestDemuxEmptyStream(t *testing.T) {
	got, err := io.ReadAll(newDemuxReader(bytes.NewReader(nil)))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDemuxEmptyFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(muxFrame(0x01, nil))
	buf.Write(muxFrame(0x01, []byte("x")))

	got, err := io.ReadAll(newDemuxReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestDemuxSmallReads(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(muxFrame(0x01, []byte("abcdef")))

	r := newDemuxReader(&buf)
	p := make([]byte, 2)
	var got []byte
	for {
		n, err := r.Read(p)
		got = append(got, p[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, []byte("abcdef"), got)
}

func TestDemuxTornHeaderIsError(t *testing.T) {
	buf := bytes.NewReader([]byte{0x01, 0x00, 0x00})
	_, err := io.ReadAll(newDemuxReader(buf))
	assert.Error(t, err)
}

func TestDemuxTornBodyIsError(t *testing.T) {
	frame := muxFrame(0x01, []byte("full body"))
	buf := bytes.NewReader(frame[:10])
	_, err := io.ReadAll(newDemuxReader(buf))
	assert.Error(t, err)
}
