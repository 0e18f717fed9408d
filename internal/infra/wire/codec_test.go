package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := DetectRequest{
		FrameID: "frame-1",
		Image:   []byte{0xff, 0xd8, 0xff},
		Width:   1920,
		Height:  1080,
		IoU:     0.45,
		Score:   0.2,
	}
	require.NoError(t, WriteMessage(&buf, req))

	var got DetectRequest
	require.NoError(t, ReadMessage(&buf, &got))
	assert.Equal(t, req, got)
}

func TestReadMessageEOF(t *testing.T) {
	var buf bytes.Buffer
	var got DetectResponse
	err := ReadMessage(&buf, &got)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(MaxMessageSize+1)))

	var got DetectResponse
	err := ReadMessage(&buf, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestWriteMessagePrefixMatchesBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, AuthRequest{Token: "secret"}))

	raw := buf.Bytes()
	require.GreaterOrEqual(t, len(raw), 4)
	size := binary.BigEndian.Uint32(raw[:4])
	assert.Equal(t, int(size), len(raw)-4)
}
