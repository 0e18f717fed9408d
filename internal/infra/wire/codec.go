package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Messages are framed as a 4-byte big-endian byte length followed by the
// msgpack body, so both sides can detect message boundaries on the stream.
const MaxMessageSize = 64 << 20

func WriteMessage(w io.Writer, v interface{}) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(body) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(body))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func ReadMessage(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("read length prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}
