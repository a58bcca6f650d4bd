package epc

import (
	"fmt"
	"io"

	"github.com/jackc/chunkreader/v2"
)

// frameHeaderLen is the fixed width of the hex length prefix.
const frameHeaderLen = 6

// maxFrameLen is the largest payload this implementation will accept:
// 0xFFFFFF bytes, the largest length a 6-hex-digit prefix can express.
const maxFrameLen = 0xFFFFFF

// FrameBytes prepends the 6-hex-digit length header to payload.
func FrameBytes(payload []byte) []byte {
	out := make([]byte, 0, frameHeaderLen+len(payload))
	out = append(out, []byte(fmt.Sprintf("%06x", len(payload)))...)
	out = append(out, payload...)
	return out
}

// ExtractFrame consumes one frame from the front of buf if a complete
// frame is present, returning the payload, the number of bytes
// consumed, and ok. If buf holds an incomplete frame, it returns
// ok=false and leaves buf untouched (the caller is expected to retain
// buf and append more bytes before calling again).
//
// A malformed (non-hex) length prefix is a fatal InvalidMessageFormat
// error per the specification; incomplete data is not an error.
func ExtractFrame(buf []byte) (payload []byte, consumed int, ok bool, err error) {
	if len(buf) < frameHeaderLen {
		return nil, 0, false, nil
	}
	n, perr := parseHexLen(buf[:frameHeaderLen])
	if perr != nil {
		return nil, 0, false, perr
	}
	total := frameHeaderLen + n
	if len(buf) < total {
		return nil, 0, false, nil
	}
	return buf[frameHeaderLen:total], total, true, nil
}

func parseHexLen(hdr []byte) (int, error) {
	n := 0
	for _, c := range hdr {
		n <<= 4
		switch {
		case c >= '0' && c <= '9':
			n |= int(c - '0')
		case c >= 'a' && c <= 'f':
			n |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			n |= int(c-'A') + 10
		default:
			return 0, newErr(ErrInvalidMessageFormat, fmt.Sprintf("invalid hex length prefix %q", hdr))
		}
	}
	return n, nil
}

// FrameReader pulls complete EPC frames off a live byte stream. It
// wraps chunkreader.ChunkReader, the same incremental buffered reader
// used elsewhere in this codebase's lineage to read a length-prefixed
// wire header and then the exact payload it announces, without an
// intermediate bufio copy of the whole socket buffer.
type FrameReader struct {
	cr *chunkreader.ChunkReader
}

// NewFrameReader wraps r for frame-at-a-time reading.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{cr: chunkreader.NewChunkReader(r)}
}

// ReadFrame blocks until one full frame has arrived and returns its
// payload. io.EOF is returned verbatim when the peer closes cleanly
// between frames.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	hdr, err := f.cr.Next(frameHeaderLen)
	if err != nil {
		return nil, err
	}
	n, err := parseHexLen(hdr)
	if err != nil {
		return nil, err
	}
	if n > maxFrameLen {
		return nil, newErr(ErrInvalidMessageFormat, fmt.Sprintf("frame too large: %d bytes", n))
	}
	payload, err := f.cr.Next(n)
	if err != nil {
		return nil, err
	}
	// Next returns a slice backed by the reader's internal buffer,
	// which is reused on the following call; copy it out so callers
	// can hold onto it past the next ReadFrame.
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
