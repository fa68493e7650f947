package relay

import (
	"errors"
	"io"
)

var ErrBodyTooLarge = errors.New("body exceeds size limit")

// readBounded reads at most limit bytes from r. It stops as soon as one byte
// past the limit arrives, so an oversized or lying upload is never buffered
// beyond limit+1 bytes.
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, ErrBodyTooLarge
	}
	return b, nil
}
