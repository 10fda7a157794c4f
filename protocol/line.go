package protocol

import (
	"bufio"
	"errors"
	"io"
)

// MaxLineLength bounds a single command or reply line, terminator included.
const MaxLineLength = 1 << 20

var ErrLineTooLong = errors.New("protocol: line exceeds maximum length")

// ReadLine reads one '\n' terminated line and returns it without the
// terminator (a trailing '\r' is dropped as well). A stream that ends mid-line
// yields io.ErrUnexpectedEOF; a clean end of stream yields io.EOF.
func ReadLine(r *bufio.Reader, max int) (string, error) {
	if max <= 0 {
		max = MaxLineLength
	}
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > max {
			return "", ErrLineTooLong
		}
		line = append(line, chunk...)
		switch {
		case err == nil:
			line = line[:len(line)-1]
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			return string(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return "", io.EOF
			}
			return "", io.ErrUnexpectedEOF
		default:
			return "", err
		}
	}
}
