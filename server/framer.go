package server

import (
	"bytes"
	"errors"
)

var errLineTooLong = errors.New("line too long")

// framer cuts a byte stream into `\n` terminated lines. One trailing `\r` is dropped from each
// line. max > 0 bounds the length of a line, complete or still buffered.
type framer struct {
	buf []byte
	max int
}

// feed appends p and returns the lines it completed, in order. Once errLineTooLong is returned
// the framer must not be used again.
func (f *framer) feed(p []byte) ([]string, error) {
	f.buf = append(f.buf, p...)

	var lines []string
	off := 0
	for {
		i := bytes.IndexByte(f.buf[off:], '\n')
		if i < 0 {
			break
		}
		line := f.buf[off : off+i]
		off += i + 1
		if f.max > 0 && len(line) > f.max {
			return lines, errLineTooLong
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, string(line))
	}

	// compact what is left of a partial line.
	if off > 0 {
		n := copy(f.buf, f.buf[off:])
		f.buf = f.buf[:n]
	}
	if f.max > 0 && len(f.buf) > f.max {
		return lines, errLineTooLong
	}
	return lines, nil
}

// pending returns the size of the buffered partial line.
func (f *framer) pending() int {
	return len(f.buf)
}
