// Package scan extracts floating-point values from a raw byte stream.
//
// A numeric entity is a maximal run of digits, '.' and '-' characters.
// Entities are parsed lazily: the stream is only consumed as far as the
// caller asks.
package scan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// MaxTokenLen bounds the length of a single numeric entity.
// Longer runs are consumed whole and reported via ErrTokenTooLong.
const MaxTokenLen = 512

var (
	// ErrBadToken indicates an entity that does not fully parse as a
	// base-10 floating-point literal, e.g. "12.3.4" or "--5".
	ErrBadToken = errors.New("not a floating-point literal")

	// ErrTokenTooLong indicates an entity longer than MaxTokenLen.
	ErrTokenTooLong = errors.New("entity overflows token buffer")
)

// A Scanner yields a finite lazy sequence of floating-point values
// parsed from a reader.
type Scanner struct {
	r   *bufio.Reader
	buf []byte
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{
		r:   bufio.NewReader(r),
		buf: make([]byte, 0, MaxTokenLen),
	}
}

func isNumericChar(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == '-'
}

// Next consumes the next numeric entity and returns its value.
//
// It returns io.EOF once the input is exhausted, an error wrapping
// ErrBadToken or ErrTokenTooLong for a skippable entity (the entity is
// fully consumed in both cases), and any other error verbatim for an
// underlying read failure.
func (s *Scanner) Next() (float64, error) {
	for {
		c, err := s.r.ReadByte()
		if err == io.EOF {
			return 0, io.EOF
		} else if err != nil {
			return 0, err
		}
		if !isNumericChar(c) {
			continue
		}

		s.buf = append(s.buf[:0], c)
		overflow := false
		for {
			c, err = s.r.ReadByte()
			if err == io.EOF {
				break
			} else if err != nil {
				return 0, err
			}
			if !isNumericChar(c) {
				break
			}
			if len(s.buf) == MaxTokenLen {
				overflow = true
				continue
			}
			s.buf = append(s.buf, c)
		}
		if overflow {
			return 0, fmt.Errorf("entity longer than %d bytes: %w", MaxTokenLen, ErrTokenTooLong)
		}

		val, parseErr := strconv.ParseFloat(string(s.buf), 64)
		if parseErr != nil {
			return 0, fmt.Errorf("invalid entity (%q): %w", string(s.buf), ErrBadToken)
		}
		return val, nil
	}
}

// More reports whether another numeric entity begins before the end of
// the input. The entity itself is not consumed or parsed; a following
// Next call returns it.
func (s *Scanner) More() (bool, error) {
	for {
		c, err := s.r.ReadByte()
		if err == io.EOF {
			return false, nil
		} else if err != nil {
			return false, err
		}
		if isNumericChar(c) {
			if err := s.r.UnreadByte(); err != nil {
				return false, err
			}
			return true, nil
		}
	}
}
