package service

import (
	"fmt"
	"io"
	"math"

	"github.com/jsdraven/HashMiner_GoLang/pkg/mining"
)

// Candidates streams count candidates starting at index start, one per line.
// The reader holds scratch from the search budget until Close.
func (s *Service) Candidates(alphabet string, start, count uint64) (io.ReadCloser, error) {
	if err := mining.Validate(alphabet, start, start, ""); err != nil {
		return nil, err
	}
	if count > s.maxExport {
		return nil, fmt.Errorf("%w: %d candidates, limit %d: %w",
			ErrRangeTooLarge, count, s.maxExport, mining.ErrInvalidArgument)
	}
	if count > math.MaxUint64-start {
		return nil, &mining.ArgumentError{Arg: "range", Reason: "start+count overflows the index space"}
	}

	end := start + count
	scratch, release, err := s.budget.Acquire(mining.ScratchSize(end, len(alphabet)))
	if err != nil {
		return nil, err
	}
	return &candidateReader{
		alphabet: alphabet,
		next:     start,
		end:      end,
		scratch:  scratch,
		release:  release,
	}, nil
}

// candidateReader renders one candidate at a time into scratch.
type candidateReader struct {
	alphabet string
	next     uint64
	end      uint64
	scratch  []byte
	pending  []byte // unread tail of the current line
	release  func()
}

func (c *candidateReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(c.pending) == 0 {
			if c.next >= c.end {
				break
			}
			k := mining.Encode(c.scratch, c.next, c.alphabet)
			c.scratch[k] = '\n'
			c.pending = c.scratch[:k+1]
			c.next++
		}
		m := copy(p[n:], c.pending)
		c.pending = c.pending[m:]
		n += m
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (c *candidateReader) Close() error {
	c.release()
	return nil
}
