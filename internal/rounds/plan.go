// Package rounds drives an unbounded search over the candidate space in
// fixed-size rounds, keeping a set number of searches in flight until one
// of them finds a match.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package rounds

import (
	"errors"
	"math"

	"github.com/jsdraven/HashMiner_GoLang/pkg/mining"
)

// ErrSpaceExhausted means every 64-bit index has been planned.
var ErrSpaceExhausted = errors.New("rounds: index space exhausted")

// Task is one worker's share of a round.
type Task struct {
	Round uint64
	Part  int
	Start uint64
	End   uint64
}

// Plan splits round num of the given size into workers parts. Round num
// covers [num*size, (num+1)*size); every part gets size/workers indices and
// the last one also takes the remainder. A round too small to give each
// worker an index yields fewer tasks. The round that reaches the top of the
// index space is cut short there.
func Plan(num, size uint64, workers int) ([]Task, error) {
	if size == 0 {
		return nil, &mining.ArgumentError{Arg: "round", Reason: "size must be positive"}
	}
	if workers < 1 {
		workers = 1
	}
	if num > math.MaxUint64/size {
		return nil, ErrSpaceExhausted
	}
	start := num * size
	end := start + size
	if end < start {
		end = math.MaxUint64
	}
	if start == end {
		return nil, ErrSpaceExhausted
	}

	parts := uint64(workers)
	if span := end - start; span < parts {
		parts = span
	}
	step := (end - start) / parts

	tasks := make([]Task, parts)
	for i := range tasks {
		lo := start + uint64(i)*step
		hi := lo + step
		if i == len(tasks)-1 {
			hi = end
		}
		tasks[i] = Task{Round: num, Part: i, Start: lo, End: hi}
	}
	return tasks, nil
}
