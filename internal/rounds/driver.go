package rounds

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jsdraven/HashMiner_GoLang/pkg/mining"
)

// Observer is told about finished searches and completed rounds.
type Observer interface {
	SearchFinished(status mining.Status, hashes uint64, elapsed time.Duration)
	RoundCompleted(round uint64, elapsed time.Duration)
}

// Solution is the match that ended a Run.
type Solution struct {
	mining.Result
	Round   uint64
	Elapsed time.Duration // since Run began
	Hashes  uint64        // over every search Run started
}

// Driver searches round after round from index 0 until a candidate matches.
type Driver struct {
	Seed      string
	Alphabet  string
	Target    string
	RoundSize uint64
	Workers   int

	Logger   *slog.Logger   // nil discards
	Observer Observer       // optional
	Budget   *mining.Budget // nil allocates per search
}

// round tracks the tasks of one round still running.
type round struct {
	started     time.Time
	outstanding int
	hashes      uint64
	interrupted bool // a task matched or was stopped
}

type run struct {
	d      *Driver
	logger *slog.Logger
	miner  *mining.Miner
	flag   *mining.Flag
	begun  time.Time
	hashes atomic.Uint64

	mu     sync.Mutex
	rounds map[uint64]*round
	best   *Solution
}

// Run blocks until a match is found, ctx ends, a search fails, or the index
// space runs out. Only the first case returns a Solution.
func (d *Driver) Run(ctx context.Context) (*Solution, error) {
	if err := mining.Validate(d.Alphabet, 0, 0, d.Target); err != nil {
		return nil, err
	}
	if d.RoundSize == 0 {
		return nil, &mining.ArgumentError{Arg: "round", Reason: "size must be positive"}
	}
	workers := max(d.Workers, 1)
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	flag := mining.NewFlag()
	unhook := context.AfterFunc(gctx, flag.RequestStop)
	defer unhook()

	r := &run{
		d:      d,
		logger: logger,
		miner:  mining.NewMiner(mining.WithSignal(flag), mining.WithBudget(d.Budget)),
		flag:   flag,
		begun:  time.Now(),
		rounds: make(map[uint64]*round),
	}
	logger.Info("start", "seed", d.Seed, "target", d.Target, "round_size", d.RoundSize, "workers", workers)

	var planErr error
dispatch:
	for num := uint64(0); ; num++ {
		tasks, err := Plan(num, d.RoundSize, workers)
		if err != nil {
			planErr = err
			break
		}
		r.mu.Lock()
		r.rounds[num] = &round{started: time.Now(), outstanding: len(tasks)}
		r.mu.Unlock()
		for i, t := range tasks {
			// blocks while every worker is busy
			g.Go(func() error { return r.search(t) })
			if !flag.Running() {
				r.mu.Lock()
				for range tasks[i+1:] {
					r.settle(num)
				}
				r.mu.Unlock()
				break dispatch
			}
		}
	}
	waitErr := g.Wait()

	r.mu.Lock()
	best := r.best
	r.mu.Unlock()
	if best != nil {
		best.Hashes = r.hashes.Load()
		return best, nil
	}
	switch {
	case waitErr != nil:
		return nil, waitErr
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case planErr != nil:
		return nil, planErr
	}
	return nil, errors.New("rounds: stopped without a result")
}

// search runs one task and does the round bookkeeping for it.
func (r *run) search(t Task) error {
	if !r.flag.Running() {
		r.mu.Lock()
		r.settle(t.Round)
		r.mu.Unlock()
		return nil
	}
	r.logger.Debug("task_start", "round", t.Round, "part", t.Part, "start", t.Start, "end", t.End)

	began := time.Now()
	out, err := r.miner.Search([]byte(r.d.Seed), r.d.Alphabet, t.Start, t.End, r.d.Target)
	if err != nil {
		r.flag.RequestStop()
		r.mu.Lock()
		r.settle(t.Round)
		r.mu.Unlock()
		return err
	}
	r.hashes.Add(out.Hashes)
	if r.d.Observer != nil {
		r.d.Observer.SearchFinished(out.Status, out.Hashes, time.Since(began))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rs := r.rounds[t.Round]
	rs.outstanding--
	rs.hashes += out.Hashes
	switch out.Status {
	case mining.StatusFound:
		r.found(t.Round, out.Result)
		rs.interrupted = true
	case mining.StatusCancelled:
		rs.interrupted = true
	}
	if rs.outstanding > 0 {
		return nil
	}
	delete(r.rounds, t.Round)
	if rs.interrupted {
		return nil
	}

	elapsed := time.Since(rs.started)
	r.logger.Info("round_end", "round", t.Round, "hash_rate_khs", rate(rs.hashes, elapsed))
	if r.d.Observer != nil {
		r.d.Observer.RoundCompleted(t.Round, elapsed)
	}
	return nil
}

// settle retires a task of round num that ended without a full search.
// r.mu is held.
func (r *run) settle(num uint64) {
	rs := r.rounds[num]
	rs.interrupted = true
	if rs.outstanding--; rs.outstanding == 0 {
		delete(r.rounds, num)
	}
}

// found keeps the lowest-indexed match and stops every search. r.mu is held.
func (r *run) found(num uint64, res *mining.Result) {
	if r.best != nil && r.best.Index <= res.Index {
		return
	}
	elapsed := time.Since(r.begun)
	r.best = &Solution{Result: *res, Round: num, Elapsed: elapsed}
	r.flag.RequestStop()
	r.logger.Info("success",
		"value", r.d.Seed+res.Candidate,
		"candidate", res.Candidate,
		"index", res.Index,
		"digest", res.Digest,
		"round", num,
		"hash_rate_khs", rate(res.Index, elapsed),
	)
}

// rate is thousands of hashes per second.
func rate(hashes uint64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(hashes) / (1000 * secs)
}
