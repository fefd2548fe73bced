package mining

import (
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"fmt"
)

// DigestHexLen is the length of a rendered SHA-256 digest.
const DigestHexLen = sha256.Size * 2

// Status is how a search ended.
type Status int

const (
	// StatusExhausted means every index in the range was tried.
	StatusExhausted Status = iota
	// StatusFound means a candidate matched the target.
	StatusFound
	// StatusCancelled means the search observed a stop signal.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusCancelled:
		return "cancelled"
	default:
		return "exhausted"
	}
}

// Result is a matching candidate.
type Result struct {
	Candidate string // appended to the seed
	Digest    string // full lowercase hex SHA-256 of seed+candidate
	Index     uint64
}

// Outcome is the detailed result of Search.
type Outcome struct {
	Status Status
	Result *Result // set only when Status is StatusFound
	Hashes uint64  // digests computed
}

type options struct {
	signal   Signal
	budget   *Budget
	interval uint64
}

// Option configures a Miner.
type Option func(*options)

// WithSignal sets the stop signal polled by the search loop. A nil signal
// selects the process-wide flag.
func WithSignal(s Signal) Option {
	return func(o *options) {
		if s == nil {
			s = &defaultFlag
		}
		o.signal = s
	}
}

// WithBudget makes every search of the Miner take its scratch from b, so
// searches sharing b fail with ErrOutOfMemory once b is used up. A nil budget
// gives each call its own allocation.
func WithBudget(b *Budget) Option {
	return func(o *options) {
		o.budget = b
	}
}

// WithCheckInterval polls the signal every n iterations instead of every
// iteration. Values below 1 are treated as 1.
func WithCheckInterval(n uint64) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.interval = n
	}
}

// Miner runs searches. It holds no per-search state and is safe for
// concurrent use; each call owns its scratch buffer and hash state.
type Miner struct {
	signal   Signal
	budget   *Budget
	interval uint64
}

// NewMiner returns a Miner watching the process-wide flag and allocating
// scratch per call unless options say otherwise.
func NewMiner(opts ...Option) *Miner {
	o := options{signal: &defaultFlag, interval: 1}
	for _, fn := range opts {
		fn(&o)
	}
	return &Miner{signal: o.signal, budget: o.budget, interval: o.interval}
}

// Mine returns the lowest-indexed candidate in [start, end) whose digest of
// seed+candidate starts with target, or nil when the range is exhausted or the
// search was stopped. The two nil cases are not distinguished; use Search for
// that.
func (m *Miner) Mine(seed []byte, alphabet string, start, end uint64, target string) (*Result, error) {
	out, err := m.Search(seed, alphabet, start, end, target)
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

// Search is Mine with the reason the search ended and the number of hashes
// computed.
//
// Search blocks the calling goroutine for the whole search and takes no lock,
// so any number of searches may run in parallel.
func (m *Miner) Search(seed []byte, alphabet string, start, end uint64, target string) (Outcome, error) {
	if err := Validate(alphabet, start, end, target); err != nil {
		return Outcome{}, err
	}

	scratch, release, err := acquireScratch(m.budget, ScratchSize(end, len(alphabet)))
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	h := sha256.New()
	h.Write(seed)
	seeded, err := h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return Outcome{}, fmt.Errorf("mining: capture seed state: %w", err)
	}
	restore := h.(encoding.BinaryUnmarshaler)

	var (
		sum    [sha256.Size]byte
		hexbuf [DigestHexLen]byte
		hashes uint64
	)
	// Only the digest bytes covering the target need rendering per iteration.
	cmpBytes := (len(target) + 1) / 2
	countdown := uint64(1)

	for i := start; i < end; i++ {
		countdown--
		if countdown == 0 {
			if !m.signal.Running() {
				return Outcome{Status: StatusCancelled, Hashes: hashes}, nil
			}
			countdown = m.interval
		}

		n := Encode(scratch, i, alphabet)
		if err := restore.UnmarshalBinary(seeded); err != nil {
			return Outcome{}, fmt.Errorf("mining: restore seed state: %w", err)
		}
		h.Write(scratch[:n])
		h.Sum(sum[:0])
		hashes++

		hex.Encode(hexbuf[:], sum[:cmpBytes])
		if string(hexbuf[:len(target)]) != target {
			continue
		}

		hex.Encode(hexbuf[:], sum[:])
		return Outcome{
			Status: StatusFound,
			Result: &Result{
				Candidate: string(scratch[:n]),
				Digest:    string(hexbuf[:]),
				Index:     i,
			},
			Hashes: hashes,
		}, nil
	}

	return Outcome{Status: StatusExhausted, Hashes: hashes}, nil
}

// Verify hashes seed+candidate and reports whether the digest starts with
// target.
func Verify(seed []byte, candidate string, target string) (digest string, ok bool) {
	h := sha256.New()
	h.Write(seed)
	h.Write([]byte(candidate))
	digest = hex.EncodeToString(h.Sum(nil))
	return digest, len(target) <= len(digest) && digest[:len(target)] == target
}

// Mine runs Miner.Mine on the process-wide flag.
func Mine(seed []byte, alphabet string, start, end uint64, target string) (*Result, error) {
	return NewMiner().Mine(seed, alphabet, start, end, target)
}

// Search runs Miner.Search on the process-wide flag.
func Search(seed []byte, alphabet string, start, end uint64, target string) (Outcome, error) {
	return NewMiner().Search(seed, alphabet, start, end, target)
}
