package vanadium

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
)

// State is the lifecycle state of a Matcher.
type State int

const (
	Uninitialized State = iota
	Loaded
	Matched
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Matched:
		return "matched"
	default:
		return "uninitialized"
	}
}

var (
	// ErrNoMatch means every vanadium candidate was eliminated.
	ErrNoMatch = eris.New("no vanadium match")
	// ErrAmbiguous means more than one vanadium candidate survived.
	ErrAmbiguous = eris.New("ambiguous vanadium match")
	// ErrNotLoaded means Match was called before Load.
	ErrNotLoaded = eris.New("vanadium: tables not loaded")
)

// MatchResult is the outcome of matching a set of sample runs.
type MatchResult struct {
	Matches   map[int]int   `json:"matches"`
	Missing   []int         `json:"missing,omitempty"`
	Ambiguous map[int][]int `json:"ambiguous,omitempty"`
}

// Matcher matches sample runs to vanadium runs. Tables are loaded once and
// matching may be repeated with different criteria.
type Matcher struct {
	mu       sync.Mutex
	state    State
	vanadium *Table
	samples  *Table
	last     *MatchResult
}

// NewMatcher creates an uninitialized Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Load installs the vanadium and sample tables.
func (m *Matcher) Load(vanadium, samples *Table) error {
	if vanadium == nil || samples == nil {
		return eris.New("vanadium: both tables are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vanadium = vanadium
	m.samples = samples
	m.state = Loaded
	m.last = nil
	return nil
}

// LoadFiles imports both record files and loads them.
func (m *Matcher) LoadFiles(ctx context.Context, vanadiumPath, samplePath string) error {
	van, err := ImportAttributeTable(ctx, vanadiumPath)
	if err != nil {
		return err
	}
	samples, err := ImportAttributeTable(ctx, samplePath)
	if err != nil {
		return err
	}
	return m.Load(van, samples)
}

// State returns the current lifecycle state.
func (m *Matcher) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Last returns the result of the most recent Match, if any.
func (m *Matcher) Last() (*MatchResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.last != nil
}

// Match matches each run (every sample run when runs is empty). Runs without
// exactly one candidate are left out of Matches and reported in Missing or
// Ambiguous.
func (m *Matcher) Match(runs []int, criteria []Criterion) (*MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Uninitialized {
		return nil, ErrNotLoaded
	}
	if len(runs) == 0 {
		runs = m.samples.Runs()
	}

	res := &MatchResult{Matches: make(map[int]int), Ambiguous: make(map[int][]int)}
	for _, run := range runs {
		candidates, err := m.candidates(run, criteria)
		switch {
		case err != nil || len(candidates) == 0:
			res.Missing = append(res.Missing, run)
			zap.L().Warn("vanadium: no match for run", zap.Int("run", run), zap.Error(err))
		case len(candidates) > 1:
			res.Ambiguous[run] = candidates
			zap.L().Warn("vanadium: ambiguous match for run",
				zap.Int("run", run), zap.Ints("candidates", candidates))
		default:
			res.Matches[run] = candidates[0]
		}
	}
	m.state = Matched
	m.last = res
	return res, nil
}

// MatchRun matches a single run. A missing or ambiguous match is returned as
// a KindMatch error wrapping ErrNoMatch or ErrAmbiguous.
func (m *Matcher) MatchRun(run int, criteria []Criterion) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Uninitialized {
		return 0, ErrNotLoaded
	}
	candidates, err := m.candidates(run, criteria)
	if err != nil {
		return 0, fault.Wrap(fault.KindMatch, "vanadium: match run", eris.Wrapf(ErrNoMatch, "run %d: %v", run, err))
	}
	switch len(candidates) {
	case 0:
		return 0, fault.Wrap(fault.KindMatch, "vanadium: match run", eris.Wrapf(ErrNoMatch, "run %d", run))
	case 1:
		m.state = Matched
		return candidates[0], nil
	default:
		return 0, fault.Wrap(fault.KindMatch, "vanadium: match run",
			eris.Wrapf(ErrAmbiguous, "run %d: candidates %v", run, candidates))
	}
}

// candidates eliminates vanadium runs criterion by criterion.
func (m *Matcher) candidates(run int, criteria []Criterion) ([]int, error) {
	if !m.samples.Has(run) {
		return nil, eris.Errorf("run %d is not in the sample record %s", run, m.samples.Path)
	}
	remaining := m.vanadium.Runs()
	for _, c := range criteria {
		want, ok := m.samples.Lookup(run, c.LogName)
		if !ok {
			return nil, eris.Errorf("run %d has no %s attribute", run, c.LogName)
		}
		kept := remaining[:0]
		for _, v := range remaining {
			have, ok := m.vanadium.Lookup(v, c.LogName)
			if ok && c.Equal(want, have) {
				kept = append(kept, v)
			}
		}
		remaining = kept
		if len(remaining) == 0 {
			break
		}
	}
	sort.Ints(remaining)
	return remaining, nil
}
