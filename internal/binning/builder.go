package binning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vulcan-sns/vulcan-reduce/internal/config"
	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
)

// DefaultHighAngleStep is the logarithmic step of the high-angle group in a
// parametric scheme.
const DefaultHighAngleStep = -0.0003

type cacheKey struct {
	banks    int
	merge    bool
	path     string
	size     int64
	modUnix  int64
	fallback model.BinParams
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%d|%t|%s|%d|%d|%s", k.banks, k.merge, k.path, k.size, k.modUnix, k.fallback)
}

// Builder builds and caches binning schemes. The cache never evicts; its key
// space is the handful of bank counts and bin files used by one process.
type Builder struct {
	highAngleStep float64

	mu     sync.RWMutex
	cache  map[cacheKey]*Scheme
	flight singleflight.Group
	loads  atomic.Int64
}

// NewBuilder creates a Builder from the binning configuration.
func NewBuilder(cfg config.BinningConfig) *Builder {
	step := cfg.HighAngleStep
	if step == 0 {
		step = DefaultHighAngleStep
	}
	return &Builder{
		highAngleStep: step,
		cache:         make(map[cacheKey]*Scheme),
	}
}

// Loads returns how many bin files have been parsed.
func (b *Builder) Loads() int64 {
	return b.loads.Load()
}

// Build returns the scheme for a bank count. With a bin file, both groups use
// explicit edges read from it; otherwise the low-resolution group uses
// fallback and the high-angle group the same range with a finer log step.
// mergeHighAngle focuses all high-angle spectra into one.
func (b *Builder) Build(ctx context.Context, banks int, binFile string, fallback model.BinParams, mergeHighAngle bool) (*Scheme, error) {
	lay, err := layoutFor(banks)
	if err != nil {
		return nil, err
	}

	key := cacheKey{banks: banks, merge: mergeHighAngle}
	if binFile != "" {
		abs, err := filepath.Abs(binFile)
		if err != nil {
			return nil, fault.Wrap(fault.KindIOAccess, "binning: build", eris.Wrapf(err, "resolve %s", binFile))
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fault.Wrap(fault.KindIOAccess, "binning: build", eris.Wrapf(err, "stat %s", abs))
		}
		key.path = abs
		key.size = info.Size()
		key.modUnix = info.ModTime().UnixNano()
	} else {
		if fallback.Min >= fallback.Max || fallback.Step == 0 {
			return nil, fault.Errorf(fault.KindConfig, "binning: build", "invalid fallback binning %s", fallback)
		}
		key.fallback = fallback
	}

	b.mu.RLock()
	cached, ok := b.cache[key]
	b.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := b.flight.Do(key.String(), func() (any, error) {
		b.mu.RLock()
		cached, ok := b.cache[key]
		b.mu.RUnlock()
		if ok {
			return cached, nil
		}

		var (
			s   *Scheme
			err error
		)
		if key.path != "" {
			s, err = b.buildExplicit(ctx, banks, lay, key.path, mergeHighAngle)
		} else {
			s = b.buildParametric(banks, lay, fallback, mergeHighAngle)
		}
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.cache[key] = s
		b.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Scheme), nil
}

func (b *Builder) buildExplicit(ctx context.Context, banks int, lay layout, path string, merge bool) (*Scheme, error) {
	b.loads.Add(1)
	low, high, err := readBinFile(ctx, path)
	if err != nil {
		return nil, err
	}
	lowEdges, err := ExtrapolateEdges(low)
	if err != nil {
		return nil, fault.Wrap(fault.KindParse, "binning: low resolution edges", err)
	}
	highEdges, err := ExtrapolateEdges(high)
	if err != nil {
		return nil, fault.Wrap(fault.KindParse, "binning: high resolution edges", err)
	}

	zap.L().Debug("binning: loaded bin file",
		zap.String("path", path),
		zap.Int("banks", banks),
		zap.Int("low_edges", len(lowEdges)),
		zap.Int("high_edges", len(highEdges)),
	)

	return &Scheme{
		Banks:  banks,
		Source: path,
		Groups: []Group{
			{Resolution: LowResolution, First: 0, Last: lay.lowLast, Edges: lowEdges},
			{Resolution: HighResolution, First: lay.highFirst, Last: lay.highLast, Merged: merge && lay.highLast > lay.highFirst, Edges: highEdges},
		},
	}, nil
}

func (b *Builder) buildParametric(banks int, lay layout, fallback model.BinParams, merge bool) *Scheme {
	low := fallback
	high := model.BinParams{Min: fallback.Min, Step: b.highAngleStep, Max: fallback.Max}
	return &Scheme{
		Banks: banks,
		Groups: []Group{
			{Resolution: LowResolution, First: 0, Last: lay.lowLast, Params: &low},
			{Resolution: HighResolution, First: lay.highFirst, Last: lay.highLast, Merged: merge && lay.highLast > lay.highFirst, Params: &high},
		},
	}
}
