// Package binning builds per-bank binning schemes for GSAS export.
package binning

import (
	"fmt"
	"strconv"

	"github.com/vulcan-sns/vulcan-reduce/internal/model"
)

// Resolution distinguishes the two bin families of a scheme.
type Resolution string

const (
	LowResolution  Resolution = "low"
	HighResolution Resolution = "high"
)

// Group assigns one bin specification to a contiguous spectrum range.
// Exactly one of Params and Edges is set.
type Group struct {
	Resolution Resolution       `json:"resolution"`
	First      int              `json:"first"`
	Last       int              `json:"last"`
	Merged     bool             `json:"merged,omitempty"`
	Params     *model.BinParams `json:"params,omitempty"`
	Edges      []float64        `json:"edges,omitempty"`
}

// Range renders the spectrum range as "a-b" or "a".
func (g Group) Range() string {
	if g.First == g.Last {
		return strconv.Itoa(g.First)
	}
	return fmt.Sprintf("%d-%d", g.First, g.Last)
}

// Describe summarizes the bin specification.
func (g Group) Describe() string {
	if g.Params != nil {
		return "parametric " + g.Params.String()
	}
	if len(g.Edges) == 0 {
		return "empty"
	}
	return fmt.Sprintf("%d edges %g..%g", len(g.Edges), g.Edges[0], g.Edges[len(g.Edges)-1])
}

// Scheme is an ordered list of groups covering spectra 0..Spectra()-1.
// Schemes returned by a Builder are shared and must not be modified.
type Scheme struct {
	Banks  int     `json:"banks"`
	Source string  `json:"source,omitempty"`
	Groups []Group `json:"groups"`
}

// Explicit reports whether the scheme was built from a bin-edge file.
func (s *Scheme) Explicit() bool {
	return s.Source != ""
}

// Spectra returns the number of output spectra: every bank, with a merged
// group counting as one.
func (s *Scheme) Spectra() int {
	n := 0
	for _, g := range s.Groups {
		if g.Merged {
			n++
			continue
		}
		n += g.Last - g.First + 1
	}
	return n
}
