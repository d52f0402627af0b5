package binning

import (
	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
)

// layout is the spectrum split of one detector configuration. Low-resolution
// (west and east) spectra come first, high-angle spectra last.
type layout struct {
	lowLast   int
	highFirst int
	highLast  int
}

var layouts = map[int]layout{
	3:  {lowLast: 1, highFirst: 2, highLast: 2},
	7:  {lowLast: 5, highFirst: 6, highLast: 6},
	27: {lowLast: 17, highFirst: 18, highLast: 26},
}

// SupportedBanks lists the bank counts a scheme can be built for.
func SupportedBanks() []int {
	return []int{3, 7, 27}
}

func layoutFor(banks int) (layout, error) {
	l, ok := layouts[banks]
	if !ok {
		return layout{}, fault.Errorf(fault.KindUnsupportedBankCount, "binning: layout",
			"unsupported bank count %d (supported: 3, 7, 27)", banks)
	}
	return l, nil
}
