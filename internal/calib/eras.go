package calib

import (
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
)

// Era is one calibration period: runs acquired on or after ValidFrom (and
// before the next era) use these files, keyed by focused bank count.
type Era struct {
	ValidFrom time.Time                        `yaml:"valid_from"`
	Banks     map[int]model.CalibrationFileSet `yaml:"banks"`
}

// EraTable is an immutable, sorted list of calibration eras.
type EraTable struct {
	eras  []Era
	until time.Time
}

type eraTableFile struct {
	Until time.Time `yaml:"until"`
	Eras  []Era     `yaml:"eras"`
}

// NewEraTable sorts eras by start date. Duplicate start dates and eras without
// any bank entry are rejected. A non-zero until closes the last era.
func NewEraTable(eras []Era, until time.Time) (*EraTable, error) {
	if len(eras) == 0 {
		return nil, eris.New("calib: era table is empty")
	}
	sorted := make([]Era, len(eras))
	copy(sorted, eras)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ValidFrom.Before(sorted[j].ValidFrom) })

	for i, e := range sorted {
		if len(e.Banks) == 0 {
			return nil, eris.Errorf("calib: era starting %s has no bank entries", e.ValidFrom.Format(time.DateOnly))
		}
		if i > 0 && e.ValidFrom.Equal(sorted[i-1].ValidFrom) {
			return nil, eris.Errorf("calib: duplicate era start %s", e.ValidFrom.Format(time.DateOnly))
		}
	}
	if !until.IsZero() && !until.After(sorted[len(sorted)-1].ValidFrom) {
		return nil, eris.New("calib: era table end precedes its last era")
	}
	return &EraTable{eras: sorted, until: until}, nil
}

// LoadEraTable reads a YAML era table. An empty path returns the built-in table.
func LoadEraTable(path string) (*EraTable, error) {
	if path == "" {
		return DefaultEraTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "calib: read era table %s", path)
	}
	var f eraTableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "calib: parse era table %s", path)
	}
	return NewEraTable(f.Eras, f.Until)
}

// Index returns the era bucket for an acquisition time by right bisection
// over the start dates, or -1 when the time lies outside every era.
func (t *EraTable) Index(acquired time.Time) int {
	i := sort.Search(len(t.eras), func(i int) bool {
		return acquired.Before(t.eras[i].ValidFrom)
	})
	idx := i - 1
	if idx < 0 {
		return -1
	}
	if !t.until.IsZero() && !acquired.Before(t.until) {
		return -1
	}
	return idx
}

// Select returns the calibration files for a run acquired at the given time
// and reduced into the given number of focused banks.
func (t *EraTable) Select(acquired time.Time, focusedBanks int) (model.CalibrationFileSet, error) {
	idx := t.Index(acquired)
	if idx < 0 {
		return model.CalibrationFileSet{}, fault.Errorf(fault.KindConfig, "calib: select",
			"acquisition time %s is outside all calibration eras", acquired.Format(time.RFC3339))
	}
	set, ok := t.eras[idx].Banks[focusedBanks]
	if !ok {
		return model.CalibrationFileSet{}, fault.Errorf(fault.KindConfig, "calib: select",
			"no calibration for %d banks in era starting %s", focusedBanks, t.eras[idx].ValidFrom.Format(time.DateOnly))
	}
	return set, nil
}

const calibRoot = "/SNS/VULCAN/shared/CALIBRATION/"

// DefaultEraTable returns the production calibration history.
func DefaultEraTable() *EraTable {
	vdriveBin := calibRoot + "2017_8_11_CAL/vdrive_log_bin.txt"
	eras := []Era{
		{
			ValidFrom: time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC),
			Banks: map[int]model.CalibrationFileSet{
				3: {
					CalibrationPath:      calibRoot + "2017_8_11_CAL/VULCAN_calibrate_2017_08_17.h5",
					CharacterizationPath: calibRoot + "2017_1_7_CAL/VULCAN_char.txt",
					VDriveBinPath:        vdriveBin,
				},
			},
		},
		{
			ValidFrom: time.Date(2018, 5, 30, 0, 0, 0, 0, time.UTC),
			Banks: map[int]model.CalibrationFileSet{
				3: {
					CalibrationPath:      calibRoot + "2018_4_11_CAL/VULCAN_calibrate_2018_04_12.h5",
					CharacterizationPath: calibRoot + "2017_1_7_CAL/VULCAN_char.txt",
					VDriveBinPath:        vdriveBin,
				},
				7: {
					CalibrationPath:      calibRoot + "2018_4_11_CAL/VULCAN_calibrate_2018_04_12_7bank.h5",
					CharacterizationPath: calibRoot + "2018_4_11_CAL/VULCAN_char_7bank.txt",
					VDriveBinPath:        vdriveBin,
				},
				27: {
					CalibrationPath:      calibRoot + "2018_4_11_CAL/VULCAN_calibrate_2018_04_12_27bank.h5",
					CharacterizationPath: calibRoot + "2018_4_11_CAL/VULCAN_char_27bank.txt",
					VDriveBinPath:        vdriveBin,
				},
			},
		},
		{
			ValidFrom: time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC),
			Banks: map[int]model.CalibrationFileSet{
				3: {
					CalibrationPath:      calibRoot + "2019_1_20/VULCAN_calibrate_2019_01_21.h5",
					CharacterizationPath: calibRoot + "2019_1_20/VULCAN_char.txt",
					VDriveBinPath:        vdriveBin,
				},
				7: {
					CalibrationPath:      calibRoot + "2019_1_20/VULCAN_calibrate_2019_01_21_7bank.h5",
					CharacterizationPath: calibRoot + "2019_1_20/VULCAN_char_7bank.txt",
					VDriveBinPath:        vdriveBin,
				},
				27: {
					CalibrationPath:      calibRoot + "2019_1_20/VULCAN_calibrate_2019_01_21_27bank.h5",
					CharacterizationPath: calibRoot + "2019_1_20/VULCAN_char_27bank.txt",
					VDriveBinPath:        vdriveBin,
				},
			},
		},
	}
	t, err := NewEraTable(eras, time.Time{})
	if err != nil {
		panic(err)
	}
	return t
}
