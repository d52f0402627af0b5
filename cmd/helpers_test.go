package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vulcan-sns/vulcan-reduce/internal/calib"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
)

// eraTableFor returns a single-era table pointing at the fixture's files.
func eraTableFor(t *testing.T, f *cliFixture) *calib.EraTable {
	t.Helper()
	eras, err := calib.NewEraTable([]calib.Era{{
		ValidFrom: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
		Banks: map[int]model.CalibrationFileSet{
			3: {CalibrationPath: f.cal, CharacterizationPath: f.char},
		},
	}}, time.Time{})
	require.NoError(t, err)
	return eras
}
