package calib

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"golang.org/x/sys/unix"

	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
)

// Validate checks that a setup can be reduced: the output directory is
// writable and the event, calibration and characterization files are readable.
// A dry run checks the output directory without creating it.
func Validate(setup *model.ReductionSetup) error {
	if setup == nil {
		return fault.New(fault.KindConfig, "calib: validate", "no reduction setup")
	}
	if err := CheckReadable(setup.EventFile); err != nil {
		return fault.Wrap(fault.KindIOAccess, "calib: validate event file", err)
	}
	if setup.CalibrationFile == "" || setup.CharacterizationFile == "" {
		return fault.New(fault.KindConfig, "calib: validate", "calibration and characterization files must be set")
	}
	if err := CheckReadable(setup.CalibrationFile); err != nil {
		return fault.Wrap(fault.KindIOAccess, "calib: validate calibration file", err)
	}
	if err := CheckReadable(setup.CharacterizationFile); err != nil {
		return fault.Wrap(fault.KindIOAccess, "calib: validate characterization file", err)
	}
	check := func(dir string) error { return CheckWritableDir(dir, true) }
	if setup.DryRun {
		check = CheckCreatableDir
	}
	if err := check(setup.OutputDir); err != nil {
		return fault.Wrap(fault.KindIOAccess, "calib: validate output directory", err)
	}
	return nil
}

// CheckReadable verifies that path is a regular file that can be opened.
func CheckReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return eris.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		return eris.Errorf("%s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "open %s", path)
	}
	return f.Close()
}

// CheckWritableDir verifies that files can be created in dir, optionally
// creating it first.
func CheckWritableDir(dir string, create bool) error {
	if create {
		if err := os.MkdirAll(dir, 0o775); err != nil {
			return eris.Wrapf(err, "create directory %s", dir)
		}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return eris.Wrapf(err, "stat %s", dir)
	}
	if !info.IsDir() {
		return eris.Errorf("%s is not a directory", dir)
	}
	probe, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return eris.Wrapf(err, "directory %s is not writable", dir)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(filepath.Clean(name))
}

// CheckCreatableDir verifies, without creating anything, that dir is a
// writable directory or could be created under its nearest existing ancestor.
func CheckCreatableDir(dir string) error {
	p := filepath.Clean(dir)
	for {
		info, err := os.Stat(p)
		if err == nil {
			if !info.IsDir() {
				return eris.Errorf("%s is not a directory", p)
			}
			if err := unix.Access(p, unix.W_OK|unix.X_OK); err != nil {
				return eris.Wrapf(err, "directory %s is not writable", p)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return eris.Wrapf(err, "stat %s", p)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return eris.Errorf("%s has no existing ancestor", dir)
		}
		p = parent
	}
}

// CheckWritableFile verifies that path can be written: an existing file must
// be writable and its directory must accept new files.
func CheckWritableFile(path string) error {
	if err := CheckWritableDir(filepath.Dir(path), false); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrapf(err, "file %s is not writable", path)
	}
	return f.Close()
}
