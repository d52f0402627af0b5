package record

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/tabular"
)

// MaxBackups is the number of numbered backup slots per file.
const MaxBackups = 99

// NextBackupName returns the first free name_NN.ext slot for path, with NN
// from 01 to 99. When every slot is taken the last one is returned and will
// be overwritten.
func NextBackupName(path string, exists func(string) bool) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	var name string
	for i := 1; i <= MaxBackups; i++ {
		name = fmt.Sprintf("%s_%02d%s", stem, i, ext)
		if !exists(name) {
			return name
		}
	}
	return name
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// backup renames an existing file to its next backup slot.
func backup(path string) (string, error) {
	name := NextBackupName(path, fileExists)
	if err := os.Rename(path, name); err != nil {
		return "", eris.Wrapf(err, "record: back up %s", path)
	}
	zap.L().Info("record: backed up existing file", zap.String("path", path), zap.String("backup", name))
	return name, nil
}

// GenerateTabularLog writes a tab-separated table to path, first moving any
// existing file to a numbered backup. The written path is returned.
func GenerateTabularLog(path string, header []string, rows [][]string) (string, error) {
	if fileExists(path) {
		if _, err := backup(path); err != nil {
			return "", fault.Wrap(fault.KindIOAccess, "record: generate log", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o664)
	if err != nil {
		return "", fault.Wrap(fault.KindIOAccess, "record: generate log", eris.Wrapf(err, "create %s", path))
	}
	var sb strings.Builder
	sb.WriteString(tabular.FormatRow(header, '\t'))
	for _, row := range rows {
		sb.WriteString(tabular.FormatRow(row, '\t'))
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		_ = f.Close()
		return "", fault.Wrap(fault.KindIOAccess, "record: generate log", eris.Wrapf(err, "write %s", path))
	}
	if err := f.Close(); err != nil {
		return "", fault.Wrap(fault.KindIOAccess, "record: generate log", eris.Wrapf(err, "close %s", path))
	}
	OpenPermissions(path)
	return path, nil
}

// OpenPermissions makes path group- and world-writable. Failure is logged
// only.
func OpenPermissions(path string) {
	if err := os.Chmod(path, 0o666); err != nil {
		zap.L().Warn("record: could not open file permissions", zap.String("path", path), zap.Error(err))
	}
}
