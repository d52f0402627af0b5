package record

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/config"
	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/tabular"
)

// Mode selects how Export treats an existing target.
type Mode int

const (
	// ModeAppend adds the row to the end of the file.
	ModeAppend Mode = iota
	// ModeNew backs up any existing file and starts a fresh one.
	ModeNew
)

func (m Mode) String() string {
	if m == ModeNew {
		return "new"
	}
	return "append"
}

const lockRetryDelay = 100 * time.Millisecond

// Exporter appends records to record files. Writers to the same file are
// serialized with an advisory lock file next to the target.
type Exporter struct {
	lockTimeout time.Duration
	xlsxMirror  bool
}

// NewExporter creates an Exporter from the record configuration.
func NewExporter(cfg config.RecordConfig) *Exporter {
	timeout := time.Duration(cfg.LockTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Exporter{lockTimeout: timeout, xlsxMirror: cfg.XLSXMirror}
}

// Export writes rec to path. A missing file is always created new. In
// ModeNew an existing file is first moved to a numbered backup. A header
// row is written whenever the file is started.
func (e *Exporter) Export(ctx context.Context, rec *Record, path string, mode Mode) error {
	unlock, err := e.lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	exists, empty := statTarget(path)
	if !exists {
		mode = ModeNew
	}
	if mode == ModeNew && exists {
		if _, err := backup(path); err != nil {
			return fault.Wrap(fault.KindIOAccess, "record: export", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if mode == ModeNew {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o664)
	if err != nil {
		return fault.Wrap(fault.KindIOAccess, "record: export", eris.Wrapf(err, "open %s", path))
	}

	var sb strings.Builder
	if mode == ModeNew || empty {
		sb.WriteString(tabular.FormatRow(rec.Header(), '\t'))
	} else if err := ensureNewline(path); err != nil {
		_ = f.Close()
		return fault.Wrap(fault.KindIOAccess, "record: export", err)
	}
	sb.WriteString(tabular.FormatRow(rec.Row(), '\t'))

	if _, err := f.WriteString(sb.String()); err != nil {
		_ = f.Close()
		return fault.Wrap(fault.KindIOAccess, "record: export", eris.Wrapf(err, "write %s", path))
	}
	if err := f.Close(); err != nil {
		return fault.Wrap(fault.KindIOAccess, "record: export", eris.Wrapf(err, "close %s", path))
	}
	OpenPermissions(path)

	zap.L().Info("record: exported",
		zap.String("path", path),
		zap.String("mode", mode.String()),
	)

	if e.xlsxMirror {
		mirror := strings.TrimSuffix(path, ".txt") + ".xlsx"
		if err := WriteXLSXMirror(ctx, path, mirror); err != nil {
			zap.L().Warn("record: xlsx mirror failed", zap.String("path", mirror), zap.Error(err))
		}
	}
	return nil
}

// DuplicateIfAbsent copies src to dst when dst does not exist; otherwise rec
// is appended to dst so rows already in the copy are kept.
func (e *Exporter) DuplicateIfAbsent(ctx context.Context, src, dst string, rec *Record) error {
	if fileExists(dst) {
		return e.Export(ctx, rec, dst, ModeAppend)
	}

	unlock, err := e.lock(ctx, dst)
	if err != nil {
		return err
	}
	defer unlock()

	if err := copyFile(src, dst); err != nil {
		return fault.Wrap(fault.KindIOAccess, "record: duplicate", err)
	}
	OpenPermissions(dst)
	return nil
}

func (e *Exporter) lock(ctx context.Context, path string) (func(), error) {
	fl := flock.New(path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	ok, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		return nil, fault.Wrap(fault.KindIOAccess, "record: lock", eris.Wrapf(err, "lock %s", path))
	}
	if !ok {
		return nil, fault.Errorf(fault.KindIOAccess, "record: lock", "timed out waiting for lock on %s", path)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			zap.L().Warn("record: release lock", zap.String("path", path), zap.Error(err))
		}
	}, nil
}

func statTarget(path string) (exists, empty bool) {
	info, err := os.Stat(path)
	if err != nil {
		return false, true
	}
	return true, info.Size() == 0
}

// ensureNewline appends a newline to a file whose last byte is not one, so
// an appended row never joins a truncated line.
func ensureNewline(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "stat %s", path)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.WriteAt([]byte{'\n'}, info.Size()); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "open %s", src)
	}
	defer in.Close() //nolint:errcheck

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o664)
	if err != nil {
		return eris.Wrapf(err, "create %s", dst)
	}
	w := bufio.NewWriter(out)
	if _, err := io.Copy(w, in); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "copy %s to %s", src, dst)
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "flush %s", dst)
	}
	if err := out.Close(); err != nil {
		return eris.Wrapf(err, "close %s", dst)
	}
	return nil
}

// CopyFile byte-copies src to dst, replacing dst only after the copy
// succeeds, and opens its permissions.
func CopyFile(src, dst string) error {
	tmp := dst + ".partial"
	_ = os.Remove(tmp)
	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return fault.Wrap(fault.KindIOAccess, "record: copy", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fault.Wrap(fault.KindIOAccess, "record: copy", eris.Wrapf(err, "rename %s", tmp))
	}
	OpenPermissions(dst)
	return nil
}
