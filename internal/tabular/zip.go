package tabular

import (
	"archive/zip"
	"io"
	"path"

	"github.com/rotisserie/eris"
)

// maxEntryBytes bounds how much of a single archive member is read into memory.
const maxEntryBytes = 16 << 20

// ReadZIPEntry returns the contents of the named member of a ZIP container.
// The name is matched exactly first, then by base name.
func ReadZIPEntry(zipPath, name string) ([]byte, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	var match *zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.Name == name {
			match = f
			break
		}
		if match == nil && path.Base(f.Name) == name {
			match = f
		}
	}
	if match == nil {
		return nil, eris.Errorf("zip: member %q not found in %s", name, zipPath)
	}

	rc, err := match.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open member %q", match.Name)
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read member %q", match.Name)
	}
	if len(data) > maxEntryBytes {
		return nil, eris.Errorf("zip: member %q exceeds %d bytes", match.Name, maxEntryBytes)
	}
	return data, nil
}
