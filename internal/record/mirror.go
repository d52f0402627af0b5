package record

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/tabular"
)

// WriteXLSXMirror rewrites a tab-separated record file as a spreadsheet.
// The first row of the record file becomes the sheet header.
func WriteXLSXMirror(ctx context.Context, recordPath, xlsxPath string) error {
	rows, err := tabular.ReadFile(ctx, recordPath, tabular.Options{Comment: '#'})
	if err != nil {
		return fault.Wrap(fault.KindIOAccess, "record: xlsx mirror", err)
	}
	if len(rows) == 0 {
		return fault.Errorf(fault.KindParse, "record: xlsx mirror", "%s is empty", recordPath)
	}
	body := make([][]string, 0, len(rows)-1)
	for _, r := range rows[1:] {
		body = append(body, r.Fields)
	}
	sheet := strings.TrimSuffix(filepath.Base(recordPath), filepath.Ext(recordPath))
	if err := tabular.WriteXLSX(xlsxPath, sheet, rows[0].Fields, body); err != nil {
		return fault.Wrap(fault.KindIOAccess, "record: xlsx mirror", err)
	}
	OpenPermissions(xlsxPath)
	return nil
}
