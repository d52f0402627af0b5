package record

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulcan-sns/vulcan-reduce/internal/config"
	"github.com/vulcan-sns/vulcan-reduce/internal/engine"
	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/tabular"
	"github.com/vulcan-sns/vulcan-reduce/internal/vanadium"
)

func testRun(run int) *engine.Focused {
	start := time.Date(2019, 7, 1, 10, 0, 0, 0, time.UTC)
	return &engine.Focused{
		Handle:    "ws",
		RunNumber: run,
		Title:     "Si standard 300K",
		RunStart:  start,
		RunEnd:    start.Add(90 * time.Minute),
		Logs: map[string]engine.Series{
			"proton_charge": {Times: []float64{0, 60, 120}, Values: []float64{1, 2, 3}},
			"furnace.temp1": {Times: []float64{0, 30}, Values: []float64{300, 310}},
			"furnace.power": {Times: []float64{15}, Values: []float64{0.5}},
			"skf1.speed":    {Times: []float64{0}, Values: []float64{60}},
		},
		Attributes: map[string]string{"Sample": "Si640f", "total_counts": "123456"},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func testExporter() *Exporter {
	return NewExporter(config.RecordConfig{LockTimeoutSecs: 2})
}

func TestNew_Record(t *testing.T) {
	rec := New(DefaultSchema(), testRun(12345), 9000, map[string]string{"Notes": "patched"})

	get := func(title string) string {
		v, ok := rec.Get(title)
		require.True(t, ok, title)
		return v
	}
	assert.Equal(t, "12345", get("RUN"))
	assert.Equal(t, "9000", get("IPTS"))
	assert.Equal(t, "Si standard 300K", get("Title"))
	assert.Equal(t, "patched", get("Notes"))
	assert.Equal(t, "Si640f", get("Sample"))
	assert.Equal(t, "2019-07-01T10:00:00Z", get("StartTime"))
	assert.Equal(t, "5400", get("Duration"))
	assert.Equal(t, "6", get("ProtonCharge"))
	assert.Equal(t, "60", get("Frequency"))
	assert.Equal(t, "305", get("FurnaceT"))
	assert.Equal(t, "", get("MTSForce"))

	_, ok := rec.Get("Nope")
	assert.False(t, ok)
	assert.Len(t, rec.Row(), len(DefaultSchema()))
	assert.Equal(t, "RUN", rec.Header()[0])
	assert.Equal(t, "12345", rec.Attributes()["RUN"])
}

func TestExport_SeparatorsInValuesStayOnOneRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AutoRecord.txt")
	e := testExporter()
	ctx := context.Background()

	require.NoError(t, e.Export(ctx, New(DefaultSchema(), testRun(100), 1, nil), path, ModeAppend))
	messy := testRun(101)
	messy.Title = "Si\tpowder"
	rec := New(DefaultSchema(), messy, 1, map[string]string{"Notes": "line1\nline2\r\nline3"})
	title, _ := rec.Get("Title")
	notes, _ := rec.Get("Notes")
	assert.Equal(t, "Si powder", title)
	assert.Equal(t, "line1 line2  line3", notes)
	require.NoError(t, e.Export(ctx, rec, path, ModeAppend))

	require.Len(t, readLines(t, path), 3)
	table, err := vanadium.ImportAttributeTable(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, table.Skipped)
	assert.Equal(t, []int{100, 101}, table.Runs())
	got, ok := table.Lookup(101, "Title")
	require.True(t, ok)
	assert.Equal(t, "Si powder", got)
}

func TestAggregate(t *testing.T) {
	vals := []float64{3, 1, 2}
	tests := map[Op]float64{OpFirst: 3, OpLast: 2, OpMean: 2, OpSum: 6, OpMax: 3, OpMin: 1}
	for op, want := range tests {
		got, ok := Aggregate(op, vals)
		require.True(t, ok, op)
		assert.Equal(t, want, got, op)
	}
	_, ok := Aggregate(OpMean, nil)
	assert.False(t, ok)
	_, ok = Aggregate(OpTime, vals)
	assert.False(t, ok)
}

func TestExport_AppendKeepsPriorRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AutoRecord.txt")
	e := testExporter()
	ctx := context.Background()

	for run := 1; run <= 3; run++ {
		require.NoError(t, e.Export(ctx, New(DefaultSchema(), testRun(run), 1, nil), path, ModeAppend))
	}
	lines := readLines(t, path)
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "RUN\tIPTS"))
	for i, line := range lines[1:] {
		assert.True(t, strings.HasPrefix(line, fmt.Sprintf("%d\t", i+1)))
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o666), info.Mode().Perm())
}

func TestExport_AppendAfterTruncatedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AutoRecord.txt")
	require.NoError(t, os.WriteFile(path, []byte("RUN\tIPTS\n1\t2"), 0o644))

	schema := Schema{{"RUN", SourceRun, OpMeta}, {"IPTS", SourceIPTS, OpMeta}}
	require.NoError(t, testExporter().Export(context.Background(), New(schema, testRun(7), 9, nil), path, ModeAppend))
	assert.Equal(t, []string{"RUN\tIPTS", "1\t2", "7\t9"}, readLines(t, path))
}

func TestExport_NewModeBacksUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AutoRecord.txt")
	e := testExporter()
	ctx := context.Background()

	for run := 1; run <= 2; run++ {
		require.NoError(t, e.Export(ctx, New(DefaultSchema(), testRun(run), 1, nil), path, ModeAppend))
	}
	before := readLines(t, path)

	require.NoError(t, e.Export(ctx, New(DefaultSchema(), testRun(3), 1, nil), path, ModeNew))

	backupPath := filepath.Join(dir, "AutoRecord_01.txt")
	assert.Equal(t, before, readLines(t, backupPath))
	after := readLines(t, path)
	require.Len(t, after, 2)
	assert.True(t, strings.HasPrefix(after[1], "3\t"))
}

func TestExport_UnwritableTarget(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := testExporter().Export(context.Background(), New(DefaultSchema(), testRun(1), 1, nil),
		filepath.Join(blocker, "AutoRecord.txt"), ModeAppend)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.KindIOAccess))
}

func TestExport_ConcurrentWritersSerialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AutoRecord.txt")
	e := testExporter()

	var wg sync.WaitGroup
	for run := 1; run <= 10; run++ {
		wg.Add(1)
		go func(run int) {
			defer wg.Done()
			assert.NoError(t, e.Export(context.Background(), New(DefaultSchema(), testRun(run), 1, nil), path, ModeAppend))
		}(run)
	}
	wg.Wait()

	lines := readLines(t, path)
	assert.Len(t, lines, 11)
	headers := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "RUN\t") {
			headers++
		}
	}
	assert.Equal(t, 1, headers)
}

func TestExport_XLSXMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AutoRecord.txt")
	e := NewExporter(config.RecordConfig{XLSXMirror: true})
	require.NoError(t, e.Export(context.Background(), New(DefaultSchema(), testRun(5), 1, nil), path, ModeAppend))

	rows, err := tabular.ReadXLSX(strings.TrimSuffix(path, ".txt")+".xlsx", tabular.XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "RUN", rows[0][0])
	assert.Equal(t, "5", rows[1][0])
}

func TestDuplicateIfAbsent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "AutoRecord.txt")
	dst := filepath.Join(dir, "archive", "AutoRecord.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	e := testExporter()
	ctx := context.Background()

	rec1 := New(DefaultSchema(), testRun(1), 1, nil)
	require.NoError(t, e.Export(ctx, rec1, src, ModeAppend))
	require.NoError(t, e.DuplicateIfAbsent(ctx, src, dst, rec1))
	assert.Equal(t, readLines(t, src), readLines(t, dst))

	// The archive copy already exists: the next record is appended to it.
	rec2 := New(DefaultSchema(), testRun(2), 1, nil)
	require.NoError(t, e.Export(ctx, rec2, src, ModeAppend))
	require.NoError(t, e.DuplicateIfAbsent(ctx, src, dst, rec2))
	assert.Len(t, readLines(t, dst), 3)

	err := e.DuplicateIfAbsent(ctx, filepath.Join(dir, "missing.txt"), filepath.Join(dir, "new.txt"), rec1)
	assert.True(t, fault.Is(err, fault.KindIOAccess))
}

func TestNextBackupName(t *testing.T) {
	taken := map[string]bool{}
	exists := func(p string) bool { return taken[p] }

	assert.Equal(t, "/out/AutoRecord_01.txt", NextBackupName("/out/AutoRecord.txt", exists))
	taken["/out/AutoRecord_01.txt"] = true
	taken["/out/AutoRecord_02.txt"] = true
	assert.Equal(t, "/out/AutoRecord_03.txt", NextBackupName("/out/AutoRecord.txt", exists))

	// All slots exhausted: the last slot is reused.
	all := func(string) bool { return true }
	assert.Equal(t, "/out/AutoRecord_99.txt", NextBackupName("/out/AutoRecord.txt", all))
	assert.Equal(t, "/out/log_01", NextBackupName("/out/log", exists))
}

func TestGenerateTabularLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "12345_furnace.txt")

	got, err := GenerateTabularLog(path, []string{"Time", "T"}, [][]string{{"0", "300"}})
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = GenerateTabularLog(path, []string{"Time", "T"}, [][]string{{"0", "301"}, {"1", "302"}})
	require.NoError(t, err)
	assert.Len(t, readLines(t, path), 3)
	assert.Equal(t, []string{"Time\tT", "0\t300"}, readLines(t, filepath.Join(dir, "12345_furnace_01.txt")))

	_, err = GenerateTabularLog(filepath.Join(dir, "nodir", "x.txt"), nil, nil)
	assert.True(t, fault.Is(err, fault.KindIOAccess))
}

func TestLogTable(t *testing.T) {
	header, rows, ok := LogTable(testRun(1), LogFurnace)
	require.True(t, ok)
	assert.Equal(t, []string{"Time", "furnace.temp1", "furnace.power"}, header)
	assert.Equal(t, [][]string{
		{"0", "300", ""},
		{"15", "300", "0.5"},
		{"30", "310", "0.5"},
	}, rows)

	_, _, ok = LogTable(testRun(1), LogMTS)
	assert.False(t, ok)
	assert.Equal(t, "/out/12345_mts.txt", LogFileName("/out", 12345, LogMTS))
}

func writeZIP(t *testing.T, path, entry, body string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	w := zip.NewWriter(f)
	fw, err := w.Create(entry)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestPatchFromAuxiliary(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "VULCAN_12345_runinfo.xml")
	require.NoError(t, os.WriteFile(xmlPath, []byte(`<?xml version="1.0"?>
<RunInfo><Title>Si from xml</Title><Notes></Notes><Sample><Name>Si640f</Name><ItemID>44</ItemID></Sample></RunInfo>`), 0o644))

	zipPath := filepath.Join(dir, "VULCAN_12345.zip")
	writeZIP(t, zipPath, "entry/metadata.json", `{"title":"Si from zip","notes":"loaded","monitor1":9876,"total_counts":123456789,"collimator":90}`)

	primary := map[string]string{"RUN": "12345", "Title": "raw", "Monitor1": ""}
	merged, patched := PatchFromAuxiliary(context.Background(), primary,
		XMLSource{Path: filepath.Join(dir, "missing.xml")},
		XMLSource{Path: xmlPath},
		ContainerSource{Path: zipPath},
	)

	assert.Equal(t, "12345", merged["RUN"])
	assert.Equal(t, "Si from xml", merged["Title"])
	assert.Equal(t, "Si640f", merged["Sample"])
	assert.Equal(t, "44", merged["ITEM"])
	assert.Equal(t, "loaded", merged["Notes"])
	assert.Equal(t, "9876", merged["Monitor1"])
	assert.Equal(t, "123456789", merged["TotalCounts"])
	assert.Equal(t, "90", merged["Collimator"])
	assert.ElementsMatch(t, PatchedFields, patched)
	assert.Equal(t, "raw", primary["Title"])
}

func TestContainerSource_TextIdentifiers(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "VULCAN_12345.zip")
	writeZIP(t, zipPath, "metadata.json", `{"title":"Ni alloy","notes":"aged","item":"SN-0042","collimator":"90deg","monitor1":12.5,"total_counts":null}`)

	values, err := ContainerSource{Path: zipPath}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SN-0042", values["ITEM"])
	assert.Equal(t, "90deg", values["Collimator"])
	assert.Equal(t, "12.5", values["Monitor1"])
	assert.Empty(t, values["TotalCounts"])

	merged, patched := PatchFromAuxiliary(context.Background(), map[string]string{"Title": "raw"}, ContainerSource{Path: zipPath})
	assert.Equal(t, "Ni alloy", merged["Title"])
	assert.Equal(t, "aged", merged["Notes"])
	assert.Contains(t, patched, "ITEM")
}

func TestContainerSource_RejectsObjectIdentifier(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "VULCAN_12345.zip")
	writeZIP(t, zipPath, "metadata.json", `{"title":"x","item":{"id":1}}`)
	_, err := ContainerSource{Path: zipPath}.Load(context.Background())
	assert.Error(t, err)
}

func TestPatchFromAuxiliary_NoSources(t *testing.T) {
	merged, patched := PatchFromAuxiliary(context.Background(), map[string]string{"Title": "raw"},
		ContainerSource{Path: filepath.Join(t.TempDir(), "absent.zip")})
	assert.Equal(t, "raw", merged["Title"])
	assert.Empty(t, patched)
}
