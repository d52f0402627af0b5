package tabular

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan Row, errCh <-chan error) ([]Row, error) {
	t.Helper()
	var rows []Row
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamRows_SkipsBlankAndComments(t *testing.T) {
	input := "# vanadium record\n\nRUN\tTitle\tFrequency\n# mid comment\n100\tV rod\t60\n\n101\tV rod\t30\n"
	rowCh, errCh := StreamRows(context.Background(), strings.NewReader(input), Options{Comment: '#'})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"RUN", "Title", "Frequency"}, rows[0].Fields)
	assert.Equal(t, 3, rows[0].Line)
	assert.Equal(t, []string{"100", "V rod", "60"}, rows[1].Fields)
	assert.Equal(t, 5, rows[1].Line)
	assert.Equal(t, 7, rows[2].Line)
}

func TestStreamRows_QuotesAreLiteral(t *testing.T) {
	input := "RUN\tTitle\n1\t\"Si standard\n2\tplain\n"
	rowCh, errCh := StreamRows(context.Background(), strings.NewReader(input), Options{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, `"Si standard`, rows[1].Fields[1])
}

func TestStreamRows_CustomDelimiterAndTrim(t *testing.T) {
	input := "a , b\r\n 1, 2 \r\n"
	rowCh, errCh := StreamRows(context.Background(), strings.NewReader(input), Options{Delimiter: ',', TrimSpace: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a", "b"}, rows[0].Fields)
	assert.Equal(t, []string{"1", "2"}, rows[1].Fields)
}

func TestStreamRows_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("1\t2\t3\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamRows(ctx, strings.NewReader(sb.String()), Options{})
	<-rowCh
	cancel()

	done := make(chan struct{})
	go func() {
		for range rowCh {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}

	var gotErr error
	for err := range errCh {
		gotErr = err
	}
	assert.Error(t, gotErr)
}

func TestReadFile_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AutoRecord.txt")
	require.NoError(t, os.WriteFile(path, []byte("RUN\tIPTS\n1\t2\n"), 0o644))

	rows, err := ReadFile(context.Background(), path, Options{Comment: '#'})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), Options{})
	assert.Error(t, err)
}

func TestXLSX_WriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.xlsx")
	require.NoError(t, WriteXLSX(path, "AutoRecord", []string{"RUN", "Title"}, [][]string{
		{"100", "Si"},
		{"101", "Ni"},
	}))

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "AutoRecord"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"RUN", "Title"}, rows[0])
	assert.Equal(t, []string{"101", "Ni"}, rows[2])

	rows, err = ReadXLSX(path, XLSXOptions{SkipRows: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	fileRows, err := ReadFile(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Len(t, fileRows, 3)
}

func TestReadXLSX_BadSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.xlsx")
	require.NoError(t, WriteXLSX(path, "", []string{"RUN"}, nil))

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "missing"})
	assert.Error(t, err)
	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 4})
	assert.Error(t, err)
}

type testRunInfo struct {
	XMLName xml.Name `xml:"RunInfo"`
	Title   string   `xml:"Title"`
	Sample  struct {
		Name string `xml:"Name"`
	} `xml:"Sample"`
}

func TestFirstXML(t *testing.T) {
	input := `<?xml version="1.0"?><Runs><RunInfo><Title>Si 300K</Title><Sample><Name>Si640f</Name></Sample></RunInfo></Runs>`
	info, ok, err := FirstXML[testRunInfo](context.Background(), strings.NewReader(input), "RunInfo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Si 300K", info.Title)
	assert.Equal(t, "Si640f", info.Sample.Name)
}

func TestFirstXML_NotPresent(t *testing.T) {
	_, ok, err := FirstXML[testRunInfo](context.Background(), strings.NewReader(`<Runs/>`), "RunInfo")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFirstXML_Malformed(t *testing.T) {
	_, _, err := FirstXML[testRunInfo](context.Background(), strings.NewReader(`<Runs><RunInfo>`), "RunInfo")
	assert.Error(t, err)
}

func TestStreamXML_Latin1(t *testing.T) {
	input := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><Runs><RunInfo><Title>caf\xe9</Title></RunInfo></Runs>"
	info, ok, err := FirstXML[testRunInfo](context.Background(), strings.NewReader(input), "RunInfo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "café", info.Title)
}

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "run.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestReadZIPEntry(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"entry/metadata.json": `{"title":"x"}`,
		"entry/other.txt":     "ignored",
	})

	data, err := ReadZIPEntry(zipPath, "entry/metadata.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"x"}`, string(data))

	data, err = ReadZIPEntry(zipPath, "metadata.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"x"}`, string(data))

	_, err = ReadZIPEntry(zipPath, "absent.json")
	assert.Error(t, err)
}

func TestReadZIPEntry_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	_, err := ReadZIPEntry(path, "x")
	assert.Error(t, err)
}

func TestFormatRow(t *testing.T) {
	assert.Equal(t, "a\tb\n", FormatRow([]string{"a", "b"}, 0))
	assert.Equal(t, "a,b\n", FormatRow([]string{"a", "b"}, ','))
}
