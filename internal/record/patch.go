package record

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vulcan-sns/vulcan-reduce/internal/tabular"
)

// AuxSource supplies record values that the event file does not carry
// reliably, keyed by record column title.
type AuxSource interface {
	Name() string
	Load(ctx context.Context) (map[string]string, error)
}

// XMLSource reads a run's runinfo XML document.
type XMLSource struct {
	Path string
}

type runInfoXML struct {
	Title       string `xml:"Title"`
	Notes       string `xml:"Notes"`
	Collimator  string `xml:"Collimator"`
	Monitor1    string `xml:"Monitor1"`
	TotalCounts string `xml:"TotalCounts"`
	Sample      struct {
		Name   string `xml:"Name"`
		ItemID string `xml:"ItemID"`
	} `xml:"Sample"`
}

// Name implements AuxSource.
func (s XMLSource) Name() string { return s.Path }

// Load implements AuxSource.
func (s XMLSource) Load(ctx context.Context) (map[string]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "record: open %s", s.Path)
	}
	defer f.Close() //nolint:errcheck

	info, ok, err := tabular.FirstXML[runInfoXML](ctx, f, "RunInfo")
	if err != nil {
		return nil, eris.Wrapf(err, "record: parse %s", s.Path)
	}
	if !ok {
		return nil, eris.Errorf("record: %s has no RunInfo element", s.Path)
	}
	return map[string]string{
		"Title":       info.Title,
		"Notes":       info.Notes,
		"Sample":      info.Sample.Name,
		"ITEM":        info.Sample.ItemID,
		"Collimator":  info.Collimator,
		"Monitor1":    info.Monitor1,
		"TotalCounts": info.TotalCounts,
	}, nil
}

// ContainerSource reads a JSON metadata entry from a zip container.
type ContainerSource struct {
	Path  string
	Entry string // default metadata.json
}

type containerMetadata struct {
	Title       string     `json:"title"`
	Notes       string     `json:"notes"`
	Sample      string     `json:"sample"`
	Item        flexString `json:"item"`
	Collimator  flexString `json:"collimator"`
	Monitor1    flexString `json:"monitor1"`
	TotalCounts flexString `json:"total_counts"`
}

// flexString decodes a JSON string or number into its text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return eris.Wrapf(err, "record: %s is neither a string nor a number", data)
	}
	*f = flexString(n.String())
	return nil
}

// Name implements AuxSource.
func (s ContainerSource) Name() string { return s.Path }

// Load implements AuxSource.
func (s ContainerSource) Load(_ context.Context) (map[string]string, error) {
	entry := s.Entry
	if entry == "" {
		entry = "metadata.json"
	}
	data, err := tabular.ReadZIPEntry(s.Path, entry)
	if err != nil {
		return nil, err
	}
	var md containerMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, eris.Wrapf(err, "record: decode %s in %s", entry, s.Path)
	}
	return map[string]string{
		"Title":       md.Title,
		"Notes":       md.Notes,
		"Sample":      md.Sample,
		"ITEM":        string(md.Item),
		"Collimator":  string(md.Collimator),
		"Monitor1":    string(md.Monitor1),
		"TotalCounts": string(md.TotalCounts),
	}, nil
}

// PatchFromAuxiliary overlays the patchable columns from the first source
// that supplies a non-empty value. Sources that fail to load are skipped.
// The merged map and the titles that were patched are returned.
func PatchFromAuxiliary(ctx context.Context, primary map[string]string, sources ...AuxSource) (map[string]string, []string) {
	merged := make(map[string]string, len(primary))
	for k, v := range primary {
		merged[k] = v
	}

	done := make(map[string]bool, len(PatchedFields))
	var patched []string
	for _, src := range sources {
		values, err := src.Load(ctx)
		if err != nil {
			zap.L().Warn("record: auxiliary metadata unavailable, no patch applied",
				zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		for _, title := range PatchedFields {
			v := strings.TrimSpace(values[title])
			if done[title] || v == "" {
				continue
			}
			merged[title] = v
			done[title] = true
			patched = append(patched, title)
		}
	}
	return merged, patched
}
