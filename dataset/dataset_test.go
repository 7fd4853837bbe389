package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltinDescriptorsValid(t *testing.T) {
	descs := Builtin()
	require.Len(t, descs, 2)
	for _, d := range descs {
		require.NoError(t, d.Validate(), d.ID)
	}
}

func TestAGESCasesShape(t *testing.T) {
	d := AGESCases()
	require.Equal(t, FormatZip, d.Format)
	require.Len(t, d.Members, 3)
	for _, m := range d.Members {
		require.Equal(t, ';', m.Shape.Sep())
		require.NotEmpty(t, m.Shape.RequiredColumns)
	}
}

func TestECDCVaccinationsShape(t *testing.T) {
	d := ECDCVaccinations()
	require.Equal(t, FormatCSV, d.Format)
	require.Equal(t, ',', d.Shape.Sep())
	require.Contains(t, d.Shape.RequiredColumns, "YearWeekISO")
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
	}{
		{"no id", Descriptor{URL: "https://example.org", Format: FormatCSV, CachePath: "a.csv"}},
		{"no url", Descriptor{ID: "x", Format: FormatCSV, CachePath: "a.csv"}},
		{"no cache path", Descriptor{ID: "x", URL: "https://example.org", Format: FormatCSV}},
		{"bad format", Descriptor{ID: "x", URL: "https://example.org", Format: "tar", CachePath: "a"}},
		{"zip without members", Descriptor{ID: "x", URL: "https://example.org", Format: FormatZip, CachePath: "a.zip"}},
		{"csv with members", Descriptor{
			ID: "x", URL: "https://example.org", Format: FormatCSV, CachePath: "a.csv",
			Members: []Member{{Name: "a", CachePath: "a"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.desc.Validate())
		})
	}
}

func TestFind(t *testing.T) {
	descs := Builtin()

	d, err := Find(descs, "ages-cases")
	require.NoError(t, err)
	require.Equal(t, "ages-cases", d.ID)

	_, err = Find(descs, "nope")
	require.ErrorIs(t, err, ErrUnknown)
}

func TestLoadDescriptors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets.yml")
	content := `datasets:
  - id: tirol-wastewater
    url: https://example.org/wastewater.csv
    format: csv
    cache_path: austria/wastewater.csv
    shape:
      separator: ";"
      required_columns: [Datum, Standort]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	descs, err := LoadDescriptors(path)
	require.NoError(t, err)
	require.Len(t, descs, 3)

	d, err := Find(descs, "tirol-wastewater")
	require.NoError(t, err)
	require.Equal(t, ';', d.Shape.Sep())
	require.Equal(t, []string{"Datum", "Standort"}, d.Shape.RequiredColumns)
}

func TestLoadDescriptorsReplacesBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets.yml")
	content := `datasets:
  - id: ecdc-vaccinations
    url: https://mirror.example.org/data.csv
    format: csv
    cache_path: europe/data.csv
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	descs, err := LoadDescriptors(path)
	require.NoError(t, err)
	require.Len(t, descs, 2)

	d, err := Find(descs, "ecdc-vaccinations")
	require.NoError(t, err)
	require.Equal(t, "https://mirror.example.org/data.csv", d.URL)
}

func TestLoadDescriptorsRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets.yml")
	content := `datasets:
  - id: broken
    format: csv
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadDescriptors(path)
	require.Error(t, err)
}
