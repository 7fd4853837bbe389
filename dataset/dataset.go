// Package dataset describes the remote resources the synchronizer keeps
// cached locally: where each dataset lives, what it is called on disk, and
// what shape its payload is expected to have.
package dataset

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrUnknown is returned when a dataset ID does not match any descriptor.
var ErrUnknown = errors.New("dataset: unknown dataset")

// Format identifies the payload type of a dataset.
type Format string

const (
	// FormatCSV is a single tabular file.
	FormatCSV Format = "csv"
	// FormatZip is a zip archive from which named member files are
	// extracted into the cache.
	FormatZip Format = "zip"
)

// Separator is a single-character CSV field separator. In YAML it is
// written as a one-character string, e.g. ";".
type Separator rune

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Separator) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	runes := []rune(str)
	if len(runes) != 1 {
		return fmt.Errorf("dataset: separator must be one character, got %q", str)
	}
	*s = Separator(runes[0])
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Separator) MarshalYAML() (any, error) {
	return string(rune(s)), nil
}

// CSVShape describes the structural expectations a payload must meet to be
// accepted into the cache.
type CSVShape struct {
	// Separator is the field separator, ',' if zero.
	Separator Separator `yaml:"separator,omitempty"`
	// RequiredColumns must all appear in the header row.
	RequiredColumns []string `yaml:"required_columns,omitempty"`
}

// Sep returns the effective separator.
func (s CSVShape) Sep() rune {
	if s.Separator == 0 {
		return ','
	}
	return rune(s.Separator)
}

// Member is one file inside a zip dataset.
type Member struct {
	// Name is the path of the member inside the archive.
	Name string `yaml:"name"`
	// CachePath is the cache-relative path the member is extracted to.
	CachePath string `yaml:"cache_path"`
	// Shape is the structural expectation for the member's content.
	Shape CSVShape `yaml:"shape,omitempty"`
}

// Descriptor identifies one remote dataset and its local cache location.
// Descriptors are static configuration; all mutable state lives in the
// cache entry recorded after a fetch.
type Descriptor struct {
	// ID is the stable identifier used for cache entries and logging.
	ID string `yaml:"id"`
	// URL is the origin the dataset is fetched from.
	URL string `yaml:"url"`
	// Format is the expected payload type.
	Format Format `yaml:"format"`
	// CachePath is the cache-relative path of the payload. For zip
	// datasets it names the archive itself; members are extracted next
	// to it per their own CachePath.
	CachePath string `yaml:"cache_path"`
	// Shape applies to CSV datasets.
	Shape CSVShape `yaml:"shape,omitempty"`
	// Members applies to zip datasets; each listed member must exist in
	// the archive for the payload to be accepted.
	Members []Member `yaml:"members,omitempty"`
}

// Validate checks the descriptor is internally consistent.
func (d *Descriptor) Validate() error {
	switch {
	case d.ID == "":
		return errors.New("dataset: descriptor has no ID")
	case d.URL == "":
		return errors.New("dataset: descriptor has no URL")
	case d.CachePath == "":
		return errors.New("dataset: descriptor has no cache path")
	}
	switch d.Format {
	case FormatCSV:
		if len(d.Members) > 0 {
			return errors.New("dataset: csv descriptor lists archive members")
		}
	case FormatZip:
		if len(d.Members) == 0 {
			return errors.New("dataset: zip descriptor lists no archive members")
		}
	default:
		return errors.New("dataset: unknown format " + string(d.Format))
	}
	return nil
}

// AGESCases describes the AGES COVID-19 dashboard archive: case timelines
// per state and district plus hospitalisation counts, semicolon separated
// with decimal commas.
func AGESCases() *Descriptor {
	return &Descriptor{
		ID:        "ages-cases",
		URL:       "https://covid19-dashboard.ages.at/data/data.zip",
		Format:    FormatZip,
		CachePath: "austria/data.zip",
		Members: []Member{
			{
				Name:      "CovidFaelle_Timeline.csv",
				CachePath: "austria/CovidFaelle_Timeline.csv",
				Shape: CSVShape{
					Separator:       ';',
					RequiredColumns: []string{"Time", "Bundesland", "BundeslandID", "AnzahlFaelle"},
				},
			},
			{
				Name:      "CovidFaelle_Timeline_GKZ.csv",
				CachePath: "austria/CovidFaelle_Timeline_GKZ.csv",
				Shape: CSVShape{
					Separator:       ';',
					RequiredColumns: []string{"Time", "Bezirk", "GKZ", "AnzahlFaelle"},
				},
			},
			{
				Name:      "CovidFallzahlen.csv",
				CachePath: "austria/CovidFallzahlen.csv",
				Shape: CSVShape{
					Separator:       ';',
					RequiredColumns: []string{"Meldedat", "FZHosp", "FZICU", "Bundesland"},
				},
			},
		},
	}
}

// ECDCVaccinations describes the ECDC vaccine tracker export: one row per
// week, region and target group.
func ECDCVaccinations() *Descriptor {
	return &Descriptor{
		ID:        "ecdc-vaccinations",
		URL:       "https://opendata.ecdc.europa.eu/covid19/vaccine_tracker/csv/data.csv",
		Format:    FormatCSV,
		CachePath: "europe/data.csv",
		Shape: CSVShape{
			RequiredColumns: []string{"YearWeekISO", "FirstDose", "SecondDose", "Region", "TargetGroup"},
		},
	}
}

// Builtin returns the descriptors shipped with the tool.
func Builtin() []*Descriptor {
	return []*Descriptor{AGESCases(), ECDCVaccinations()}
}

// Find returns the descriptor with the given ID from descs.
func Find(descs []*Descriptor, id string) (*Descriptor, error) {
	for _, d := range descs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, ErrUnknown
}
