package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"
)

// CaseRecord is one row of the AGES state-level case timeline
// (CovidFaelle_Timeline.csv).
type CaseRecord struct {
	Time              StampTime  `csv:"Time"`
	State             string     `csv:"Bundesland"`
	StateID           int        `csv:"BundeslandID"`
	Population        int        `csv:"AnzEinwohner"`
	Cases             int        `csv:"AnzahlFaelle"`
	CasesSevenDay     int        `csv:"AnzahlFaelle7Tage"`
	SevenDayIncidence CommaFloat `csv:"SiebenTageInzidenzFaelle"`
	DeathsDaily       int        `csv:"AnzahlTotTaeglich"`
	DeathsTotal       int        `csv:"AnzahlTotSum"`
	RecoveredDaily    int        `csv:"AnzahlGeheiltTaeglich"`
	RecoveredTotal    int        `csv:"AnzahlGeheiltSum"`
}

// DistrictRecord is one row of the AGES district-level case timeline
// (CovidFaelle_Timeline_GKZ.csv).
type DistrictRecord struct {
	Time              StampTime  `csv:"Time"`
	District          string     `csv:"Bezirk"`
	DistrictID        int        `csv:"GKZ"`
	Population        int        `csv:"AnzEinwohner"`
	Cases             int        `csv:"AnzahlFaelle"`
	CasesSevenDay     int        `csv:"AnzahlFaelle7Tage"`
	SevenDayIncidence CommaFloat `csv:"SiebenTageInzidenzFaelle"`
	DeathsDaily       int        `csv:"AnzahlTotTaeglich"`
	DeathsTotal       int        `csv:"AnzahlTotSum"`
}

// HospitalRecord is one row of the AGES testing and bed occupancy table
// (CovidFallzahlen.csv).
type HospitalRecord struct {
	Reported     StampTime `csv:"Meldedat"`
	TestsTotal   int       `csv:"TestGesamt"`
	HospBeds     int       `csv:"FZHosp"`
	HospBedsFree int       `csv:"FZHospFree"`
	ICUBeds      int       `csv:"FZICU"`
	ICUBedsFree  int       `csv:"FZICUFree"`
	StateID      int       `csv:"BundeslandID"`
	State        string    `csv:"Bundesland"`
}

// HospOccupancy returns the fraction of normal beds in use, in percent.
// Returns 0 when no beds are reported.
func (r HospitalRecord) HospOccupancy() float64 {
	return occupancy(r.HospBeds, r.HospBedsFree)
}

// ICUOccupancy returns the fraction of intensive-care beds in use, in
// percent. Returns 0 when no beds are reported.
func (r HospitalRecord) ICUOccupancy() float64 {
	return occupancy(r.ICUBeds, r.ICUBedsFree)
}

func occupancy(used, free int) float64 {
	total := used + free
	if total == 0 {
		return 0
	}
	return 100 * float64(used) / float64(total)
}

// VaccinationRecord is one row of the ECDC vaccine tracker export. Rows
// are weekly per region, target group and vaccine product.
type VaccinationRecord struct {
	Week                 ISOWeek `csv:"YearWeekISO"`
	FirstDose            int     `csv:"FirstDose"`
	FirstDoseRefused     int     `csv:"FirstDoseRefused"`
	SecondDose           int     `csv:"SecondDose"`
	DoseAdditional1      int     `csv:"DoseAdditional1"`
	UnknownDose          int     `csv:"UnknownDose"`
	NumberDosesReceived  int     `csv:"NumberDosesReceived"`
	NumberDosesExported  int     `csv:"NumberDosesExported"`
	Region               string  `csv:"Region"`
	Population           int     `csv:"Population"`
	ReportingCountry     string  `csv:"ReportingCountry"`
	TargetGroup          string  `csv:"TargetGroup"`
	Vaccine              string  `csv:"Vaccine"`
	Denominator          int     `csv:"Denominator"`
}

// ReadCases decodes the AGES state-level case timeline.
func ReadCases(r io.Reader) ([]CaseRecord, error) {
	var records []CaseRecord
	if err := decode(r, ';', &records); err != nil {
		return nil, fmt.Errorf("reading case timeline: %w", err)
	}
	return records, nil
}

// ReadDistricts decodes the AGES district-level case timeline.
func ReadDistricts(r io.Reader) ([]DistrictRecord, error) {
	var records []DistrictRecord
	if err := decode(r, ';', &records); err != nil {
		return nil, fmt.Errorf("reading district timeline: %w", err)
	}
	return records, nil
}

// ReadHospital decodes the AGES testing and bed occupancy table.
func ReadHospital(r io.Reader) ([]HospitalRecord, error) {
	var records []HospitalRecord
	if err := decode(r, ';', &records); err != nil {
		return nil, fmt.Errorf("reading hospitalisation table: %w", err)
	}
	return records, nil
}

// ReadVaccinations decodes the ECDC vaccine tracker export.
func ReadVaccinations(r io.Reader) ([]VaccinationRecord, error) {
	var records []VaccinationRecord
	if err := decode(r, ',', &records); err != nil {
		return nil, fmt.Errorf("reading vaccination tracker: %w", err)
	}
	return records, nil
}

func decode(r io.Reader, sep rune, out any) error {
	cr := csv.NewReader(stripBOM(r))
	cr.Comma = sep
	dec, err := csvutil.NewDecoder(cr)
	if err != nil {
		return err
	}
	return dec.Decode(out)
}

// stripBOM drops a leading UTF-8 byte order mark. The AGES exports carry
// one, and it would otherwise end up glued to the first header name.
func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, err := br.Peek(3)
	if err == nil && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		br.Discard(3)
	}
	return br
}
