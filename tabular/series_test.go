package tabular

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func vaccinationFixture(t *testing.T) []VaccinationRecord {
	t.Helper()
	records, err := ReadVaccinations(strings.NewReader(vaccinationsCSV))
	require.NoError(t, err)
	return records
}

func TestFilterCases(t *testing.T) {
	records, err := ReadCases(strings.NewReader(casesCSV))
	require.NoError(t, err)

	wien := FilterCases(records, "Wien")
	require.Len(t, wien, 2)
	require.Equal(t, 312, wien[0].Cases)
	require.Equal(t, 356, wien[1].Cases)

	require.Empty(t, FilterCases(records, "Salzburg"))
}

func TestFilterDistricts(t *testing.T) {
	records, err := ReadDistricts(strings.NewReader(districtsCSV))
	require.NoError(t, err)

	kufstein := FilterDistricts(records, "Kufstein")
	require.Len(t, kufstein, 1)
	require.Equal(t, 705, kufstein[0].DistrictID)
}

func TestFilterHospital(t *testing.T) {
	records, err := ReadHospital(strings.NewReader(hospitalCSV))
	require.NoError(t, err)

	wien := FilterHospital(records, "Wien")
	require.Len(t, wien, 2)
	tirol := FilterHospital(records, "Tirol")
	require.Len(t, tirol, 1)
}

func TestWeeklyDoses(t *testing.T) {
	weekly := WeeklyDoses(vaccinationFixture(t), "AT")
	require.Len(t, weekly, 2)

	// Per-product rows collapse into one summary per week; the Age80+
	// row is excluded from the whole-population totals.
	w7 := weekly[0]
	require.Equal(t, ISOWeek{Year: 2021, Week: 7}, w7.Week)
	require.Equal(t, 13000, w7.FirstDose)
	require.Equal(t, 2500, w7.SecondDose)
	require.Equal(t, 13000, w7.FirstCum)
	require.Equal(t, 2500, w7.SecondCum)

	w8 := weekly[1]
	require.Equal(t, 17000, w8.FirstDose)
	require.Equal(t, 5800, w8.SecondDose)
	require.Equal(t, 30000, w8.FirstCum)
	require.Equal(t, 8300, w8.SecondCum)
}

func TestWeeklyDosesUnknownRegion(t *testing.T) {
	require.Empty(t, WeeklyDoses(vaccinationFixture(t), "DE"))
}

func TestTrendLine(t *testing.T) {
	fitted, err := TrendLine([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	require.Len(t, fitted, 4)
	for i, want := range []float64{1, 2, 3, 4} {
		require.InDelta(t, want, fitted[i], 1e-9)
	}

	// A noisy series still yields the underlying line.
	fitted, err = TrendLine([]float64{0.9, 2.1, 2.9, 4.1})
	require.NoError(t, err)
	require.InDelta(t, fitted[1]-fitted[0], fitted[3]-fitted[2], 1e-9)

	_, err = TrendLine([]float64{1})
	require.Error(t, err)
}

func TestRecentDoseRate(t *testing.T) {
	weekly := WeeklyDoses(vaccinationFixture(t), "AT")

	rate, err := RecentDoseRate(weekly, 1)
	require.NoError(t, err)
	require.InDelta(t, 17000.0/7, rate, 0.001)

	_, err = RecentDoseRate(weekly, 2)
	require.Error(t, err)
	_, err = RecentDoseRate(weekly, 0)
	require.Error(t, err)
}

func TestDaysUntilDose(t *testing.T) {
	weekly := WeeklyDoses(vaccinationFixture(t), "AT")

	days, err := DaysUntilDose(weekly, 170000, 1)
	require.NoError(t, err)
	require.InDelta(t, 70.0, days, 0.001)

	zeroRate := []WeeklySummary{
		{Week: ISOWeek{2021, 7}, FirstCum: 500},
		{Week: ISOWeek{2021, 8}, FirstCum: 500},
	}
	_, err = DaysUntilDose(zeroRate, 100, 1)
	require.Error(t, err)
}

func TestQueueAhead(t *testing.T) {
	records := vaccinationFixture(t)

	// ALL: denominator 7300001, first doses 30000. Age80+: denominator
	// 450000, first doses 5000.
	queue, err := QueueAhead(records, "AT", 80)
	require.NoError(t, err)
	// Youngest of the top bracket: everyone unvaccinated minus nobody.
	require.Equal(t, 7300001-30000, queue)

	older, err := QueueAhead(records, "AT", 90)
	require.NoError(t, err)
	require.Less(t, older, queue)

	// The Age80+ pool stays ahead of a 70 year old, and the fixture has
	// no coverage data for the younger brackets, so nothing comes off.
	seventy, err := QueueAhead(records, "AT", 70)
	require.NoError(t, err)
	require.Equal(t, 7300001-30000, seventy)

	_, err = QueueAhead(records, "AT", 12)
	require.Error(t, err)
	_, err = QueueAhead(records, "DE", 80)
	require.Error(t, err)
}
