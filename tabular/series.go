package tabular

import (
	"errors"
	"fmt"
	"sort"
)

// TargetGroupAll is the ECDC target group covering the whole adult
// population.
const TargetGroupAll = "ALL"

// FilterCases returns the rows for a single state, in input order.
func FilterCases(records []CaseRecord, state string) []CaseRecord {
	var out []CaseRecord
	for _, r := range records {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out
}

// FilterDistricts returns the rows for a single district, in input order.
func FilterDistricts(records []DistrictRecord, district string) []DistrictRecord {
	var out []DistrictRecord
	for _, r := range records {
		if r.District == district {
			out = append(out, r)
		}
	}
	return out
}

// FilterHospital returns the rows for a single state, in input order.
func FilterHospital(records []HospitalRecord, state string) []HospitalRecord {
	var out []HospitalRecord
	for _, r := range records {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out
}

// WeeklySummary aggregates one reporting week of vaccination rows for a
// region. Cumulative fields carry the running totals up to and including
// that week.
type WeeklySummary struct {
	Week       ISOWeek
	FirstDose  int
	SecondDose int
	FirstCum   int
	SecondCum  int
}

// WeeklyDoses sums the whole-population dose counts per week for a
// region, across vaccine products, and annotates each week with running
// totals. Weeks are returned in chronological order.
func WeeklyDoses(records []VaccinationRecord, region string) []WeeklySummary {
	byWeek := make(map[ISOWeek]*WeeklySummary)
	for _, r := range records {
		if r.Region != region || r.TargetGroup != TargetGroupAll {
			continue
		}
		w, ok := byWeek[r.Week]
		if !ok {
			w = &WeeklySummary{Week: r.Week}
			byWeek[r.Week] = w
		}
		w.FirstDose += r.FirstDose
		w.SecondDose += r.SecondDose
	}

	out := make([]WeeklySummary, 0, len(byWeek))
	for _, w := range byWeek {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week.Before(out[j].Week) })

	first, second := 0, 0
	for i := range out {
		first += out[i].FirstDose
		second += out[i].SecondDose
		out[i].FirstCum = first
		out[i].SecondCum = second
	}
	return out
}

// TrendLine fits a least-squares line to the series and returns the
// fitted value at every point. It needs at least two points.
func TrendLine(ys []float64) ([]float64, error) {
	n := len(ys)
	if n < 2 {
		return nil, errors.New("tabular: trend line needs at least two points")
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn

	fitted := make([]float64, n)
	for i := range fitted {
		fitted[i] = intercept + slope*float64(i)
	}
	return fitted, nil
}

// RecentDoseRate estimates first doses administered per day from the
// last numWeeks reporting weeks.
func RecentDoseRate(weekly []WeeklySummary, numWeeks int) (float64, error) {
	if numWeeks < 1 {
		return 0, errors.New("tabular: dose rate needs at least one week")
	}
	if len(weekly) < numWeeks+1 {
		return 0, fmt.Errorf("tabular: dose rate over %d weeks needs %d summaries, have %d",
			numWeeks, numWeeks+1, len(weekly))
	}
	last := weekly[len(weekly)-1].FirstCum
	base := weekly[len(weekly)-1-numWeeks].FirstCum
	return float64(last-base) / float64(numWeeks) / 7, nil
}

// DaysUntilDose projects how many days until queueAhead more people have
// received a first dose, assuming the recent rate holds.
func DaysUntilDose(weekly []WeeklySummary, queueAhead, numWeeks int) (float64, error) {
	rate, err := RecentDoseRate(weekly, numWeeks)
	if err != nil {
		return 0, err
	}
	if rate <= 0 {
		return 0, errors.New("tabular: dose rate is zero, no projection possible")
	}
	return float64(queueAhead) / rate, nil
}

// ageBracket is an ECDC adult target group and the ages it spans.
type ageBracket struct {
	group string
	min   int
	max   int
}

var adultBrackets = []ageBracket{
	{"Age18_24", 18, 24},
	{"Age25_49", 25, 49},
	{"Age50_59", 50, 59},
	{"Age60_69", 60, 69},
	{"Age70_79", 70, 79},
	{"Age80+", 80, 120},
}

// QueueAhead estimates how many unvaccinated adults precede a person of
// the given age in a strictly oldest-first rollout: everyone older in the
// same age bracket, plus everyone in the brackets above. The estimate
// assumes ages spread evenly within a bracket.
func QueueAhead(records []VaccinationRecord, region string, age int) (int, error) {
	if age < adultBrackets[0].min {
		return 0, fmt.Errorf("tabular: no queue estimate for age %d, brackets start at %d",
			age, adultBrackets[0].min)
	}

	firstCum := make(map[string]int)
	denom := make(map[string]int)
	for _, r := range records {
		if r.Region != region {
			continue
		}
		firstCum[r.TargetGroup] += r.FirstDose
		if r.Denominator > denom[r.TargetGroup] {
			denom[r.TargetGroup] = r.Denominator
		}
	}
	if denom[TargetGroupAll] == 0 {
		return 0, fmt.Errorf("tabular: no %s denominator for region %q", TargetGroupAll, region)
	}

	var idx int
	for i, b := range adultBrackets {
		if age >= b.min && age <= b.max {
			idx = i
			break
		}
	}
	bracket := adultBrackets[idx]

	queue := denom[TargetGroupAll] - firstCum[TargetGroupAll]

	// Younger people in the same bracket are behind us, not ahead.
	unvacc := denom[bracket.group] - firstCum[bracket.group]
	span := bracket.max - bracket.min + 1
	perYear := unvacc / span
	queue -= perYear * (age - bracket.min)

	// Adults in the brackets below are entirely behind us.
	for _, b := range adultBrackets[:idx] {
		queue -= denom[b.group] - firstCum[b.group]
	}

	if queue < 0 {
		queue = 0
	}
	return queue, nil
}
