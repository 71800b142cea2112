package weather

import "time"

// DailySummary condenses the forecast entries of one local calendar day.
type DailySummary struct {
	Date        string    `json:"date"`
	TempMin     float64   `json:"tempMin"`
	TempMax     float64   `json:"tempMax"`
	TempAvg     float64   `json:"tempAvg"`
	HumidityAvg float64   `json:"humidityAvg"`
	PrecipMM    float64   `json:"precipMm"`
	Condition   Condition `json:"condition"`
	Entries     int       `json:"entries"`
}

// SummarizeDays groups entries by local day using the city's UTC offset in
// seconds. Numeric fields are averaged or summed; the condition is selected by
// majority, ties going to the one seen first. Days come out in entry order.
func SummarizeDays(entries []ForecastEntry, utcOffset int) []DailySummary {
	if len(entries) == 0 {
		return nil
	}
	zone := time.FixedZone("", utcOffset)

	type bucket struct {
		summary     DailySummary
		sumTemp     float64
		sumHumidity float64
		counts      map[Condition]int
		order       []Condition
	}
	var (
		days    []string
		buckets = make(map[string]*bucket)
	)

	for _, e := range entries {
		day := time.Unix(e.Timestamp, 0).In(zone).Format("2006-01-02")
		b, ok := buckets[day]
		if !ok {
			b = &bucket{
				summary: DailySummary{Date: day, TempMin: e.Temperature.Min, TempMax: e.Temperature.Max},
				counts:  make(map[Condition]int),
			}
			buckets[day] = b
			days = append(days, day)
		}

		s := &b.summary
		s.Entries++
		if e.Temperature.Min < s.TempMin {
			s.TempMin = e.Temperature.Min
		}
		if e.Temperature.Max > s.TempMax {
			s.TempMax = e.Temperature.Max
		}
		s.PrecipMM += e.RainMM + e.SnowMM
		b.sumTemp += e.Temperature.Current
		b.sumHumidity += e.Humidity

		cond := e.Weather.Condition
		if cond == "" {
			cond = ConditionUnknown
		}
		if b.counts[cond] == 0 {
			b.order = append(b.order, cond)
		}
		b.counts[cond]++
	}

	out := make([]DailySummary, 0, len(days))
	for _, day := range days {
		b := buckets[day]
		n := float64(b.summary.Entries)
		b.summary.TempAvg = b.sumTemp / n
		b.summary.HumidityAvg = b.sumHumidity / n

		best, bestCount := ConditionUnknown, 0
		for _, cond := range b.order {
			if b.counts[cond] > bestCount {
				best, bestCount = cond, b.counts[cond]
			}
		}
		b.summary.Condition = best
		out = append(out, b.summary)
	}
	return out
}
