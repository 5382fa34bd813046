package weather

import "time"

// Forecast shaping limits.
const (
	MaxHourlyPoints = 8
	MaxDailyPoints  = 7
)

// dateLabelLayout matches the "Fri Mar 15 2024" style used by the dashboard.
const dateLabelLayout = "Mon Jan 02 2006"

// AggregateDaily groups samples by the calendar date of their timestamp in loc
// and summarizes each group. Groups keep the order in which their first sample
// appears and at most maxDays are returned (maxDays <= 0 means no cap).
func AggregateDaily(samples []HourPoint, loc *time.Location, maxDays int) []DayAggregate {
	if loc == nil {
		loc = time.UTC
	}

	var (
		order  []string
		groups = make(map[string][]HourPoint)
	)
	for _, s := range samples {
		label := time.Unix(s.Timestamp, 0).In(loc).Format(dateLabelLayout)
		if _, ok := groups[label]; !ok {
			order = append(order, label)
		}
		groups[label] = append(groups[label], s)
	}

	if maxDays > 0 && len(order) > maxDays {
		order = order[:maxDays]
	}

	days := make([]DayAggregate, 0, len(order))
	for _, label := range order {
		days = append(days, summarizeDay(label, groups[label]))
	}
	return days
}

// summarizeDay expects a non-empty slice.
func summarizeDay(label string, items []HourPoint) DayAggregate {
	first := items[0]
	mid := items[len(items)/2]

	day := DayAggregate{
		Date:        label,
		Timestamp:   first.Timestamp,
		TempMin:     first.Temperature,
		TempMax:     first.Temperature,
		Description: mid.Description,
		IconCode:    mid.IconCode,
	}

	var sumTemp, sumHumidity, sumWind float64
	for _, it := range items {
		if it.Temperature < day.TempMin {
			day.TempMin = it.Temperature
		}
		if it.Temperature > day.TempMax {
			day.TempMax = it.Temperature
		}
		if it.PrecipitationProbability > day.Pop {
			day.Pop = it.PrecipitationProbability
		}
		sumTemp += it.Temperature
		sumHumidity += it.Humidity
		sumWind += it.WindSpeed
		day.Rain += it.RainMM
	}

	n := float64(len(items))
	day.TempAvg = sumTemp / n
	day.Humidity = sumHumidity / n
	day.WindSpeed = sumWind / n

	return day
}
