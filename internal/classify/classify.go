// internal/classify/classify.go

// Package classify turns a repository's release history into a cadence
// category. Pure functions, no I/O.
package classify

import (
	"sort"
	"time"

	"repo-cadence-collector/internal/model"
)

const (
	rapidMinDays = 5.0
	rapidMaxDays = 35.0
	slowMinDays  = 60.0

	hoursPerDay = 24
)

// AverageIntervalDays computes the mean whole-day gap between consecutive
// releases, most recent first. Gaps of zero or fewer days (same-day or
// out-of-order releases) do not contribute. Returns nil when fewer than two
// usable timestamps exist or no positive gap remains.
func AverageIntervalDays(events []model.ReleaseEvent) *float64 {
	if len(events) < 2 {
		return nil
	}

	dates := make([]time.Time, 0, len(events))
	for _, ev := range events {
		if !ev.CreatedAt.IsZero() {
			dates = append(dates, ev.CreatedAt)
		}
	}
	if len(dates) < 2 {
		return nil
	}

	// Most recent first.
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })

	var sum, count int
	for i := 0; i < len(dates)-1; i++ {
		days := int(dates[i].Sub(dates[i+1]).Hours() / hoursPerDay)
		if days > 0 {
			sum += days
			count++
		}
	}
	if count == 0 {
		return nil
	}

	avg := float64(sum) / float64(count)
	return &avg
}

// FromInterval maps an average interval to a category. The boundaries are a
// deliberate policy: 5 to 35 days inclusive is rapid, strictly more than 60
// days is slow, everything else (including the 35-60 gap) is unclassified.
func FromInterval(avg *float64) model.Classification {
	if avg == nil {
		return model.Ineligible
	}
	switch {
	case *avg >= rapidMinDays && *avg <= rapidMaxDays:
		return model.Rapid
	case *avg > slowMinDays:
		return model.Slow
	default:
		return model.Ineligible
	}
}

// Classify derives the full cadence result for one repository's releases.
func Classify(events []model.ReleaseEvent) model.ReleaseClassification {
	avg := AverageIntervalDays(events)
	return model.ReleaseClassification{
		AvgIntervalDays: avg,
		Class:           FromInterval(avg),
	}
}
