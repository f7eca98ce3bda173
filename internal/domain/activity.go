package domain

import "math"

// Activity is one scheduled unit of work from the activity list.
type Activity struct {
	ID               int
	OriginalDuration float64
}

// NewActivity validates and constructs one activity.
func NewActivity(id int, originalDuration float64) (Activity, error) {
	if id <= 0 {
		return Activity{}, ErrInvalidActivityID
	}
	if originalDuration <= 0 || math.IsNaN(originalDuration) || math.IsInf(originalDuration, 0) {
		return Activity{}, ErrInvalidDuration
	}
	return Activity{
		ID:               id,
		OriginalDuration: originalDuration,
	}, nil
}

// BaselineDuration sums original durations across the full activity set.
func BaselineDuration(activities []Activity) float64 {
	total := 0.0
	for _, activity := range activities {
		total += activity.OriginalDuration
	}
	return total
}
