package progress

import (
	"math"
	"time"

	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/ieraasyl/LearnHub/pkg/utils"
)

// WeekDays is the length of the weekly activity window.
const WeekDays = 7

// ComputeStreak returns the number of consecutive calendar days ending at
// today that have at least one activity. days may be in any order and may
// repeat. The streak is 0 when today itself has no activity.
//
// Example:
//
//	today := time.Now()
//	days := []time.Time{today, today.AddDate(0, 0, -1), today.AddDate(0, 0, -3)}
//	n := ComputeStreak(days, today) // 2
func ComputeStreak(days []time.Time, today time.Time) int {
	return runEndingAt(daySet(days), utils.DayOf(today))
}

// LiveRun returns the length of the run that today's activity could still
// extend: the run ending today, or when today has none yet, the run ending
// yesterday. It is 0 only once the streak is actually broken.
func LiveRun(days []time.Time, today time.Time) int {
	seen := daySet(days)
	day := utils.DayOf(today)
	if n := runEndingAt(seen, day); n > 0 {
		return n
	}
	return runEndingAt(seen, utils.AddDays(day, -1))
}

func daySet(days []time.Time) map[string]struct{} {
	seen := make(map[string]struct{}, len(days))
	for _, d := range days {
		seen[utils.DayKey(d)] = struct{}{}
	}
	return seen
}

func runEndingAt(seen map[string]struct{}, day time.Time) int {
	n := 0
	for ; ; day = utils.AddDays(day, -1) {
		if _, ok := seen[utils.DayKey(day)]; !ok {
			return n
		}
		n++
	}
}

// WeekBuckets sums record durations per day over the WeekDays days ending at
// today, oldest first. Days without records are present with 0.
func WeekBuckets(records []models.ActivityRecord, today time.Time) []models.DayTotal {
	end := utils.DayOf(today)
	start := utils.AddDays(end, -(WeekDays - 1))

	buckets := make([]models.DayTotal, WeekDays)
	index := make(map[string]int, WeekDays)
	for i := range buckets {
		key := utils.DayKey(utils.AddDays(start, i))
		buckets[i].Date = key
		index[key] = i
	}

	for _, rec := range records {
		if i, ok := index[utils.DayKey(rec.Date)]; ok {
			buckets[i].Duration += rec.Duration
		}
	}
	return buckets
}

// ComputeCompletion returns the completion percentage (two decimals, capped
// at 100) and whether the course is complete. A course is complete only when
// every one of its lessons is, so a count above total (completions of lessons
// since removed) is not complete. A course without lessons is never complete
// and always at 0%.
func ComputeCompletion(completed, total int) (percent float64, done bool) {
	if total <= 0 {
		return 0, false
	}
	if completed < 0 {
		completed = 0
	}
	percent = 100 * float64(completed) / float64(total)
	if percent > 100 {
		percent = 100
	}
	percent = math.Round(percent*100) / 100
	return percent, completed == total
}

// rewardLevel returns the highest threshold not above streak, or 0.
func rewardLevel(streak int, thresholds []int) int {
	level := 0
	for _, t := range thresholds {
		if t <= streak && t > level {
			level = t
		}
	}
	return level
}
