package progress

import "github.com/questline/progression/internal/gateways/database/models"

// Individual returns a participant's progress towards a target. Quest and XP
// targets count growth since the baseline; streak targets read the live
// streak.
func Individual(targetType string, current, baseline models.Baseline) int64 {
	switch targetType {
	case models.TargetQuests:
		return max(int64(current.Quests-baseline.Quests), 0)
	case models.TargetXP:
		return max(current.XP-baseline.XP, 0)
	case models.TargetStreak:
		return int64(current.Streak)
	default:
		return 0
	}
}

// MemberState pairs a member's live counters with the baseline captured when
// they joined.
type MemberState struct {
	Current  models.Baseline
	Baseline models.Baseline
}

// Team sums member progress, except for streak targets where the longest live
// streak counts.
func Team(targetType string, members []MemberState) int64 {
	var total int64
	for _, m := range members {
		v := Individual(targetType, m.Current, m.Baseline)
		if targetType == models.TargetStreak {
			total = max(total, v)
			continue
		}
		total += v
	}
	return total
}
