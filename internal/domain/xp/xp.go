package xp

const (
	BaseAward     int64 = 250
	StreakBonus   int64 = 10
	BoosterFactor int64 = 2
	GoldenFactor  int64 = 3
	XPPerLevel    int64 = 1000
)

// Award returns the XP for one completion. The booster factor is applied
// before the golden factor; both may apply.
func Award(newStreak int, boosterActive, golden bool) int64 {
	award := BaseAward + int64(newStreak)*StreakBonus
	if boosterActive {
		award *= BoosterFactor
	}
	if golden {
		award *= GoldenFactor
	}
	return award
}

// LevelFor derives the level from cumulative XP.
func LevelFor(totalXP int64) int {
	if totalXP < 0 {
		totalXP = 0
	}
	return int(totalXP/XPPerLevel) + 1
}

// Apply adds award to the current total and returns the new total and level.
func Apply(currentXP, award int64) (int64, int) {
	total := currentXP + award
	return total, LevelFor(total)
}
