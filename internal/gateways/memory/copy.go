package memory

import (
	"time"

	"github.com/questline/progression/internal/gateways/database/models"
)

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyProfile(p *models.Profile) *models.Profile {
	c := *p
	c.LastQuestDate = copyTime(p.LastQuestDate)
	c.StreakLostAt = copyTime(p.StreakLostAt)
	c.XPBoosterExpiresAt = copyTime(p.XPBoosterExpiresAt)
	c.StreakFreezeExpiresAt = copyTime(p.StreakFreezeExpiresAt)
	if p.LastStreakCount != nil {
		n := *p.LastStreakCount
		c.LastStreakCount = &n
	}
	return &c
}

func copyLog(l *models.QuestLog) *models.QuestLog {
	c := *l
	c.CompletedAt = copyTime(l.CompletedAt)
	if l.ReflectionText != nil {
		s := *l.ReflectionText
		c.ReflectionText = &s
	}
	if l.XPAwarded != nil {
		n := *l.XPAwarded
		c.XPAwarded = &n
	}
	return &c
}

func copyChallenge(ch *models.Challenge) *models.Challenge {
	c := *ch
	if ch.RewardBadgeID != nil {
		s := *ch.RewardBadgeID
		c.RewardBadgeID = &s
	}
	return &c
}

func copyParticipation(p *models.ChallengeParticipation) *models.ChallengeParticipation {
	c := *p
	c.CompletedAt = copyTime(p.CompletedAt)
	c.Challenge = nil
	return &c
}

func copyTeamProgress(p *models.TeamChallengeProgress) *models.TeamChallengeProgress {
	c := *p
	c.CompletedAt = copyTime(p.CompletedAt)
	c.Challenge = nil
	c.BaselineData = make(map[string]models.Baseline, len(p.BaselineData))
	for k, v := range p.BaselineData {
		c.BaselineData[k] = v
	}
	return &c
}

func copyTask(t *models.TaskRun) *models.TaskRun {
	c := *t
	c.StartedAt = copyTime(t.StartedAt)
	c.FinishedAt = copyTime(t.FinishedAt)
	if t.LastError != nil {
		s := *t.LastError
		c.LastError = &s
	}
	return &c
}
