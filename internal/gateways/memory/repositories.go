package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
)

type profileRepo struct{ v *view }

func (r profileRepo) Create(_ context.Context, profile *models.Profile) error {
	defer r.v.lock()()
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	if _, ok := r.v.st.profiles[profile.ID]; ok {
		return store.ErrDuplicate
	}
	if profile.Level == 0 {
		profile.Level = 1
	}
	now := time.Now()
	profile.CreatedAt, profile.UpdatedAt = now, now
	r.v.st.profiles[profile.ID] = copyProfile(profile)
	return nil
}

func (r profileRepo) Get(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	defer r.v.lock()()
	p, ok := r.v.st.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyProfile(p), nil
}

func (r profileRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return r.Get(ctx, id)
}

func (r profileRepo) Update(_ context.Context, profile *models.Profile) error {
	defer r.v.lock()()
	if _, ok := r.v.st.profiles[profile.ID]; !ok {
		return store.ErrNotFound
	}
	profile.UpdatedAt = time.Now()
	r.v.st.profiles[profile.ID] = copyProfile(profile)
	return nil
}

type questLogRepo struct{ v *view }

func (r questLogRepo) Create(_ context.Context, log *models.QuestLog) error {
	defer r.v.lock()()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if _, ok := r.v.st.logs[log.ID]; ok {
		return store.ErrDuplicate
	}
	log.CreatedAt = time.Now()
	r.v.st.logs[log.ID] = copyLog(log)
	return nil
}

func (r questLogRepo) Get(_ context.Context, id uuid.UUID) (*models.QuestLog, error) {
	defer r.v.lock()()
	l, ok := r.v.st.logs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyLog(l), nil
}

func (r questLogRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.QuestLog, error) {
	return r.Get(ctx, id)
}

func (r questLogRepo) MarkCompleted(_ context.Context, id uuid.UUID, completedAt time.Time, reflection string, xpAwarded int64) (bool, error) {
	defer r.v.lock()()
	l, ok := r.v.st.logs[id]
	if !ok || l.CompletedAt != nil {
		return false, nil
	}
	l.CompletedAt = &completedAt
	l.ReflectionText = &reflection
	l.XPAwarded = &xpAwarded
	return true, nil
}

type challengeRepo struct{ v *view }

func (r challengeRepo) Create(_ context.Context, challenge *models.Challenge) error {
	defer r.v.lock()()
	if challenge.ID == uuid.Nil {
		challenge.ID = uuid.New()
	}
	if _, ok := r.v.st.challenges[challenge.ID]; ok {
		return store.ErrDuplicate
	}
	challenge.CreatedAt = time.Now()
	r.v.st.challenges[challenge.ID] = copyChallenge(challenge)
	return nil
}

func (r challengeRepo) Get(_ context.Context, id uuid.UUID) (*models.Challenge, error) {
	defer r.v.lock()()
	c, ok := r.v.st.challenges[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyChallenge(c), nil
}

func (r challengeRepo) CreateParticipation(_ context.Context, p *models.ChallengeParticipation) error {
	defer r.v.lock()()
	for _, existing := range r.v.st.participations {
		if existing.UserID == p.UserID && existing.ChallengeID == p.ChallengeID {
			return store.ErrDuplicate
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.v.st.participations[p.ID] = copyParticipation(p)
	return nil
}

func (r challengeRepo) GetParticipation(_ context.Context, userID, challengeID uuid.UUID) (*models.ChallengeParticipation, error) {
	defer r.v.lock()()
	for _, p := range r.v.st.participations {
		if p.UserID == userID && p.ChallengeID == challengeID {
			return r.withChallenge(copyParticipation(p)), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r challengeRepo) ListParticipations(_ context.Context, userID uuid.UUID) ([]*models.ChallengeParticipation, error) {
	defer r.v.lock()()
	return r.participations(func(p *models.ChallengeParticipation) bool { return p.UserID == userID }), nil
}

func (r challengeRepo) OpenParticipations(_ context.Context, userID uuid.UUID) ([]*models.ChallengeParticipation, error) {
	defer r.v.lock()()
	return r.participations(func(p *models.ChallengeParticipation) bool {
		return p.UserID == userID && !p.Completed
	}), nil
}

func (r challengeRepo) participations(keep func(*models.ChallengeParticipation) bool) []*models.ChallengeParticipation {
	out := make([]*models.ChallengeParticipation, 0)
	for _, p := range r.v.st.participations {
		if keep(p) {
			out = append(out, r.withChallenge(copyParticipation(p)))
		}
	}
	sortByTime(out, func(p *models.ChallengeParticipation) int64 { return p.JoinedAt.UnixNano() })
	return out
}

func (r challengeRepo) withChallenge(p *models.ChallengeParticipation) *models.ChallengeParticipation {
	if c, ok := r.v.st.challenges[p.ChallengeID]; ok {
		p.Challenge = copyChallenge(c)
	}
	return p
}

func (r challengeRepo) UpdateParticipationProgress(_ context.Context, id uuid.UUID, progress int64, completed bool, at time.Time) error {
	defer r.v.lock()()
	p, ok := r.v.st.participations[id]
	if !ok {
		return store.ErrNotFound
	}
	p.CurrentProgress = progress
	if completed && !p.Completed {
		p.Completed = true
		p.CompletedAt = &at
	}
	p.UpdatedAt = at
	return nil
}

func (r challengeRepo) CreateTeamProgress(_ context.Context, p *models.TeamChallengeProgress) error {
	defer r.v.lock()()
	for _, existing := range r.v.st.teamProgress {
		if existing.TeamID == p.TeamID && existing.ChallengeID == p.ChallengeID {
			return store.ErrDuplicate
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.v.st.teamProgress[p.ID] = copyTeamProgress(p)
	return nil
}

func (r challengeRepo) GetTeamProgress(_ context.Context, teamID, challengeID uuid.UUID) (*models.TeamChallengeProgress, error) {
	defer r.v.lock()()
	for _, p := range r.v.st.teamProgress {
		if p.TeamID == teamID && p.ChallengeID == challengeID {
			return r.teamWithChallenge(copyTeamProgress(p)), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r challengeRepo) ListTeamProgress(_ context.Context, teamID uuid.UUID) ([]*models.TeamChallengeProgress, error) {
	defer r.v.lock()()
	return r.teamProgress(func(p *models.TeamChallengeProgress) bool { return p.TeamID == teamID }), nil
}

func (r challengeRepo) OpenTeamProgress(_ context.Context, teamIDs []uuid.UUID) ([]*models.TeamChallengeProgress, error) {
	defer r.v.lock()()
	wanted := make(map[uuid.UUID]bool, len(teamIDs))
	for _, id := range teamIDs {
		wanted[id] = true
	}
	return r.teamProgress(func(p *models.TeamChallengeProgress) bool {
		return wanted[p.TeamID] && !p.Completed
	}), nil
}

func (r challengeRepo) teamProgress(keep func(*models.TeamChallengeProgress) bool) []*models.TeamChallengeProgress {
	out := make([]*models.TeamChallengeProgress, 0)
	for _, p := range r.v.st.teamProgress {
		if keep(p) {
			out = append(out, r.teamWithChallenge(copyTeamProgress(p)))
		}
	}
	sortByTime(out, func(p *models.TeamChallengeProgress) int64 { return p.JoinedAt.UnixNano() })
	return out
}

func (r challengeRepo) teamWithChallenge(p *models.TeamChallengeProgress) *models.TeamChallengeProgress {
	if c, ok := r.v.st.challenges[p.ChallengeID]; ok {
		p.Challenge = copyChallenge(c)
	}
	return p
}

func (r challengeRepo) SetMemberBaseline(_ context.Context, id uuid.UUID, userID uuid.UUID, baseline models.Baseline) error {
	defer r.v.lock()()
	p, ok := r.v.st.teamProgress[id]
	if !ok {
		return store.ErrNotFound
	}
	if p.BaselineData == nil {
		p.BaselineData = make(map[string]models.Baseline)
	}
	if _, exists := p.BaselineData[userID.String()]; !exists {
		p.BaselineData[userID.String()] = baseline
	}
	return nil
}

func (r challengeRepo) UpdateTeamProgress(_ context.Context, id uuid.UUID, progress int64, completed bool, at time.Time) error {
	defer r.v.lock()()
	p, ok := r.v.st.teamProgress[id]
	if !ok {
		return store.ErrNotFound
	}
	p.CurrentProgress = progress
	if completed && !p.Completed {
		p.Completed = true
		p.CompletedAt = &at
	}
	p.UpdatedAt = at
	return nil
}

func (r challengeRepo) ActiveUsers(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	defer r.v.lock()()
	running := func(challengeID uuid.UUID) bool {
		c, ok := r.v.st.challenges[challengeID]
		return ok && !c.Ended(now)
	}

	seen := make(map[uuid.UUID]bool)
	out := make([]uuid.UUID, 0)
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, p := range r.v.st.participations {
		if !p.Completed && running(p.ChallengeID) {
			add(p.UserID)
		}
	}
	for _, p := range r.v.st.teamProgress {
		if p.Completed || !running(p.ChallengeID) {
			continue
		}
		for k, m := range r.v.st.members {
			if k.team == p.TeamID {
				add(m.UserID)
			}
		}
	}
	return out, nil
}

type teamRepo struct{ v *view }

func (r teamRepo) Create(_ context.Context, team *models.Team) error {
	defer r.v.lock()()
	if team.ID == uuid.Nil {
		team.ID = uuid.New()
	}
	if _, ok := r.v.st.teams[team.ID]; ok {
		return store.ErrDuplicate
	}
	team.CreatedAt = time.Now()
	t := *team
	r.v.st.teams[team.ID] = &t
	return nil
}

func (r teamRepo) Get(_ context.Context, id uuid.UUID) (*models.Team, error) {
	defer r.v.lock()()
	t, ok := r.v.st.teams[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r teamRepo) AddMember(_ context.Context, member *models.TeamMember) error {
	defer r.v.lock()()
	key := memberKey{team: member.TeamID, user: member.UserID}
	if _, ok := r.v.st.members[key]; ok {
		return store.ErrDuplicate
	}
	m := *member
	r.v.st.members[key] = &m
	return nil
}

func (r teamRepo) IsMember(_ context.Context, teamID, userID uuid.UUID) (bool, error) {
	defer r.v.lock()()
	_, ok := r.v.st.members[memberKey{team: teamID, user: userID}]
	return ok, nil
}

func (r teamRepo) Members(_ context.Context, teamID uuid.UUID) ([]*models.TeamMember, error) {
	defer r.v.lock()()
	out := make([]*models.TeamMember, 0)
	for k, m := range r.v.st.members {
		if k.team == teamID {
			c := *m
			c.LastActiveAt = copyTime(m.LastActiveAt)
			out = append(out, &c)
		}
	}
	sortByTime(out, func(m *models.TeamMember) int64 { return m.JoinedAt.UnixNano() })
	return out, nil
}

func (r teamRepo) TeamsOf(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	defer r.v.lock()()
	out := make([]uuid.UUID, 0)
	for k := range r.v.st.members {
		if k.user == userID {
			out = append(out, k.team)
		}
	}
	return out, nil
}

func (r teamRepo) TouchMember(_ context.Context, userID uuid.UUID, at time.Time) error {
	defer r.v.lock()()
	for k, m := range r.v.st.members {
		if k.user == userID {
			t := at
			m.LastActiveAt = &t
		}
	}
	return nil
}

type rewardRepo struct{ v *view }

func (r rewardRepo) InsertLedger(_ context.Context, entry *models.RewardLedger) (bool, error) {
	defer r.v.lock()()
	key := ledgerKey{kind: entry.Kind, subject: entry.SubjectID, challenge: entry.ChallengeID}
	if _, ok := r.v.st.ledger[key]; ok {
		return false, nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	e := *entry
	r.v.st.ledger[key] = &e
	return true, nil
}

func (r rewardRepo) LedgerFor(_ context.Context, challengeID uuid.UUID) ([]*models.RewardLedger, error) {
	defer r.v.lock()()
	out := make([]*models.RewardLedger, 0)
	for k, e := range r.v.st.ledger {
		if k.challenge == challengeID {
			c := *e
			out = append(out, &c)
		}
	}
	sortByTime(out, func(e *models.RewardLedger) int64 { return e.CreatedAt.UnixNano() })
	return out, nil
}

func (r rewardRepo) AwardBadge(_ context.Context, badge *models.UserBadge) (bool, error) {
	defer r.v.lock()()
	key := badgeKey{user: badge.UserID, badge: badge.BadgeID}
	if _, ok := r.v.st.badges[key]; ok {
		return false, nil
	}
	b := *badge
	r.v.st.badges[key] = &b
	return true, nil
}

func (r rewardRepo) Badges(_ context.Context, userID uuid.UUID) ([]*models.UserBadge, error) {
	defer r.v.lock()()
	out := make([]*models.UserBadge, 0)
	for k, b := range r.v.st.badges {
		if k.user == userID {
			c := *b
			out = append(out, &c)
		}
	}
	sortByTime(out, func(b *models.UserBadge) int64 { return b.AwardedAt.UnixNano() })
	return out, nil
}

type taskRepo struct{ v *view }

func (r taskRepo) CreateBatch(_ context.Context, runs []*models.TaskRun) error {
	defer r.v.lock()()
	for _, run := range runs {
		if run.ID == uuid.Nil {
			run.ID = uuid.New()
		}
		if run.Status == "" {
			run.Status = models.TaskStatusPending
		}
		r.v.st.tasks[run.ID] = copyTask(run)
	}
	return nil
}

func (r taskRepo) Get(_ context.Context, id uuid.UUID) (*models.TaskRun, error) {
	defer r.v.lock()()
	t, ok := r.v.st.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTask(t), nil
}

func runnable(t *models.TaskRun, staleBefore time.Time, maxAttempts int) bool {
	if t.Attempts >= maxAttempts {
		return false
	}
	switch t.Status {
	case models.TaskStatusPending:
		return true
	case models.TaskStatusRunning:
		return t.StartedAt != nil && t.StartedAt.Before(staleBefore)
	}
	return false
}

func (r taskRepo) ListRunnable(_ context.Context, staleBefore time.Time, maxAttempts, limit int) ([]*models.TaskRun, error) {
	defer r.v.lock()()
	out := make([]*models.TaskRun, 0)
	for _, t := range r.v.st.tasks {
		if runnable(t, staleBefore, maxAttempts) {
			out = append(out, copyTask(t))
		}
	}
	sortByTime(out, func(t *models.TaskRun) int64 { return t.CreatedAt.UnixNano() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r taskRepo) Claim(_ context.Context, id uuid.UUID, now, staleBefore time.Time, maxAttempts int) (bool, error) {
	defer r.v.lock()()
	t, ok := r.v.st.tasks[id]
	if !ok || !runnable(t, staleBefore, maxAttempts) {
		return false, nil
	}
	t.Status = models.TaskStatusRunning
	t.Attempts++
	t.StartedAt = &now
	t.UpdatedAt = now
	return true, nil
}

func (r taskRepo) Finish(_ context.Context, id uuid.UUID, status string, lastErr *string, at time.Time) error {
	defer r.v.lock()()
	t, ok := r.v.st.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	t.LastError = lastErr
	t.FinishedAt = &at
	t.UpdatedAt = at
	return nil
}

func (r taskRepo) ListFinishedBefore(_ context.Context, cutoff time.Time, limit int) ([]*models.TaskRun, error) {
	defer r.v.lock()()
	out := make([]*models.TaskRun, 0)
	for _, t := range r.v.st.tasks {
		if t.Finished() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			out = append(out, copyTask(t))
		}
	}
	sortByTime(out, func(t *models.TaskRun) int64 { return t.FinishedAt.UnixNano() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r taskRepo) Delete(_ context.Context, ids []uuid.UUID) (int, error) {
	defer r.v.lock()()
	n := 0
	for _, id := range ids {
		if _, ok := r.v.st.tasks[id]; ok {
			delete(r.v.st.tasks, id)
			n++
		}
	}
	return n, nil
}

type leagueRepo struct{ v *view }

func weekKey(userID uuid.UUID, weekStart time.Time) leagueKey {
	return leagueKey{user: userID, week: weekStart.Format(time.DateOnly)}
}

func (r leagueRepo) AddWeekly(_ context.Context, userID uuid.UUID, weekStart time.Time, xp int64, quests int, at time.Time) error {
	defer r.v.lock()()
	key := weekKey(userID, weekStart)
	lp, ok := r.v.st.leagues[key]
	if !ok {
		lp = &models.LeagueParticipant{
			ID:        uuid.New(),
			UserID:    userID,
			WeekStart: weekStart,
			CreatedAt: at,
		}
		r.v.st.leagues[key] = lp
	}
	lp.XPEarned += xp
	lp.QuestsCompleted += quests
	lp.UpdatedAt = at
	return nil
}

func (r leagueRepo) Get(_ context.Context, userID uuid.UUID, weekStart time.Time) (*models.LeagueParticipant, error) {
	defer r.v.lock()()
	lp, ok := r.v.st.leagues[weekKey(userID, weekStart)]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *lp
	return &c, nil
}

type referralRepo struct{ v *view }

func (r referralRepo) Create(_ context.Context, referral *models.Referral) error {
	defer r.v.lock()()
	for _, existing := range r.v.st.referrals {
		if existing.RefereeID == referral.RefereeID {
			return store.ErrDuplicate
		}
	}
	if referral.ID == uuid.Nil {
		referral.ID = uuid.New()
	}
	if referral.Status == "" {
		referral.Status = models.ReferralPending
	}
	referral.CreatedAt = time.Now()
	c := *referral
	r.v.st.referrals[referral.ID] = &c
	return nil
}

func (r referralRepo) GetByReferee(_ context.Context, refereeID uuid.UUID) (*models.Referral, error) {
	defer r.v.lock()()
	for _, ref := range r.v.st.referrals {
		if ref.RefereeID == refereeID {
			c := *ref
			c.CompletedAt = copyTime(ref.CompletedAt)
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r referralRepo) Complete(_ context.Context, id uuid.UUID, rewardXP int64, at time.Time) (bool, error) {
	defer r.v.lock()()
	ref, ok := r.v.st.referrals[id]
	if !ok || ref.Status != models.ReferralPending {
		return false, nil
	}
	ref.Status = models.ReferralCompleted
	ref.RewardXP = rewardXP
	ref.CompletedAt = &at
	return true, nil
}

type itemRepo struct{ v *view }

func (r itemRepo) Create(_ context.Context, item *models.UserItem) error {
	defer r.v.lock()()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	c := *item
	r.v.st.items[item.ID] = &c
	return nil
}

func (r itemRepo) LastFromSource(_ context.Context, userID uuid.UUID, source string) (*models.UserItem, error) {
	defer r.v.lock()()
	var last *models.UserItem
	for _, it := range r.v.st.items {
		if it.UserID != userID || it.Source != source {
			continue
		}
		if last == nil || it.AcquiredAt.After(last.AcquiredAt) {
			last = it
		}
	}
	if last == nil {
		return nil, store.ErrNotFound
	}
	c := *last
	return &c, nil
}

func (r itemRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.UserItem, error) {
	defer r.v.lock()()
	out := make([]*models.UserItem, 0)
	for _, it := range r.v.st.items {
		if it.UserID == userID {
			c := *it
			out = append(out, &c)
		}
	}
	sortByTime(out, func(i *models.UserItem) int64 { return i.AcquiredAt.UnixNano() })
	return out, nil
}
