// Package memory is an in-process implementation of store.Store. Every
// transaction holds one lock for its whole duration and is rolled back by
// restoring a snapshot taken when it began.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/questline/progression/internal/domain/store"
	"github.com/questline/progression/internal/gateways/database/models"
)

type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

type state struct {
	profiles       map[uuid.UUID]*models.Profile
	logs           map[uuid.UUID]*models.QuestLog
	challenges     map[uuid.UUID]*models.Challenge
	participations map[uuid.UUID]*models.ChallengeParticipation
	teams          map[uuid.UUID]*models.Team
	members        map[memberKey]*models.TeamMember
	teamProgress   map[uuid.UUID]*models.TeamChallengeProgress
	ledger         map[ledgerKey]*models.RewardLedger
	badges         map[badgeKey]*models.UserBadge
	tasks          map[uuid.UUID]*models.TaskRun
	leagues        map[leagueKey]*models.LeagueParticipant
	referrals      map[uuid.UUID]*models.Referral
	items          map[uuid.UUID]*models.UserItem
}

type memberKey struct{ team, user uuid.UUID }

type ledgerKey struct {
	kind      string
	subject   uuid.UUID
	challenge uuid.UUID
}

type badgeKey struct {
	user  uuid.UUID
	badge string
}

type leagueKey struct {
	user uuid.UUID
	week string
}

func newState() *state {
	return &state{
		profiles:       make(map[uuid.UUID]*models.Profile),
		logs:           make(map[uuid.UUID]*models.QuestLog),
		challenges:     make(map[uuid.UUID]*models.Challenge),
		participations: make(map[uuid.UUID]*models.ChallengeParticipation),
		teams:          make(map[uuid.UUID]*models.Team),
		members:        make(map[memberKey]*models.TeamMember),
		teamProgress:   make(map[uuid.UUID]*models.TeamChallengeProgress),
		ledger:         make(map[ledgerKey]*models.RewardLedger),
		badges:         make(map[badgeKey]*models.UserBadge),
		tasks:          make(map[uuid.UUID]*models.TaskRun),
		leagues:        make(map[leagueKey]*models.LeagueParticipant),
		referrals:      make(map[uuid.UUID]*models.Referral),
		items:          make(map[uuid.UUID]*models.UserItem),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.profiles {
		c.profiles[k] = copyProfile(v)
	}
	for k, v := range s.logs {
		c.logs[k] = copyLog(v)
	}
	for k, v := range s.challenges {
		c.challenges[k] = copyChallenge(v)
	}
	for k, v := range s.participations {
		c.participations[k] = copyParticipation(v)
	}
	for k, v := range s.teams {
		t := *v
		c.teams[k] = &t
	}
	for k, v := range s.members {
		m := *v
		c.members[k] = &m
	}
	for k, v := range s.teamProgress {
		c.teamProgress[k] = copyTeamProgress(v)
	}
	for k, v := range s.ledger {
		e := *v
		c.ledger[k] = &e
	}
	for k, v := range s.badges {
		b := *v
		c.badges[k] = &b
	}
	for k, v := range s.tasks {
		c.tasks[k] = copyTask(v)
	}
	for k, v := range s.leagues {
		l := *v
		c.leagues[k] = &l
	}
	for k, v := range s.referrals {
		r := *v
		c.referrals[k] = &r
	}
	for k, v := range s.items {
		i := *v
		c.items[k] = &i
	}
	return c
}

// InTx runs fn with exclusive access to the store. Any error returned by fn
// restores the state from before the call.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, &view{st: s.st}); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

// view binds the repositories to a state. A view without a mutex is already
// inside InTx and must not lock again.
type view struct {
	mu *sync.Mutex
	st *state
}

func (v *view) lock() func() {
	if v.mu == nil {
		return func() {}
	}
	v.mu.Lock()
	return v.mu.Unlock
}

func (s *Store) root() *view { return &view{mu: &s.mu, st: s.st} }

func (s *Store) Profiles() store.ProfileRepository     { return profileRepo{s.root()} }
func (s *Store) QuestLogs() store.QuestLogRepository   { return questLogRepo{s.root()} }
func (s *Store) Challenges() store.ChallengeRepository { return challengeRepo{s.root()} }
func (s *Store) Teams() store.TeamRepository           { return teamRepo{s.root()} }
func (s *Store) Rewards() store.RewardRepository       { return rewardRepo{s.root()} }
func (s *Store) Tasks() store.TaskRunRepository        { return taskRepo{s.root()} }
func (s *Store) Leagues() store.LeagueRepository       { return leagueRepo{s.root()} }
func (s *Store) Referrals() store.ReferralRepository   { return referralRepo{s.root()} }
func (s *Store) Items() store.ItemRepository           { return itemRepo{s.root()} }

func (v *view) Profiles() store.ProfileRepository     { return profileRepo{v} }
func (v *view) QuestLogs() store.QuestLogRepository   { return questLogRepo{v} }
func (v *view) Challenges() store.ChallengeRepository { return challengeRepo{v} }
func (v *view) Teams() store.TeamRepository           { return teamRepo{v} }
func (v *view) Rewards() store.RewardRepository       { return rewardRepo{v} }
func (v *view) Tasks() store.TaskRunRepository        { return taskRepo{v} }
func (v *view) Leagues() store.LeagueRepository       { return leagueRepo{v} }
func (v *view) Referrals() store.ReferralRepository   { return referralRepo{v} }
func (v *view) Items() store.ItemRepository           { return itemRepo{v} }

func sortByTime[T any](rows []T, at func(T) int64) {
	sort.SliceStable(rows, func(i, j int) bool { return at(rows[i]) < at(rows[j]) })
}
