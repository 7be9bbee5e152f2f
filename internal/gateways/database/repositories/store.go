// Package repositories implements the persistence contract on Postgres
// through bun. Every repository runs against a bun.IDB so the same code
// serves both the pool and an open transaction.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/questline/progression/internal/domain/store"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const DefaultQueryTimeout = 5 * time.Second

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	Timeout        time.Duration
}

func StandardTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		Timeout:        10 * time.Second,
	}
}

type Store struct {
	repos
	db   *bun.DB
	opts TxOptions
}

var _ store.Store = (*Store)(nil)

func NewStore(db *bun.DB, opts TxOptions) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = StandardTxOptions().Timeout
	}
	return &Store{
		repos: repos{db: db, timeout: DefaultQueryTimeout},
		db:    db,
		opts:  opts,
	}
}

// InTx runs fn inside one transaction. Row locks taken through GetForUpdate
// are held until fn returns.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.opts.IsolationLevel})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, repos{db: tx, timeout: s.repos.timeout}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type repos struct {
	db      bun.IDB
	timeout time.Duration
}

func (r repos) Profiles() store.ProfileRepository     { return &profileRepository{r} }
func (r repos) QuestLogs() store.QuestLogRepository   { return &questLogRepository{r} }
func (r repos) Challenges() store.ChallengeRepository { return &challengeRepository{r} }
func (r repos) Teams() store.TeamRepository           { return &teamRepository{r} }
func (r repos) Rewards() store.RewardRepository       { return &rewardRepository{r} }
func (r repos) Tasks() store.TaskRunRepository        { return &taskRunRepository{r} }
func (r repos) Leagues() store.LeagueRepository       { return &leagueRepository{r} }
func (r repos) Referrals() store.ReferralRepository   { return &referralRepository{r} }
func (r repos) Items() store.ItemRepository           { return &itemRepository{r} }

func (r repos) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// handleError maps driver errors onto the store sentinels.
func handleError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case isUniqueViolation(err):
		return store.ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

// affected reports whether a statement touched at least one row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// expectRow turns an update that matched nothing into ErrNotFound.
func expectRow(res sql.Result, err error) error {
	if err != nil {
		return handleError("update", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}
