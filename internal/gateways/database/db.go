package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/questline/progression/internal/config"
	"github.com/questline/progression/internal/gateways/database/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	defaultConnTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
)

type DB struct {
	pool  *pgxpool.Pool
	bunDB *bun.DB
}

func New(ctx context.Context, cfg config.DBConfig) (*DB, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var conn net.Conn
	var err error
	for i := 0; i < defaultMaxRetries; i++ {
		conn, err = net.DialTimeout("tcp", addr, defaultConnTimeout)
		if err == nil {
			break
		}
		time.Sleep(defaultRetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("database server unreachable after %d attempts: %w", defaultMaxRetries, err)
	}
	conn.Close()

	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(cfg.MaxLifetime) * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool, bunDB: newBunDB(cfg)}, nil
}

func buildConnString(cfg config.DBConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Database,
	}
	q := u.Query()
	q.Set("sslmode", cfg.SSLMode)
	q.Set("connect_timeout", "5")
	u.RawQuery = q.Encode()
	return u.String()
}

func newBunDB(cfg config.DBConfig) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(buildConnString(cfg))))
	if cfg.PoolSize > 0 {
		sqldb.SetMaxOpenConns(cfg.PoolSize)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)
	}
	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(queryHook{})
	return db
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func (db *DB) ExecWithLog(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	start := time.Now()
	result, err := db.pool.Exec(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		slog.Error("Query failed",
			slog.String("type", "db"),
			slog.String("operation", "exec"),
			slog.String("query", sql),
			slog.Duration("took", duration),
			slog.Any("error", err),
		)
		return result, err
	}

	slog.Debug("Query executed",
		slog.String("type", "db"),
		slog.String("operation", "exec"),
		slog.String("query", sql),
		slog.Duration("took", duration),
		slog.Int64("affected_rows", result.RowsAffected()),
	)
	return result, nil
}

func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
	if db.bunDB != nil {
		db.bunDB.Close()
	}
}

// Tables lists every model in creation order.
func Tables() []interface{} {
	return []interface{}{
		(*models.Profile)(nil),
		(*models.QuestLog)(nil),
		(*models.Challenge)(nil),
		(*models.ChallengeParticipation)(nil),
		(*models.Team)(nil),
		(*models.TeamMember)(nil),
		(*models.TeamChallengeProgress)(nil),
		(*models.RewardLedger)(nil),
		(*models.UserBadge)(nil),
		(*models.UserItem)(nil),
		(*models.TaskRun)(nil),
		(*models.LeagueParticipant)(nil),
		(*models.Referral)(nil),
	}
}

// Indexes are applied after the tables exist. Unique keys come from the model
// tags.
var Indexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_quest_logs_user ON quest_logs(user_id, assigned_for);",
	"CREATE INDEX IF NOT EXISTS idx_quest_logs_open ON quest_logs(user_id) WHERE completed_at IS NULL;",
	"CREATE INDEX IF NOT EXISTS idx_challenges_ends_at ON challenges(ends_at);",
	"CREATE INDEX IF NOT EXISTS idx_cp_open ON challenge_participations(user_id) WHERE completed = false;",
	"CREATE INDEX IF NOT EXISTS idx_tcp_open ON team_challenge_progress(team_id) WHERE completed = false;",
	"CREATE INDEX IF NOT EXISTS idx_team_members_user ON team_members(user_id);",
	"CREATE INDEX IF NOT EXISTS idx_reward_ledger_challenge ON reward_ledger(challenge_id);",
	"CREATE INDEX IF NOT EXISTS idx_user_items_source ON user_items(user_id, source, acquired_at DESC);",
	"CREATE INDEX IF NOT EXISTS idx_task_runs_runnable ON task_runs(created_at) WHERE status IN ('pending', 'running');",
	"CREATE INDEX IF NOT EXISTS idx_task_runs_finished ON task_runs(finished_at) WHERE status IN ('succeeded', 'failed');",
	"CREATE INDEX IF NOT EXISTS idx_task_runs_user ON task_runs(user_id, created_at DESC);",
}

// InitializeSchema creates all tables and indexes. It is safe to run on every
// start.
func (db *DB) InitializeSchema(ctx context.Context) error {
	for _, model := range Tables() {
		if _, err := db.bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, idx := range Indexes {
		if _, err := db.ExecWithLog(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	slog.Info("Database schema initialized",
		slog.String("type", "db"),
		slog.Int("tables", len(Tables())),
		slog.Int("indexes", len(Indexes)),
	)
	return nil
}
