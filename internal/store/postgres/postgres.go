// Package postgres implements store.Store on PostgreSQL through sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

const uniqueViolation = "23505"

// Store runs queries against a sqlx connection pool.
type Store struct {
	db *sqlx.DB
}

// New wraps an open pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.WithError(rbErr).Warn("[STORE] rollback failed")
			}
		}
	}()

	if err = fn(&queries{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return fn(&queries{q: s.db})
}

func (s *Store) Close() error { return s.db.Close() }

// queries issues every statement of store.Tx against either the pool or an
// open transaction.
type queries struct {
	q sqlx.ExtContext
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicateKey, pqErr.Constraint)
	}
	return err
}

const accountColumns = `id, oranges, gems, lifetime_oranges, lifetime_gems, created_at, updated_at`

func (s *queries) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var a models.Account
	err := sqlx.GetContext(ctx, s.q, &a, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *queries) EnsureAccount(ctx context.Context, id string, now time.Time) (*models.Account, error) {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (id, created_at, updated_at) VALUES ($1, $2, $2)
		ON CONFLICT (id) DO NOTHING`, id, now)
	if err != nil {
		return nil, mapErr(err)
	}
	return s.GetAccount(ctx, id)
}

func (s *queries) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	var a models.Account
	err := sqlx.GetContext(ctx, s.q, &a, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *queries) SaveBalances(ctx context.Context, a *models.Account) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE accounts
		SET oranges = $2, gems = $3, lifetime_oranges = $4, lifetime_gems = $5, updated_at = $6
		WHERE id = $1`,
		a.ID, a.Oranges, a.Gems, a.LifetimeOranges, a.LifetimeGems, a.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

const transactionColumns = `id, account_id, direction, currency, amount, balance_after, source, source_ref, metadata, idempotency_key, created_at`

func (s *queries) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	if len(t.Metadata) == 0 {
		t.Metadata = []byte("{}")
	}
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (:id, :account_id, :direction, :currency, :amount, :balance_after, :source, :source_ref, :metadata, :idempotency_key, :created_at)`, t)
	return mapErr(err)
}

func (s *queries) TransactionsByKeys(ctx context.Context, keys []string) ([]models.Transaction, error) {
	var rows []models.Transaction
	if len(keys) == 0 {
		return rows, nil
	}
	err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = ANY($1)`, pq.Array(keys))
	return rows, mapErr(err)
}

func (s *queries) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID, limitOrAll(limit), offset)
	return rows, mapErr(err)
}

func (s *queries) SumTransactions(ctx context.Context, accountID string) (models.Amounts, error) {
	var sum models.Amounts
	err := sqlx.GetContext(ctx, s.q, &sum, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE currency = 'oranges'), 0) AS oranges,
			COALESCE(SUM(amount) FILTER (WHERE currency = 'gems'), 0) AS gems
		FROM transactions WHERE account_id = $1`, accountID)
	return sum, mapErr(err)
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

const sessionColumns = `account_id, session_id, activity_id, started_at, last_heartbeat`

func (s *queries) GetSession(ctx context.Context, accountID string) (*models.Session, error) {
	var sess models.Session
	err := sqlx.GetContext(ctx, s.q, &sess, `SELECT `+sessionColumns+` FROM sessions WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &sess, nil
}

func (s *queries) PutSession(ctx context.Context, sess *models.Session) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (:account_id, :session_id, :activity_id, :started_at, :last_heartbeat)
		ON CONFLICT (account_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			activity_id = EXCLUDED.activity_id,
			started_at = EXCLUDED.started_at,
			last_heartbeat = EXCLUDED.last_heartbeat`, sess)
	return mapErr(err)
}

func (s *queries) TouchSession(ctx context.Context, accountID, sessionID string, now, liveAfter time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE sessions SET last_heartbeat = $3
		WHERE account_id = $1 AND session_id = $2 AND last_heartbeat > $4`,
		accountID, sessionID, now, liveAfter)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *queries) DeleteSession(ctx context.Context, accountID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID)
	return mapErr(err)
}

const progressColumns = `account_id, kind, goal_id, day, progress, target, completed_at, claimed_at, reward_oranges, reward_gems, created_at, updated_at`

func (s *queries) GetProgress(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error) {
	var p models.ProgressRecord
	err := sqlx.GetContext(ctx, s.q, &p, `
		SELECT `+progressColumns+` FROM progress_records
		WHERE account_id = $1 AND kind = $2 AND goal_id = $3 AND day = $4`,
		key.AccountID, key.Kind, key.GoalID, key.Day)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *queries) InsertProgress(ctx context.Context, p *models.ProgressRecord) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO progress_records (`+progressColumns+`)
		VALUES (:account_id, :kind, :goal_id, :day, :progress, :target, :completed_at, :claimed_at,
			:reward_oranges, :reward_gems, :created_at, :updated_at)`, p)
	return mapErr(err)
}

func (s *queries) UpdateProgress(ctx context.Context, p *models.ProgressRecord) error {
	res, err := sqlx.NamedExecContext(ctx, s.q, `
		UPDATE progress_records SET
			progress = :progress,
			completed_at = :completed_at,
			reward_oranges = :reward_oranges,
			reward_gems = :reward_gems,
			updated_at = :updated_at
		WHERE account_id = :account_id AND kind = :kind AND goal_id = :goal_id AND day = :day`, p)
	if err != nil {
		return mapErr(err)
	}
	return expectRow(res)
}

func (s *queries) ClaimProgress(ctx context.Context, key models.ProgressKey, now time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE progress_records SET claimed_at = $5, updated_at = $5
		WHERE account_id = $1 AND kind = $2 AND goal_id = $3 AND day = $4
			AND completed_at IS NOT NULL AND claimed_at IS NULL`,
		key.AccountID, key.Kind, key.GoalID, key.Day, now)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *queries) ListProgress(ctx context.Context, accountID string, kind models.ProgressKind, day string) ([]models.ProgressRecord, error) {
	var rows []models.ProgressRecord
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT `+progressColumns+` FROM progress_records
		WHERE account_id = $1 AND kind = $2 AND day = $3
		ORDER BY goal_id`, accountID, kind, day)
	return rows, mapErr(err)
}

func (s *queries) ForfeitUnclaimed(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE progress_records SET reward_oranges = 0, reward_gems = 0, updated_at = $2
		WHERE account_id = $1 AND claimed_at IS NULL AND (reward_oranges <> 0 OR reward_gems <> 0)`,
		accountID, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

const banColumns = `account_id, reason, evidence, appeal_status, banned_at, updated_at`

func (s *queries) GetBan(ctx context.Context, accountID string) (*models.BanRecord, error) {
	var b models.BanRecord
	err := sqlx.GetContext(ctx, s.q, &b, `SELECT `+banColumns+` FROM bans WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &b, nil
}

// UpsertBan keeps the original banned_at of an existing row.
func (s *queries) UpsertBan(ctx context.Context, b *models.BanRecord) error {
	if len(b.Evidence) == 0 {
		b.Evidence = []byte("{}")
	}
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO bans (`+banColumns+`)
		VALUES (:account_id, :reason, :evidence, :appeal_status, :banned_at, :updated_at)
		ON CONFLICT (account_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			evidence = EXCLUDED.evidence,
			appeal_status = EXCLUDED.appeal_status,
			updated_at = EXCLUDED.updated_at`, b)
	return mapErr(err)
}

func (s *queries) SetAppealStatus(ctx context.Context, accountID string, status models.AppealStatus, now time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE bans SET appeal_status = $2, updated_at = $3 WHERE account_id = $1`, accountID, status, now)
	if err != nil {
		return mapErr(err)
	}
	return expectRow(res)
}

const resultColumns = `account_id, session_id, activity_id, score, duration_seconds, reward_oranges, completed_at`

func (s *queries) InsertGameResult(ctx context.Context, r *models.GameResult) error {
	rows, err := sqlx.NamedQueryContext(ctx, s.q, `
		INSERT INTO game_results (`+resultColumns+`)
		VALUES (:account_id, :session_id, :activity_id, :score, :duration_seconds, :reward_oranges, :completed_at)
		RETURNING id`, r)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&r.ID); err != nil {
			return err
		}
	}
	return mapErr(rows.Err())
}

func (s *queries) GameResultBySession(ctx context.Context, sessionID string) (*models.GameResult, error) {
	var r models.GameResult
	err := sqlx.GetContext(ctx, s.q, &r, `SELECT id, `+resultColumns+` FROM game_results WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (s *queries) ActivityStats(ctx context.Context, activityID string) (models.ActivityStats, error) {
	var st models.ActivityStats
	err := sqlx.GetContext(ctx, s.q, &st, `
		SELECT
			COUNT(*) AS sample_count,
			COALESCE(AVG(score), 0)::float8 AS mean_score,
			COALESCE(MAX(score), 0)::float8 AS max_score,
			COALESCE(AVG(duration_seconds), 0)::float8 AS mean_duration,
			COALESCE(AVG(score / NULLIF(duration_seconds, 0)), 0)::float8 AS mean_score_per_second,
			COALESCE(percentile_cont(0.9) WITHIN GROUP (ORDER BY score), 0)::float8 AS p90_score
		FROM game_results WHERE activity_id = $1`, activityID)
	return st, mapErr(err)
}

func (s *queries) PersonalBest(ctx context.Context, accountID, activityID string) (int64, bool, error) {
	var best sql.NullInt64
	err := sqlx.GetContext(ctx, s.q, &best,
		`SELECT MAX(score) FROM game_results WHERE account_id = $1 AND activity_id = $2`, accountID, activityID)
	if err != nil {
		return 0, false, mapErr(err)
	}
	return best.Int64, best.Valid, nil
}

func (s *queries) GetDailyLogin(ctx context.Context, accountID, day string) (*models.DailyLogin, error) {
	var d models.DailyLogin
	err := sqlx.GetContext(ctx, s.q, &d,
		`SELECT account_id, day, streak, claimed_at FROM daily_logins WHERE account_id = $1 AND day = $2`, accountID, day)
	if err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

func (s *queries) InsertDailyLogin(ctx context.Context, d *models.DailyLogin) error {
	_, err := sqlx.NamedExecContext(ctx, s.q, `
		INSERT INTO daily_logins (account_id, day, streak, claimed_at)
		VALUES (:account_id, :day, :streak, :claimed_at)`, d)
	return mapErr(err)
}

const auditColumns = `kind, account_id, activity_id, session_id, score, reason, details, created_at`

func (s *queries) AppendAudit(ctx context.Context, r *models.AuditRecord) error {
	if len(r.Details) == 0 {
		r.Details = []byte("{}")
	}
	rows, err := sqlx.NamedQueryContext(ctx, s.q, `
		INSERT INTO abuse_audit (`+auditColumns+`)
		VALUES (:kind, :account_id, :activity_id, :session_id, :score, :reason, :details, :created_at)
		RETURNING id`, r)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&r.ID); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *queries) ListAudit(ctx context.Context, accountID string, limit, offset int) ([]models.AuditRecord, error) {
	var rows []models.AuditRecord
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT id, `+auditColumns+` FROM abuse_audit
		WHERE ($1::text = '' OR account_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID, limitOrAll(limit), offset)
	return rows, mapErr(err)
}

// adminRow carries the roles array that models.AdminAccount keeps out of sqlx.
type adminRow struct {
	models.AdminAccount
	RoleList pq.StringArray `db:"roles"`
}

func (s *queries) GetAdminAccount(ctx context.Context, username string) (*models.AdminAccount, error) {
	var row adminRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT username, display_name, token_hash, roles, created_at, updated_at
		FROM admin_accounts WHERE username = $1`, username)
	if err != nil {
		return nil, mapErr(err)
	}
	a := row.AdminAccount
	a.Roles = []string(row.RoleList)
	return &a, nil
}

func (s *queries) UpsertAdminAccount(ctx context.Context, a *models.AdminAccount) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO admin_accounts (username, display_name, token_hash, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (username) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			token_hash = EXCLUDED.token_hash,
			roles = EXCLUDED.roles,
			updated_at = EXCLUDED.updated_at`,
		a.Username, a.DisplayName, a.TokenHash, pq.Array(a.Roles), a.UpdatedAt)
	return mapErr(err)
}

func (s *queries) InsertAdminAudit(ctx context.Context, a *models.AdminAudit) error {
	if len(a.Details) == 0 {
		a.Details = []byte("{}")
	}
	return sqlx.GetContext(ctx, s.q, &a.ID, `
		INSERT INTO admin_audit (admin_username, ip, route, action, details, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`, a.AdminUsername, a.IP, a.Route, a.Action, a.Details, a.Success, a.CreatedAt)
}

func (s *queries) ListAdminAudit(ctx context.Context, username string, limit, offset int) ([]models.AdminAudit, error) {
	var rows []models.AdminAudit
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT id, admin_username, ip, route, action, details, success, created_at
		FROM admin_audit
		WHERE ($1::text = '' OR admin_username = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, username, limitOrAll(limit), offset)
	return rows, mapErr(err)
}
