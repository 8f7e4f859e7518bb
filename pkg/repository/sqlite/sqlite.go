// Package sqlite implements the repository on an embedded SQLite database.
// It is the local store of the device agent and can back small servers.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/secmon-lab/changegate/pkg/domain/interfaces"
	"github.com/secmon-lab/changegate/pkg/domain/model"
	"github.com/secmon-lab/changegate/pkg/domain/types"
)

const pragmas = "_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"

// Repository stores every entity in one SQLite database
type Repository struct {
	db *sql.DB

	provisionalTickets bool
}

type Option func(*Repository)

// WithProvisionalTickets numbers created requests CR-YYYYMMDD-LNNNN, for
// device stores whose tickets are assigned by the server
func WithProvisionalTickets() Option {
	return func(r *Repository) {
		r.provisionalTickets = true
	}
}

var _ interfaces.Repository = &Repository{}

// New opens (and creates when missing) the database at path. ":memory:" opens
// a private in-memory database.
func New(ctx context.Context, path string, opts ...Option) (*Repository, error) {
	var dsn string
	inMemory := path == ":memory:"
	if inMemory {
		// every in-memory repository gets its own named database
		dsn = "file:" + uuid.NewString() + "?mode=memory&cache=shared&" + pragmas
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", path))
		}
		dsn = "file:" + path + "?" + pragmas
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}

	if inMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(0)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, goerr.Wrap(err, "failed to enable WAL mode")
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to ping database", goerr.V("path", path))
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to initialize schema")
	}

	r := &Repository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Repository) ChangeRequest() interfaces.ChangeRequestRepository {
	return &changeRequestRepository{r: r}
}

func (r *Repository) ApprovalHistory() interfaces.ApprovalHistoryRepository {
	return &approvalHistoryRepository{r: r}
}

func (r *Repository) RiskAssessment() interfaces.RiskAssessmentRepository {
	return &riskAssessmentRepository{r: r}
}

func (r *Repository) Notification() interfaces.NotificationRepository {
	return &notificationRepository{r: r}
}

func (r *Repository) Sync() interfaces.SyncRepository {
	return &syncRepository{r: r}
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// querier is satisfied by *sql.DB and by the dedicated connection of a transaction
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runInTx runs fn inside BEGIN IMMEDIATE on a dedicated connection so that the
// write lock is taken up front. fn errors and panics roll back.
func (r *Repository) runInTx(ctx context.Context, fn func(q querier) error) error {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to acquire connection")
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediate(ctx, conn); err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return goerr.Wrap(err, "failed to commit transaction")
	}
	committed = true
	return nil
}

func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second

	op := func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if isBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	return nil
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Times are stored as UTC unix nanoseconds; 0 is the zero time.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func (r *Repository) GetSyncState(ctx context.Context) (*model.SyncState, error) {
	var (
		s                                                 model.SyncState
		userID, role                                      string
		expires, pulled, pushed, lastAttempt, lastSuccess int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT token, user_id, role, expires_at, pulled_at, pushed_at, last_attempt_at, last_success_at
		FROM sync_state WHERE id = 1`).
		Scan(&s.Token, &userID, &role, &expires, &pulled, &pushed, &lastAttempt, &lastSuccess)
	if err == sql.ErrNoRows {
		return &model.SyncState{}, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get sync state")
	}

	s.UserID = types.UserID(userID)
	s.Role = types.Role(role)
	s.ExpiresAt = fromNanos(expires)
	s.PulledAt = fromNanos(pulled)
	s.PushedAt = fromNanos(pushed)
	s.LastAttemptAt = fromNanos(lastAttempt)
	s.LastSuccessAt = fromNanos(lastSuccess)
	return &s, nil
}

func (r *Repository) PutSyncState(ctx context.Context, s *model.SyncState) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sync_state
		(id, token, user_id, role, expires_at, pulled_at, pushed_at, last_attempt_at, last_success_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token, user_id = excluded.user_id, role = excluded.role,
			expires_at = excluded.expires_at, pulled_at = excluded.pulled_at, pushed_at = excluded.pushed_at,
			last_attempt_at = excluded.last_attempt_at, last_success_at = excluded.last_success_at`,
		s.Token, s.UserID.String(), s.Role.String(),
		toNanos(s.ExpiresAt), toNanos(s.PulledAt), toNanos(s.PushedAt),
		toNanos(s.LastAttemptAt), toNanos(s.LastSuccessAt))
	if err != nil {
		return goerr.Wrap(err, "failed to put sync state")
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
