package repo

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/sms-tracker/internal/model"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// rebind turns ? placeholders into $n for Postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sms_submissions (
		instance_id  TEXT PRIMARY KEY,
		form_id      TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		created_at   BIGINT NOT NULL,
		updated_at   BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sms_submission_parts (
		instance_id TEXT NOT NULL,
		message_id  INTEGER NOT NULL,
		body        TEXT NOT NULL DEFAULT '',
		state       TEXT NOT NULL,
		result_code INTEGER,
		PRIMARY KEY (instance_id, message_id)
	)`,
}

// SQLSubmissionRepo stores records in two tables, one row per submission and
// one per part. Timestamps are unix nanoseconds so both dialects share a schema.
type SQLSubmissionRepo struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLSubmissionRepo(db *sql.DB, dialect Dialect) *SQLSubmissionRepo {
	return &SQLSubmissionRepo{db: db, dialect: dialect}
}

func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (r *SQLSubmissionRepo) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return unavailable(r.dialect.String()+" migrate", err)
		}
	}
	return nil
}

func (r *SQLSubmissionRepo) Get(ctx context.Context, instanceID string) (model.SubmissionRecord, error) {
	rec := model.SubmissionRecord{InstanceID: instanceID}
	var created, updated int64

	err := r.db.QueryRowContext(ctx, r.dialect.rebind(`
		SELECT form_id, display_name, created_at, updated_at
		FROM sms_submissions
		WHERE instance_id = ?
	`), instanceID).Scan(&rec.FormID, &rec.DisplayName, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SubmissionRecord{}, ErrNotFound
	}
	if err != nil {
		return model.SubmissionRecord{}, unavailable(r.dialect.String()+" get", err)
	}
	rec.DateCreated = time.Unix(0, created).UTC()
	rec.LastUpdated = time.Unix(0, updated).UTC()

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(`
		SELECT message_id, body, state, result_code
		FROM sms_submission_parts
		WHERE instance_id = ?
		ORDER BY message_id ASC
	`), instanceID)
	if err != nil {
		return model.SubmissionRecord{}, unavailable(r.dialect.String()+" get parts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.MessagePart
		var state string
		var code sql.NullInt64
		if err := rows.Scan(&p.MessageID, &p.Text, &state, &code); err != nil {
			return model.SubmissionRecord{}, unavailable(r.dialect.String()+" scan part", err)
		}
		p.State = model.PartState(state)
		if code.Valid {
			c := int(code.Int64)
			p.ResultCode = &c
		}
		rec.Messages = append(rec.Messages, p)
	}
	if err := rows.Err(); err != nil {
		return model.SubmissionRecord{}, unavailable(r.dialect.String()+" get parts", err)
	}
	if err := rec.Validate(); err != nil {
		return model.SubmissionRecord{}, unavailable(r.dialect.String()+" decode "+instanceID, err)
	}
	return rec, nil
}

func (r *SQLSubmissionRepo) Put(ctx context.Context, rec model.SubmissionRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(r.dialect.String()+" begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, r.dialect.rebind(`
		INSERT INTO sms_submissions (instance_id, form_id, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (instance_id) DO UPDATE
		SET form_id = excluded.form_id,
		    display_name = excluded.display_name,
		    created_at = excluded.created_at,
		    updated_at = excluded.updated_at
	`), rec.InstanceID, rec.FormID, rec.DisplayName, rec.DateCreated.UnixNano(), rec.LastUpdated.UnixNano()); err != nil {
		return unavailable(r.dialect.String()+" upsert submission", err)
	}

	if _, err := tx.ExecContext(ctx, r.dialect.rebind(`
		DELETE FROM sms_submission_parts WHERE instance_id = ?
	`), rec.InstanceID); err != nil {
		return unavailable(r.dialect.String()+" clear parts", err)
	}

	insertPart := r.dialect.rebind(`
		INSERT INTO sms_submission_parts (instance_id, message_id, body, state, result_code)
		VALUES (?, ?, ?, ?, ?)
	`)
	for _, p := range rec.Messages {
		var code any
		if p.ResultCode != nil {
			code = int64(*p.ResultCode)
		}
		if _, err := tx.ExecContext(ctx, insertPart, rec.InstanceID, p.MessageID, p.Text, string(p.State), code); err != nil {
			return unavailable(r.dialect.String()+" insert part", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable(r.dialect.String()+" commit", err)
	}
	return nil
}

func (r *SQLSubmissionRepo) Delete(ctx context.Context, instanceID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(r.dialect.String()+" begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, r.dialect.rebind(`
		DELETE FROM sms_submission_parts WHERE instance_id = ?
	`), instanceID); err != nil {
		return unavailable(r.dialect.String()+" delete parts", err)
	}
	if _, err := tx.ExecContext(ctx, r.dialect.rebind(`
		DELETE FROM sms_submissions WHERE instance_id = ?
	`), instanceID); err != nil {
		return unavailable(r.dialect.String()+" delete submission", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable(r.dialect.String()+" commit", err)
	}
	return nil
}

func (r *SQLSubmissionRepo) ListInstanceIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT instance_id FROM sms_submissions ORDER BY instance_id ASC
	`)
	if err != nil {
		return nil, unavailable(r.dialect.String()+" list", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(r.dialect.String()+" list", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(r.dialect.String()+" list", err)
	}
	return ids, nil
}
