package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/govflow/govflow/model"
)

// Schema creates the single document table shared by all collections.
const Schema = `
CREATE TABLE IF NOT EXISTS govflow_records (
	kind       TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	revision   INTEGER     NOT NULL,
	position   BIGSERIAL,
	body       JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS govflow_records_kind_position ON govflow_records (kind, position);
`

// DB is the subset of pgxpool.Pool used by PgCollection.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgCollection is a PostgreSQL-backed Collection storing entities as JSONB
// documents keyed by (kind, id).
type PgCollection[E any, P Record[E]] struct {
	kind string
	db   DB
}

// NewPgCollection creates a collection of the given kind.
func NewPgCollection[E any, P Record[E]](db DB, kind string) *PgCollection[E, P] {
	return &PgCollection[E, P]{kind: kind, db: db}
}

// Kind names the entity kind.
func (c *PgCollection[E, P]) Kind() string { return c.kind }

// List returns all entities of this kind in insertion order.
func (c *PgCollection[E, P]) List(ctx context.Context) ([]E, error) {
	rows, err := c.db.Query(ctx, `
		SELECT body, revision FROM govflow_records
		WHERE kind = $1
		ORDER BY position ASC`,
		c.kind,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.kind, err)
	}
	defer rows.Close()

	var result []E
	for rows.Next() {
		var body []byte
		var revision int
		if err := rows.Scan(&body, &revision); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.kind, err)
		}
		item, err := c.decode(body, revision)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// Get returns the entity with the given ID.
func (c *PgCollection[E, P]) Get(ctx context.Context, id string) (E, error) {
	var zero E
	var body []byte
	var revision int

	err := c.db.QueryRow(ctx, `
		SELECT body, revision FROM govflow_records
		WHERE kind = $1 AND id = $2`,
		c.kind, id,
	).Scan(&body, &revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, c.notFound(id)
	}
	if err != nil {
		return zero, fmt.Errorf("query %s %q: %w", c.kind, id, err)
	}
	return c.decode(body, revision)
}

// Create inserts a new entity at revision 1.
func (c *PgCollection[E, P]) Create(ctx context.Context, item E) (E, error) {
	var zero E
	meta := P(&item).Metadata()
	if meta.ID == "" {
		return zero, model.NewValidationError(fmt.Sprintf("%s: id is required", c.kind))
	}
	meta.Revision = 1

	body, err := json.Marshal(item)
	if err != nil {
		return zero, fmt.Errorf("marshal %s: %w", c.kind, err)
	}

	now := time.Now().UTC()
	tag, err := c.db.Exec(ctx, `
		INSERT INTO govflow_records (kind, id, revision, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (kind, id) DO NOTHING`,
		c.kind, meta.ID, meta.Revision, body, now,
	)
	if err != nil {
		return zero, fmt.Errorf("insert %s: %w", c.kind, err)
	}
	if tag.RowsAffected() == 0 {
		return zero, model.NewConflictError(
			fmt.Sprintf("%s %q already exists", c.kind, meta.ID),
		)
	}
	return item, nil
}

// Update replaces the entity with optimistic locking on the revision column.
func (c *PgCollection[E, P]) Update(ctx context.Context, item E) (E, error) {
	var zero E
	meta := P(&item).Metadata()
	expected := meta.Revision
	meta.Revision = expected + 1

	body, err := json.Marshal(item)
	if err != nil {
		return zero, fmt.Errorf("marshal %s: %w", c.kind, err)
	}

	tag, err := c.db.Exec(ctx, `
		UPDATE govflow_records SET
			body = $1,
			revision = $2,
			updated_at = $3
		WHERE kind = $4 AND id = $5 AND revision = $6`,
		body, meta.Revision, time.Now().UTC(),
		c.kind, meta.ID, expected,
	)
	if err != nil {
		return zero, fmt.Errorf("update %s: %w", c.kind, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := c.Get(ctx, meta.ID); err != nil {
			return zero, err
		}
		return zero, model.NewConflictError(
			fmt.Sprintf("%s %q revision conflict (expected %d)", c.kind, meta.ID, expected),
		)
	}
	return item, nil
}

// Delete removes the entity.
func (c *PgCollection[E, P]) Delete(ctx context.Context, id string) error {
	tag, err := c.db.Exec(ctx, `
		DELETE FROM govflow_records WHERE kind = $1 AND id = $2`,
		c.kind, id,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", c.kind, err)
	}
	if tag.RowsAffected() == 0 {
		return c.notFound(id)
	}
	return nil
}

func (c *PgCollection[E, P]) decode(body []byte, revision int) (E, error) {
	var item E
	if err := json.Unmarshal(body, &item); err != nil {
		return item, fmt.Errorf("unmarshal %s: %w", c.kind, err)
	}
	P(&item).Metadata().Revision = revision
	return item, nil
}

func (c *PgCollection[E, P]) notFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("%s %q not found", c.kind, id))
}

// EnsureSchema creates the records table if it does not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// NewPgStores returns a Stores backed by the given pool. Closing the Stores
// closes the pool.
func NewPgStores(pool *pgxpool.Pool) *Stores {
	return &Stores{
		Offices:       NewPgCollection[model.Office](pool, KindOffices),
		Sections:      NewPgCollection[model.Section](pool, KindSections),
		Subjects:      NewPgCollection[model.Subject](pool, KindSubjects),
		Users:         NewPgCollection[model.User](pool, KindUsers),
		Templates:     NewPgCollection[model.Template](pool, KindTemplates),
		Notifications: NewPgCollection[model.Notification](pool, KindNotifications),
		Tasks:         NewPgCollection[model.Task](pool, KindTasks),
		Definitions:   NewPgCollection[model.WorkflowDefinition](pool, KindDefinitions),
		Requests:      NewPgCollection[model.ServiceRequest](pool, KindRequests),
		driver:        "postgres",
		health:        pool.Ping,
		close:         pool.Close,
	}
}
