// Package postgres provides a PostgreSQL storage.Store and step.Journal.
// It uses pgx/v5 for connection pooling and JSONB for fragment files and
// journaled step results.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/step"
	"github.com/rhuss/vibe/pkg/storage"
)

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ storage.Store = (*Store)(nil)
	_ step.Journal  = (*Store)(nil)
)

// New connects to PostgreSQL. If MigrateOnStart is set, schema migrations
// are applied before returning.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, p *api.Project) error {
	if err := insertProject(ctx, s.pool, p); err != nil {
		return err
	}
	return nil
}

// CreateProjectWithMessage inserts a project and its first message in one
// transaction.
func (s *Store) CreateProjectWithMessage(ctx context.Context, p *api.Project, m *api.Message) error {
	if m.ProjectID != p.ID {
		return fmt.Errorf("message project %q does not match project %q", m.ProjectID, p.ID)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertProject(ctx, tx, p); err != nil {
			return err
		}
		return insertMessage(ctx, tx, m)
	})
}

// GetProject returns a project visible to the owner in ctx.
func (s *Store) GetProject(ctx context.Context, id string) (*api.Project, error) {
	return getProject(ctx, s.pool, id)
}

// ListProjects returns the owner's projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*api.Project, error) {
	query := "SELECT id, name, user_id, created_at, updated_at FROM projects"
	var args []any
	if owner := storage.GetOwner(ctx); owner != "" {
		query += " WHERE user_id = $1"
		args = append(args, owner)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	projects, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*api.Project, error) {
		var p api.Project
		err := row.Scan(&p.ID, &p.Name, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
		return &p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning projects: %w", err)
	}
	if projects == nil {
		projects = []*api.Project{}
	}
	return projects, nil
}

// CreateMessage inserts a message and its fragment in one transaction.
func (s *Store) CreateMessage(ctx context.Context, m *api.Message) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := getProject(ctx, tx, m.ProjectID); err != nil {
			return err
		}
		return insertMessage(ctx, tx, m)
	})
}

// ListMessages returns a project's messages in creation order, with
// fragments attached.
func (s *Store) ListMessages(ctx context.Context, projectID string) ([]*api.Message, error) {
	if _, err := getProject(ctx, s.pool, projectID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.project_id, m.content, m.role, m.type, m.created_at, m.updated_at,
		       f.id, f.sandbox_url, f.title, f.files, f.created_at, f.updated_at
		FROM messages m
		LEFT JOIN fragments f ON f.message_id = m.id
		WHERE m.project_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*api.Message, error) {
		var m api.Message
		var role, typ string
		var fragID, sandboxURL, title *string
		var files []byte
		var fragCreated, fragUpdated *time.Time

		if err := row.Scan(
			&m.ID, &m.ProjectID, &m.Content, &role, &typ, &m.CreatedAt, &m.UpdatedAt,
			&fragID, &sandboxURL, &title, &files, &fragCreated, &fragUpdated,
		); err != nil {
			return nil, err
		}
		m.Role = api.MessageRole(role)
		m.Type = api.MessageType(typ)

		if fragID != nil {
			f := &api.Fragment{
				ID:         *fragID,
				MessageID:  m.ID,
				SandboxURL: deref(sandboxURL),
				Title:      deref(title),
			}
			if fragCreated != nil {
				f.CreatedAt = *fragCreated
			}
			if fragUpdated != nil {
				f.UpdatedAt = *fragUpdated
			}
			if err := json.Unmarshal(files, &f.Files); err != nil {
				return nil, fmt.Errorf("unmarshaling fragment files: %w", err)
			}
			m.Fragment = f
		}
		return &m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning messages: %w", err)
	}
	if msgs == nil {
		msgs = []*api.Message{}
	}
	return msgs, nil
}

// Load implements step.Journal.
func (s *Store) Load(ctx context.Context, runID, stepID string) (json.RawMessage, bool, error) {
	var result []byte
	err := s.pool.QueryRow(ctx,
		"SELECT result FROM step_journal WHERE run_id = $1 AND step_id = $2",
		runID, stepID,
	).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading step %s/%s: %w", runID, stepID, err)
	}
	return json.RawMessage(result), true, nil
}

// Save implements step.Journal. The first saved result for a step wins.
func (s *Store) Save(ctx context.Context, runID, stepID string, result json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO step_journal (run_id, step_id, result) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		runID, stepID, []byte(result),
	)
	if err != nil {
		return fmt.Errorf("saving step %s/%s: %w", runID, stepID, err)
	}
	return nil
}

// PruneJournal deletes journal entries older than the cutoff and returns
// how many were removed.
func (s *Store) PruneJournal(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM step_journal WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("pruning step journal: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertProject(ctx context.Context, q querier, p *api.Project) error {
	_, err := q.Exec(ctx, `
		INSERT INTO projects (id, name, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.Name, p.UserID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, q querier, m *api.Message) error {
	_, err := q.Exec(ctx, `
		INSERT INTO messages (id, project_id, content, role, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.ProjectID, m.Content, string(m.Role), string(m.Type), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		switch {
		case isDuplicateKey(err):
			return storage.ErrConflict
		case isForeignKeyViolation(err):
			return storage.ErrNotFound
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	f := m.Fragment
	if f == nil {
		return nil
	}
	files, err := json.Marshal(nonNilFiles(f.Files))
	if err != nil {
		return fmt.Errorf("marshaling fragment files: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO fragments (id, message_id, sandbox_url, title, files, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, f.ID, m.ID, f.SandboxURL, f.Title, files, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting fragment: %w", err)
	}
	return nil
}

func getProject(ctx context.Context, q querier, id string) (*api.Project, error) {
	query := "SELECT id, name, user_id, created_at, updated_at FROM projects WHERE id = $1"
	args := []any{id}
	if owner := storage.GetOwner(ctx); owner != "" {
		query += " AND user_id = $2"
		args = append(args, owner)
	}

	var p api.Project
	err := q.QueryRow(ctx, query, args...).Scan(&p.ID, &p.Name, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	return &p, nil
}

func nonNilFiles(files map[string]string) map[string]string {
	if files == nil {
		return map[string]string{}
	}
	return files
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// isDuplicateKey reports a unique violation (SQLSTATE 23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation reports a foreign key violation (SQLSTATE 23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
