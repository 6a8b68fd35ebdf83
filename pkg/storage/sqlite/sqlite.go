// Package sqlite provides a SQLite storage.Store and step.Journal for
// single-node deployments. It uses mattn/go-sqlite3 through database/sql.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/step"
	"github.com/rhuss/vibe/pkg/storage"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_user_created ON projects (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		content    TEXT NOT NULL,
		role       TEXT NOT NULL,
		type       TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_project_created ON messages (project_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS fragments (
		id          TEXT PRIMARY KEY,
		message_id  TEXT NOT NULL UNIQUE REFERENCES messages (id) ON DELETE CASCADE,
		sandbox_url TEXT NOT NULL,
		title       TEXT NOT NULL,
		files       TEXT NOT NULL DEFAULT '{}',
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS step_journal (
		run_id     TEXT NOT NULL,
		step_id    TEXT NOT NULL,
		result     TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, step_id)
	)`,
}

// Store is a SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

var (
	_ storage.Store = (*Store)(nil)
	_ step.Journal  = (*Store)(nil)
)

// New opens (creating if needed) the database at path and applies the
// schema. Foreign keys and WAL mode are enabled on every connection.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}
	debug.Log("storage", "sqlite store opened", "path", path)
	return &Store{db: db}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, p *api.Project) error {
	return insertProject(ctx, s.db, p)
}

// CreateProjectWithMessage inserts a project and its first message in one
// transaction.
func (s *Store) CreateProjectWithMessage(ctx context.Context, p *api.Project, m *api.Message) error {
	if m.ProjectID != p.ID {
		return fmt.Errorf("message project %q does not match project %q", m.ProjectID, p.ID)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertProject(ctx, tx, p); err != nil {
			return err
		}
		return insertMessage(ctx, tx, m)
	})
}

// GetProject returns a project visible to the owner in ctx.
func (s *Store) GetProject(ctx context.Context, id string) (*api.Project, error) {
	return getProject(ctx, s.db, id)
}

// ListProjects returns the owner's projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*api.Project, error) {
	query := "SELECT id, name, user_id, created_at, updated_at FROM projects"
	var args []any
	if owner := storage.GetOwner(ctx); owner != "" {
		query += " WHERE user_id = ?"
		args = append(args, owner)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	projects := []*api.Project{}
	for rows.Next() {
		var p api.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.UserID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating projects: %w", err)
	}
	return projects, nil
}

// CreateMessage inserts a message and its fragment in one transaction.
func (s *Store) CreateMessage(ctx context.Context, m *api.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getProject(ctx, tx, m.ProjectID); err != nil {
			return err
		}
		return insertMessage(ctx, tx, m)
	})
}

// ListMessages returns a project's messages in creation order, with
// fragments attached.
func (s *Store) ListMessages(ctx context.Context, projectID string) ([]*api.Message, error) {
	if _, err := getProject(ctx, s.db, projectID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.project_id, m.content, m.role, m.type, m.created_at, m.updated_at,
		       f.id, f.sandbox_url, f.title, f.files, f.created_at, f.updated_at
		FROM messages m
		LEFT JOIN fragments f ON f.message_id = m.id
		WHERE m.project_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs := []*api.Message{}
	for rows.Next() {
		var m api.Message
		var role, typ string
		var fragID, sandboxURL, title, files sql.NullString
		var fragCreated, fragUpdated sql.NullTime

		if err := rows.Scan(
			&m.ID, &m.ProjectID, &m.Content, &role, &typ, &m.CreatedAt, &m.UpdatedAt,
			&fragID, &sandboxURL, &title, &files, &fragCreated, &fragUpdated,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = api.MessageRole(role)
		m.Type = api.MessageType(typ)

		if fragID.Valid {
			f := &api.Fragment{
				ID:         fragID.String,
				MessageID:  m.ID,
				SandboxURL: sandboxURL.String,
				Title:      title.String,
				CreatedAt:  fragCreated.Time,
				UpdatedAt:  fragUpdated.Time,
			}
			if err := json.Unmarshal([]byte(files.String), &f.Files); err != nil {
				return nil, fmt.Errorf("unmarshaling fragment files: %w", err)
			}
			m.Fragment = f
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// Load implements step.Journal.
func (s *Store) Load(ctx context.Context, runID, stepID string) (json.RawMessage, bool, error) {
	var result string
	err := s.db.QueryRowContext(ctx,
		"SELECT result FROM step_journal WHERE run_id = ? AND step_id = ?",
		runID, stepID,
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading step %s/%s: %w", runID, stepID, err)
	}
	return json.RawMessage(result), true, nil
}

// Save implements step.Journal. The first saved result for a step wins.
func (s *Store) Save(ctx context.Context, runID, stepID string, result json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO step_journal (run_id, step_id, result, created_at) VALUES (?, ?, ?, ?)",
		runID, stepID, string(result), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving step %s/%s: %w", runID, stepID, err)
	}
	return nil
}

// PruneJournal deletes journal entries older than the cutoff and returns
// how many were removed.
func (s *Store) PruneJournal(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM step_journal WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning step journal: %w", err)
	}
	return res.RowsAffected()
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertProject(ctx context.Context, q querier, p *api.Project) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO projects (id, name, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.Name, p.UserID, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, q querier, m *api.Message) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO messages (id, project_id, content, role, type, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.ProjectID, m.Content, string(m.Role), string(m.Type), m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	if err != nil {
		switch {
		case isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique):
			return storage.ErrConflict
		case isConstraint(err, sqlite3.ErrConstraintForeignKey):
			return storage.ErrNotFound
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	f := m.Fragment
	if f == nil {
		return nil
	}
	files := f.Files
	if files == nil {
		files = map[string]string{}
	}
	b, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshaling fragment files: %w", err)
	}
	_, err = q.ExecContext(ctx,
		"INSERT INTO fragments (id, message_id, sandbox_url, title, files, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		f.ID, m.ID, f.SandboxURL, f.Title, string(b), f.CreatedAt.UTC(), f.UpdatedAt.UTC(),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting fragment: %w", err)
	}
	return nil
}

func getProject(ctx context.Context, q querier, id string) (*api.Project, error) {
	query := "SELECT id, name, user_id, created_at, updated_at FROM projects WHERE id = ?"
	args := []any{id}
	if owner := storage.GetOwner(ctx); owner != "" {
		query += " AND user_id = ?"
		args = append(args, owner)
	}

	var p api.Project
	err := q.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.Name, &p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying project: %w", err)
	}
	return &p, nil
}

func isConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	for _, c := range codes {
		if sqErr.ExtendedCode == c {
			return true
		}
	}
	return false
}
