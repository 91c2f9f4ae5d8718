// Package store implements the minimal persistence the core reads and
// writes (§1's scope note: "persistence schema details beyond what the core
// reads/writes" are out of scope; everything else — CRUD surfaces, auth —
// belongs to the excluded outer application). It replaces the sqlc-generated
// db package boxer.go depended on with a hand-written database/sql layer
// over modernc.org/sqlite, migrated with golang-migrate, since no generated
// bindings were available to adapt.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a sqlite connection pool providing the Workspace/Chat/Message
// operations the stream processor and preview router need.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.Open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize writers, matches modernc.org/sqlite's guidance
	// SQLite leaves foreign keys off by default; the schema's ON DELETE
	// CASCADE clauses only take effect with enforcement on.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.Open: enable foreign keys: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.Open: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Workspace mirrors §3's persisted Workspace entity.
type Workspace struct {
	ID             int64
	Name           string
	Path           string
	InstallCommand string
	StartCommand   string
	OwnerID        int64
}

// CreateWorkspace inserts a new workspace row.
func (s *Store) CreateWorkspace(ctx context.Context, w Workspace) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (name, path, install_command, start_command, owner_id) VALUES (?, ?, ?, ?, ?)`,
		w.Name, w.Path, w.InstallCommand, w.StartCommand, w.OwnerID)
	if err != nil {
		return 0, fmt.Errorf("store.CreateWorkspace: %w", err)
	}
	return res.LastInsertId()
}

// GetWorkspace loads a workspace by id.
func (s *Store) GetWorkspace(ctx context.Context, id int64) (Workspace, error) {
	var w Workspace
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, install_command, start_command, owner_id FROM workspaces WHERE id = ?`, id)
	if err := row.Scan(&w.ID, &w.Name, &w.Path, &w.InstallCommand, &w.StartCommand, &w.OwnerID); err != nil {
		return Workspace{}, fmt.Errorf("store.GetWorkspace: %w", err)
	}
	return w, nil
}

// DeleteWorkspace removes a workspace row; cascades to chats/messages but
// never touches the on-disk directory (§3 invariant note).
func (s *Store) DeleteWorkspace(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	return err
}

// Chat mirrors §3's persisted Chat entity.
type Chat struct {
	ID          int64
	WorkspaceID int64
	Title       string
}

// CreateChat inserts a new chat anchored to a workspace.
func (s *Store) CreateChat(ctx context.Context, c Chat) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (workspace_id, title) VALUES (?, ?)`, c.WorkspaceID, c.Title)
	if err != nil {
		return 0, fmt.Errorf("store.CreateChat: %w", err)
	}
	return res.LastInsertId()
}

// Message mirrors §3's persisted Message entity: role, content, optional
// model tag, streaming flag.
type Message struct {
	ID        int64
	ChatID    int64
	Role      string
	Content   string
	Model     string
	Streaming bool
	CreatedAt time.Time
}

// AppendMessage persists one message for a chat (§4.6 step 6a / step 2).
func (s *Store) AppendMessage(ctx context.Context, m Message) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, model, streaming, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.Role, m.Content, m.Model, m.Streaming, time.Now())
	if err != nil {
		return 0, fmt.Errorf("store.AppendMessage: %w", err)
	}
	return res.LastInsertId()
}

// RecentMessages returns the most recent limit messages for a chat, oldest
// first, used by the stream processor's smart-context filtering (§4.6 step 3).
func (s *Store) RecentMessages(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, model, streaming, created_at FROM messages
		 WHERE chat_id = ? ORDER BY created_at DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("store.RecentMessages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Model, &m.Streaming, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store.RecentMessages: scan: %w", err)
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// GetWorkspaceForChat resolves a chat's owning workspace, satisfying
// stream.ChatStore.
func (s *Store) GetWorkspaceForChat(ctx context.Context, chatID int64) (Workspace, error) {
	var wid int64
	row := s.db.QueryRowContext(ctx, `SELECT workspace_id FROM chats WHERE id = ?`, chatID)
	if err := row.Scan(&wid); err != nil {
		return Workspace{}, fmt.Errorf("store.GetWorkspaceForChat: %w", err)
	}
	return s.GetWorkspace(ctx, wid)
}
