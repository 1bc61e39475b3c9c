// Package store provides storage backends for BotLoom.
//
// This file implements the SQLite-backed store for sessions, flows, and accounts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BotLoom/BotLoom/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// FindActiveByContact returns the most recently updated active session for a contact.
func (s *SQLiteStore) FindActiveByContact(ctx context.Context, contactKey string) (*models.ConversationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE contact_key = ? AND active = 1 ORDER BY updated_at DESC LIMIT 1`,
		contactKey)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore.FindActiveByContact no session", "contact", contactKey)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.FindActiveByContact failed", "error", err, "contact", contactKey)
		return nil, fmt.Errorf("failed to query session for %s: %w", contactKey, err)
	}
	slog.Debug("SQLiteStore.FindActiveByContact found", "contact", contactKey, "session", sess.ID)
	return sess, nil
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.ConversationSession) error {
	vals, err := sessionColumnValues(sess)
	if err != nil {
		slog.Error("SQLiteStore.CreateSession marshal failed", "error", err, "session", sess.ID)
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vals...)
	if err != nil {
		slog.Error("SQLiteStore.CreateSession failed", "error", err, "session", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore.CreateSession succeeded", "session", sess.ID, "contact", sess.ContactKey)
	return nil
}

// SaveSession replaces the stored state of an existing session.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *models.ConversationSession) error {
	vals, err := sessionColumnValues(sess)
	if err != nil {
		slog.Error("SQLiteStore.SaveSession marshal failed", "error", err, "session", sess.ID)
		return err
	}
	// id leads sessionColumnValues; the UPDATE wants it last.
	args := append(vals[1:], vals[0])
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET flow_id = ?, contact_key = ?, current_node_id = ?, active = ?, pause = ?,
			last_user_input = ?, parameters = ?, history = ?, call_stack = ?, created_at = ?, updated_at = ?
		 WHERE id = ?`,
		args...)
	if err != nil {
		slog.Error("SQLiteStore.SaveSession failed", "error", err, "session", sess.ID)
		return fmt.Errorf("failed to update session %s: %w", sess.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s not found", sess.ID)
	}
	slog.Debug("SQLiteStore.SaveSession succeeded", "session", sess.ID, "active", sess.Active)
	return nil
}

// LoadGraph assembles the read projection for a flow or sub-flow.
func (s *SQLiteStore) LoadGraph(ctx context.Context, flowID, subFlowID string) (*models.FlowGraph, error) {
	lookup := flowID
	if subFlowID != "" {
		lookup = subFlowID
	}

	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM flows WHERE id = ?`, lookup).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("flow %q not found", lookup)
	}
	if err != nil {
		slog.Error("SQLiteStore.LoadGraph flow lookup failed", "error", err, "flow", lookup)
		return nil, fmt.Errorf("failed to load flow %s: %w", lookup, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, flow_id, sub_flow_id, is_sub_flow_proxy, value, metadata, next
		 FROM flow_nodes WHERE flow_id = ?`, lookup)
	if err != nil {
		slog.Error("SQLiteStore.LoadGraph node query failed", "error", err, "flow", lookup)
		return nil, fmt.Errorf("failed to query nodes for flow %s: %w", lookup, err)
	}
	defer rows.Close()

	var nodes []models.FlowNode
	for rows.Next() {
		n, err := scanFlowNode(rows)
		if err != nil {
			slog.Error("SQLiteStore.LoadGraph node scan failed", "error", err, "flow", lookup)
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate node rows: %w", err)
	}

	branchRows, err := s.db.QueryContext(ctx,
		`SELECT owner_node_id, branch_key, match_value, operator, target_node_id, aux_image
		 FROM flow_branches WHERE flow_id = ? ORDER BY owner_node_id, position`, lookup)
	if err != nil {
		slog.Error("SQLiteStore.LoadGraph branch query failed", "error", err, "flow", lookup)
		return nil, fmt.Errorf("failed to query branches for flow %s: %w", lookup, err)
	}
	defer branchRows.Close()

	var branches []models.FlowBranch
	for branchRows.Next() {
		b, err := scanFlowBranch(branchRows)
		if err != nil {
			slog.Error("SQLiteStore.LoadGraph branch scan failed", "error", err, "flow", lookup)
			return nil, err
		}
		branches = append(branches, b)
	}
	if err := branchRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate branch rows: %w", err)
	}

	slog.Debug("SQLiteStore.LoadGraph succeeded", "flow", lookup, "nodes", len(nodes), "branches", len(branches))
	return models.NewFlowGraph(lookup, name, nodes, branches), nil
}

// ResolveFlow picks the flow a turn targets for an account.
func (s *SQLiteStore) ResolveFlow(ctx context.Context, accountID, explicitFlowID string) (string, error) {
	if explicitFlowID != "" {
		var id string
		err := s.db.QueryRowContext(ctx, `SELECT id FROM flows WHERE id = ?`, explicitFlowID).Scan(&id)
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("flow %q not found", explicitFlowID)
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve flow %s: %w", explicitFlowID, err)
		}
		return id, nil
	}

	var defaultFlowID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT default_flow_id FROM accounts WHERE id = ?`, accountID).Scan(&defaultFlowID)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to resolve account %s: %w", accountID, err)
	}
	if defaultFlowID.String != "" {
		return defaultFlowID.String, nil
	}

	var id string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM flows WHERE account_id = ? AND is_sub_flow = 0 ORDER BY id LIMIT 1`,
		accountID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", models.ErrNoFlowForAccount
	}
	if err != nil {
		return "", fmt.Errorf("failed to list flows for account %s: %w", accountID, err)
	}
	return id, nil
}

// AccountByToken resolves an auth credential to an account.
func (s *SQLiteStore) AccountByToken(ctx context.Context, token string) (*models.Account, error) {
	var a models.Account
	var defaultFlowID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, token, default_flow_id FROM accounts WHERE token = ?`, token).
		Scan(&a.ID, &a.Name, &a.Token, &defaultFlowID)
	if err == sql.ErrNoRows {
		return nil, models.ErrUnknownAccount
	}
	if err != nil {
		slog.Error("SQLiteStore.AccountByToken failed", "error", err)
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	a.DefaultFlowID = defaultFlowID.String
	return &a, nil
}

// UpsertAccount inserts or replaces an account (for seeding and tests).
func (s *SQLiteStore) UpsertAccount(ctx context.Context, a models.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO accounts (id, name, token, default_flow_id) VALUES (?, ?, ?, ?)`,
		a.ID, a.Name, a.Token, nilIfEmpty(a.DefaultFlowID))
	if err != nil {
		slog.Error("SQLiteStore.UpsertAccount failed", "error", err, "account", a.ID)
		return fmt.Errorf("failed to upsert account %s: %w", a.ID, err)
	}
	return nil
}

// UpsertFlow replaces a flow header and its full graph content (for seeding and tests).
func (s *SQLiteStore) UpsertFlow(ctx context.Context, f Flow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO flows (id, account_id, name, is_sub_flow) VALUES (?, ?, ?, ?)`,
		f.ID, nilIfEmpty(f.AccountID), f.Name, f.IsSubFlow); err != nil {
		return fmt.Errorf("failed to upsert flow %s: %w", f.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM flow_nodes WHERE flow_id = ?`, f.ID); err != nil {
		return fmt.Errorf("failed to clear nodes for flow %s: %w", f.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM flow_branches WHERE flow_id = ?`, f.ID); err != nil {
		return fmt.Errorf("failed to clear branches for flow %s: %w", f.ID, err)
	}
	for _, n := range f.Nodes {
		metadataJSON, err := marshalJSONColumn(n.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO flow_nodes (id, flow_id, kind, sub_flow_id, is_sub_flow_proxy, value, metadata, next)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, f.ID, n.Kind, nilIfEmpty(n.SubFlowID), n.IsSubFlowProxy,
			nilIfEmpty(n.Value), nilIfEmpty(metadataJSON), nilIfEmpty(n.Next)); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
	}
	for i, b := range f.Branches {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO flow_branches (flow_id, owner_node_id, branch_key, position, match_value, operator, target_node_id, aux_image)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, b.OwnerNodeID, b.Key, i, nilIfEmpty(b.MatchValue), nilIfEmpty(string(b.Operator)),
			nilIfEmpty(b.TargetNodeID), nilIfEmpty(b.AuxImage)); err != nil {
			return fmt.Errorf("failed to insert branch %s/%s: %w", b.OwnerNodeID, b.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flow %s: %w", f.ID, err)
	}
	slog.Debug("SQLiteStore.UpsertFlow succeeded", "flow", f.ID, "nodes", len(f.Nodes), "branches", len(f.Branches))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
