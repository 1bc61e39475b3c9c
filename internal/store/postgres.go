// Package store provides storage backends for BotLoom.
//
// This file implements the PostgreSQL-backed store for sessions, flows, and accounts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BotLoom/BotLoom/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// FindActiveByContact returns the most recently updated active session for a contact.
func (s *PostgresStore) FindActiveByContact(ctx context.Context, contactKey string) (*models.ConversationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE contact_key = $1 AND active = TRUE ORDER BY updated_at DESC LIMIT 1`,
		contactKey)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.FindActiveByContact no session", "contact", contactKey)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.FindActiveByContact failed", "error", err, "contact", contactKey)
		return nil, fmt.Errorf("failed to query session for %s: %w", contactKey, err)
	}
	slog.Debug("PostgresStore.FindActiveByContact found", "contact", contactKey, "session", sess.ID)
	return sess, nil
}

// CreateSession inserts a new session row.
func (s *PostgresStore) CreateSession(ctx context.Context, sess *models.ConversationSession) error {
	vals, err := sessionColumnValues(sess)
	if err != nil {
		slog.Error("PostgresStore.CreateSession marshal failed", "error", err, "session", sess.ID)
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		vals...)
	if err != nil {
		slog.Error("PostgresStore.CreateSession failed", "error", err, "session", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore.CreateSession succeeded", "session", sess.ID, "contact", sess.ContactKey)
	return nil
}

// SaveSession replaces the stored state of an existing session.
func (s *PostgresStore) SaveSession(ctx context.Context, sess *models.ConversationSession) error {
	vals, err := sessionColumnValues(sess)
	if err != nil {
		slog.Error("PostgresStore.SaveSession marshal failed", "error", err, "session", sess.ID)
		return err
	}
	// id leads sessionColumnValues; the UPDATE wants it last.
	args := append(vals[1:], vals[0])
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET flow_id = $1, contact_key = $2, current_node_id = $3, active = $4, pause = $5,
			last_user_input = $6, parameters = $7, history = $8, call_stack = $9, created_at = $10, updated_at = $11
		 WHERE id = $12`,
		args...)
	if err != nil {
		slog.Error("PostgresStore.SaveSession failed", "error", err, "session", sess.ID)
		return fmt.Errorf("failed to update session %s: %w", sess.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s not found", sess.ID)
	}
	slog.Debug("PostgresStore.SaveSession succeeded", "session", sess.ID, "active", sess.Active)
	return nil
}

// LoadGraph assembles the read projection for a flow or sub-flow.
func (s *PostgresStore) LoadGraph(ctx context.Context, flowID, subFlowID string) (*models.FlowGraph, error) {
	lookup := flowID
	if subFlowID != "" {
		lookup = subFlowID
	}

	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM flows WHERE id = $1`, lookup).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("flow %q not found", lookup)
	}
	if err != nil {
		slog.Error("PostgresStore.LoadGraph flow lookup failed", "error", err, "flow", lookup)
		return nil, fmt.Errorf("failed to load flow %s: %w", lookup, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, flow_id, sub_flow_id, is_sub_flow_proxy, value, metadata, next
		 FROM flow_nodes WHERE flow_id = $1`, lookup)
	if err != nil {
		slog.Error("PostgresStore.LoadGraph node query failed", "error", err, "flow", lookup)
		return nil, fmt.Errorf("failed to query nodes for flow %s: %w", lookup, err)
	}
	defer rows.Close()

	var nodes []models.FlowNode
	for rows.Next() {
		n, err := scanFlowNode(rows)
		if err != nil {
			slog.Error("PostgresStore.LoadGraph node scan failed", "error", err, "flow", lookup)
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate node rows: %w", err)
	}

	branchRows, err := s.db.QueryContext(ctx,
		`SELECT owner_node_id, branch_key, match_value, operator, target_node_id, aux_image
		 FROM flow_branches WHERE flow_id = $1 ORDER BY owner_node_id, position`, lookup)
	if err != nil {
		slog.Error("PostgresStore.LoadGraph branch query failed", "error", err, "flow", lookup)
		return nil, fmt.Errorf("failed to query branches for flow %s: %w", lookup, err)
	}
	defer branchRows.Close()

	var branches []models.FlowBranch
	for branchRows.Next() {
		b, err := scanFlowBranch(branchRows)
		if err != nil {
			slog.Error("PostgresStore.LoadGraph branch scan failed", "error", err, "flow", lookup)
			return nil, err
		}
		branches = append(branches, b)
	}
	if err := branchRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate branch rows: %w", err)
	}

	slog.Debug("PostgresStore.LoadGraph succeeded", "flow", lookup, "nodes", len(nodes), "branches", len(branches))
	return models.NewFlowGraph(lookup, name, nodes, branches), nil
}

// ResolveFlow picks the flow a turn targets for an account.
func (s *PostgresStore) ResolveFlow(ctx context.Context, accountID, explicitFlowID string) (string, error) {
	if explicitFlowID != "" {
		var id string
		err := s.db.QueryRowContext(ctx, `SELECT id FROM flows WHERE id = $1`, explicitFlowID).Scan(&id)
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("flow %q not found", explicitFlowID)
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve flow %s: %w", explicitFlowID, err)
		}
		return id, nil
	}

	var defaultFlowID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT default_flow_id FROM accounts WHERE id = $1`, accountID).Scan(&defaultFlowID)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to resolve account %s: %w", accountID, err)
	}
	if defaultFlowID.String != "" {
		return defaultFlowID.String, nil
	}

	var id string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM flows WHERE account_id = $1 AND is_sub_flow = FALSE ORDER BY id LIMIT 1`,
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
func (s *PostgresStore) AccountByToken(ctx context.Context, token string) (*models.Account, error) {
	var a models.Account
	var defaultFlowID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, token, default_flow_id FROM accounts WHERE token = $1`, token).
		Scan(&a.ID, &a.Name, &a.Token, &defaultFlowID)
	if err == sql.ErrNoRows {
		return nil, models.ErrUnknownAccount
	}
	if err != nil {
		slog.Error("PostgresStore.AccountByToken failed", "error", err)
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	a.DefaultFlowID = defaultFlowID.String
	return &a, nil
}

// UpsertAccount inserts or replaces an account (for seeding and tests).
func (s *PostgresStore) UpsertAccount(ctx context.Context, a models.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, token, default_flow_id) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, token = EXCLUDED.token, default_flow_id = EXCLUDED.default_flow_id`,
		a.ID, a.Name, a.Token, nilIfEmpty(a.DefaultFlowID))
	if err != nil {
		slog.Error("PostgresStore.UpsertAccount failed", "error", err, "account", a.ID)
		return fmt.Errorf("failed to upsert account %s: %w", a.ID, err)
	}
	return nil
}

// UpsertFlow replaces a flow header and its full graph content (for seeding and tests).
func (s *PostgresStore) UpsertFlow(ctx context.Context, f Flow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO flows (id, account_id, name, is_sub_flow) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET account_id = EXCLUDED.account_id, name = EXCLUDED.name, is_sub_flow = EXCLUDED.is_sub_flow`,
		f.ID, nilIfEmpty(f.AccountID), f.Name, f.IsSubFlow); err != nil {
		return fmt.Errorf("failed to upsert flow %s: %w", f.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM flow_nodes WHERE flow_id = $1`, f.ID); err != nil {
		return fmt.Errorf("failed to clear nodes for flow %s: %w", f.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM flow_branches WHERE flow_id = $1`, f.ID); err != nil {
		return fmt.Errorf("failed to clear branches for flow %s: %w", f.ID, err)
	}
	for _, n := range f.Nodes {
		metadataJSON, err := marshalJSONColumn(n.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO flow_nodes (id, flow_id, kind, sub_flow_id, is_sub_flow_proxy, value, metadata, next)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			n.ID, f.ID, n.Kind, nilIfEmpty(n.SubFlowID), n.IsSubFlowProxy,
			nilIfEmpty(n.Value), nilIfEmpty(metadataJSON), nilIfEmpty(n.Next)); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
	}
	for i, b := range f.Branches {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO flow_branches (flow_id, owner_node_id, branch_key, position, match_value, operator, target_node_id, aux_image)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			f.ID, b.OwnerNodeID, b.Key, i, nilIfEmpty(b.MatchValue), nilIfEmpty(string(b.Operator)),
			nilIfEmpty(b.TargetNodeID), nilIfEmpty(b.AuxImage)); err != nil {
			return fmt.Errorf("failed to insert branch %s/%s: %w", b.OwnerNodeID, b.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flow %s: %w", f.ID, err)
	}
	slog.Debug("PostgresStore.UpsertFlow succeeded", "flow", f.ID, "nodes", len(f.Nodes), "branches", len(f.Branches))
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	} else {
		slog.Debug("Postgres database connection closed successfully")
	}
	return err
}
