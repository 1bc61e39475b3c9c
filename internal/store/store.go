// Package store provides storage backends for BotLoom.
//
// It exposes conversation sessions, the flow graph read projection, and
// account lookup behind one Store interface, with SQLite and PostgreSQL
// implementations plus an in-memory store for tests and development.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/BotLoom/BotLoom/internal/models"
)

// Store is the persistence boundary the engine and API consume. Session
// operations are atomic at single-session granularity; no cross-session
// transactions are required.
type Store interface {
	// FindActiveByContact returns the most recently updated active session
	// for a contact key, or nil when there is none.
	FindActiveByContact(ctx context.Context, contactKey string) (*models.ConversationSession, error)
	// CreateSession inserts a new session.
	CreateSession(ctx context.Context, s *models.ConversationSession) error
	// SaveSession replaces the stored state of an existing session.
	SaveSession(ctx context.Context, s *models.ConversationSession) error

	// LoadGraph assembles the read projection for a flow, or for a reusable
	// sub-flow when subFlowID is non-empty.
	LoadGraph(ctx context.Context, flowID, subFlowID string) (*models.FlowGraph, error)
	// ResolveFlow picks the flow a turn targets for an account: an explicit
	// flow id wins, then the account default, then the account's first flow.
	ResolveFlow(ctx context.Context, accountID, explicitFlowID string) (string, error)

	// AccountByToken resolves an auth credential to an account.
	AccountByToken(ctx context.Context, token string) (*models.Account, error)

	// Close releases backing resources.
	Close() error
}

// Opts holds configuration options for SQL-backed stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for SQL-backed stores.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Flow is a stored flow header together with its graph content. The in-memory
// store keeps flows in this denormalized shape; the SQL stores split the same
// data across flows, flow_nodes and flow_branches tables.
type Flow struct {
	ID        string
	AccountID string
	Name      string
	IsSubFlow bool
	Nodes     []models.FlowNode
	Branches  []models.FlowBranch
}

// InMemoryStore is a mutex-guarded store used by tests and local development.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.ConversationSession
	flows    []Flow
	accounts []models.Account
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.ConversationSession)}
}

// AddFlow seeds a flow (or sub-flow) with its graph content.
func (s *InMemoryStore) AddFlow(f Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows = append(s.flows, f)
}

// AddAccount seeds an account.
func (s *InMemoryStore) AddAccount(a models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, a)
}

// FindActiveByContact returns the most recently updated active session.
func (s *InMemoryStore) FindActiveByContact(ctx context.Context, contactKey string) (*models.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.ConversationSession
	for _, sess := range s.sessions {
		if sess.ContactKey != contactKey || !sess.Active {
			continue
		}
		if found == nil || sess.UpdatedAt.After(found.UpdatedAt) {
			found = sess
		}
	}
	if found == nil {
		return nil, nil
	}
	return found.Clone(), nil
}

// CreateSession inserts a new session.
func (s *InMemoryStore) CreateSession(ctx context.Context, sess *models.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	slog.Debug("InMemoryStore.CreateSession succeeded", "session", sess.ID, "contact", sess.ContactKey)
	return nil
}

// SaveSession replaces the stored state of a session.
func (s *InMemoryStore) SaveSession(ctx context.Context, sess *models.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; !exists {
		return fmt.Errorf("session %s not found", sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// LoadGraph assembles the read-only projection for a flow or sub-flow.
func (s *InMemoryStore) LoadGraph(ctx context.Context, flowID, subFlowID string) (*models.FlowGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lookup := flowID
	if subFlowID != "" {
		lookup = subFlowID
	}
	for _, f := range s.flows {
		if f.ID != lookup {
			continue
		}
		nodes := append([]models.FlowNode(nil), f.Nodes...)
		branches := append([]models.FlowBranch(nil), f.Branches...)
		return models.NewFlowGraph(f.ID, f.Name, nodes, branches), nil
	}
	return nil, fmt.Errorf("flow %q not found", lookup)
}

// ResolveFlow implements the explicit, then default, then first-owned fallback.
func (s *InMemoryStore) ResolveFlow(ctx context.Context, accountID, explicitFlowID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if explicitFlowID != "" {
		for _, f := range s.flows {
			if f.ID == explicitFlowID {
				return f.ID, nil
			}
		}
		return "", fmt.Errorf("flow %q not found", explicitFlowID)
	}
	for _, a := range s.accounts {
		if a.ID == accountID && a.DefaultFlowID != "" {
			return a.DefaultFlowID, nil
		}
	}
	var candidates []string
	for _, f := range s.flows {
		if f.AccountID == accountID && !f.IsSubFlow {
			candidates = append(candidates, f.ID)
		}
	}
	if len(candidates) == 0 {
		return "", models.ErrNoFlowForAccount
	}
	sort.Strings(candidates)
	return candidates[0], nil
}

// AccountByToken resolves an auth credential.
func (s *InMemoryStore) AccountByToken(ctx context.Context, token string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Token == token {
			account := a
			return &account, nil
		}
	}
	return nil, models.ErrUnknownAccount
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
