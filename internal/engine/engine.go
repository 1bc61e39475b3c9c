package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BotLoom/BotLoom/internal/models"
)

// Engine tuning constants.
const (
	// MaxWalkSteps is the hard step-count bound per turn, counting every node
	// visited including Goto re-entries and sub-flow descents.
	MaxWalkSteps = 250
	// SessionIdleTTL is the inactivity window after which a session is never
	// reused; the next inbound message creates a fresh one.
	SessionIdleTTL = 15 * time.Minute
	// MinWaitSeconds and MaxWaitSeconds bound the blocking delay of an
	// action_wait node so a misconfigured flow cannot hold a serving
	// goroutine indefinitely.
	MinWaitSeconds = 1
	MaxWaitSeconds = 30
)

// menuRetryMessage is sent when a menu reply matches none of the options.
const menuRetryMessage = "Please reply with one of the listed options."

// GraphAccessor loads the read-only flow graph projection for an execution.
// The engine re-fetches on every entry into a sub-flow and holds no graph
// cache across turns.
type GraphAccessor interface {
	// LoadGraph returns the graph for a flow id, or, when subFlowID is set,
	// only the nodes of that reusable sub-flow.
	LoadGraph(ctx context.Context, flowID, subFlowID string) (*models.FlowGraph, error)
	// ResolveFlow picks the flow a turn targets: the explicit flow id when
	// given, else the account's designated default flow, else the first flow
	// owned by the account.
	ResolveFlow(ctx context.Context, accountID, explicitFlowID string) (string, error)
}

// SessionStore persists conversation sessions at single-session granularity.
type SessionStore interface {
	FindActiveByContact(ctx context.Context, contactKey string) (*models.ConversationSession, error)
	CreateSession(ctx context.Context, s *models.ConversationSession) error
	SaveSession(ctx context.Context, s *models.ConversationSession) error
}

// WebhookResult is what a webhook delegation produced: outbound messages, an
// optional branch-selection value, a pause signal, and an optional Goto target
// label. Pause takes precedence over branch selection for flow control.
type WebhookResult struct {
	Messages    []models.OutboundMessage
	BranchValue *string
	Paused      bool
	GotoLabel   string
}

// WebhookRunner delegates an action_web_service step to the operator's URL
// and interprets the returned action list. Implementations never propagate
// transport or parse failures; they synthesize an error message instead.
type WebhookRunner interface {
	Run(ctx context.Context, node *models.FlowNode, g *models.FlowGraph, sess *models.ConversationSession, userInput string) WebhookResult
}

// Engine executes one conversation turn at a time against a stored flow graph
// and a persisted session. Execution is serialized per contact key and fully
// parallel across contacts.
type Engine struct {
	graphs   GraphAccessor
	sessions SessionStore
	webhook  WebhookRunner

	loc   *time.Location
	now   func() time.Time
	sleep func(time.Duration)

	locks sync.Map // contactKey -> *sync.Mutex
}

// Opts holds configuration options for the engine.
type Opts struct {
	Location *time.Location
	Now      func() time.Time
	Sleep    func(time.Duration)
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithTimezone sets the fixed reference timezone used by time routing nodes.
func WithTimezone(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithSleeper overrides the blocking delay used by action_wait nodes (tests).
func WithSleeper(sleep func(time.Duration)) Option {
	return func(o *Opts) { o.Sleep = sleep }
}

// New creates an engine over the given collaborators.
func New(graphs GraphAccessor, sessions SessionStore, webhook WebhookRunner, opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	slog.Debug("Engine.New: creating engine", "timezone", cfg.Location.String())
	return &Engine{
		graphs:   graphs,
		sessions: sessions,
		webhook:  webhook,
		loc:      cfg.Location,
		now:      cfg.Now,
		sleep:    cfg.Sleep,
	}
}

// contactLock returns the mutex serializing turns for one contact key.
// Without it, a double-submit could advance the same node twice.
func (e *Engine) contactLock(contactKey string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(contactKey, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
