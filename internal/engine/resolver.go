package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BotLoom/BotLoom/internal/models"
	"github.com/BotLoom/BotLoom/internal/util"

	"github.com/google/uuid"
)

// HandleTurn executes one conversation turn for an inbound message: it loads
// or creates the session, determines which node the turn continues from and
// with what input, runs the walk loop, persists the session exactly once, and
// returns the accumulated outbound messages.
func (e *Engine) HandleTurn(ctx context.Context, req models.TurnRequest) (models.TurnResult, error) {
	if err := req.Validate(); err != nil {
		slog.Warn("Engine.HandleTurn: rejected malformed request", "error", err)
		return models.TurnResult{}, err
	}

	// Serialize per contact; different conversations proceed in parallel.
	mu := e.contactLock(req.ContactKey)
	mu.Lock()
	defer mu.Unlock()

	slog.Debug("Engine.HandleTurn: processing inbound message", "contact", req.ContactKey, "flow", req.FlowID)

	sess, err := e.sessions.FindActiveByContact(ctx, req.ContactKey)
	if err != nil {
		slog.Error("Engine.HandleTurn: session lookup failed", "error", err, "contact", req.ContactKey)
		return models.TurnResult{}, fmt.Errorf("failed to look up session: %w", err)
	}

	now := e.now()
	if sess != nil && now.Sub(sess.UpdatedAt) > SessionIdleTTL {
		// Stale sessions are never reused; mark inactive and start fresh.
		slog.Info("Engine.HandleTurn: session expired, starting a new one", "contact", req.ContactKey, "session", sess.ID, "idle", now.Sub(sess.UpdatedAt).String())
		sess.Active = false
		if saveErr := e.sessions.SaveSession(ctx, sess); saveErr != nil {
			slog.Error("Engine.HandleTurn: failed to retire stale session", "error", saveErr, "session", sess.ID)
		}
		sess = nil
	}

	var gstack []*models.FlowGraph
	isNew := sess == nil
	if isNew {
		sess, gstack, err = e.openSession(ctx, req, now)
		if err != nil {
			return models.TurnResult{}, err
		}
	} else {
		gstack, err = e.buildGraphStack(ctx, sess)
		if err != nil {
			return models.TurnResult{}, err
		}
	}

	sess.LastUserInput = req.Text
	sess.AppendHistory(models.HistoryEvent{
		ID:        util.GenerateEventID(),
		NodeID:    sess.CurrentNodeID,
		Kind:      models.HistoryEventUser,
		Text:      req.Text,
		Timestamp: now,
	})

	var messages []models.OutboundMessage
	finalGraph, err := e.resolveAndWalk(ctx, gstack, sess, req.Text, &messages)
	if err != nil {
		// Configuration errors skip the persist below, so the stored session
		// keeps its pre-turn state and a corrected flow can retry.
		slog.Error("Engine.HandleTurn: turn failed", "error", err, "contact", req.ContactKey, "session", sess.ID)
		return models.TurnResult{}, err
	}

	sess.UpdatedAt = e.now()
	if isNew {
		err = e.sessions.CreateSession(ctx, sess)
	} else {
		err = e.sessions.SaveSession(ctx, sess)
	}
	if err != nil {
		slog.Error("Engine.HandleTurn: failed to persist session", "error", err, "session", sess.ID)
		return models.TurnResult{}, fmt.Errorf("failed to persist session: %w", err)
	}

	result := models.TurnResult{
		Messages:         messages,
		PendingInputKind: e.pendingInputKind(finalGraph, sess),
		SessionID:        sess.ID,
		SessionClosed:    !sess.Active,
	}
	slog.Info("Engine.HandleTurn: turn completed", "contact", req.ContactKey, "session", sess.ID, "messages", len(messages), "closed", result.SessionClosed)
	return result, nil
}

// openSession resolves the target flow for a contact with no active session
// and parks a fresh session at the flow's automatic_responses node. That node
// is mandatory for a flow to be reachable via inbound messages.
func (e *Engine) openSession(ctx context.Context, req models.TurnRequest, now time.Time) (*models.ConversationSession, []*models.FlowGraph, error) {
	flowID, err := e.graphs.ResolveFlow(ctx, req.AccountID, req.FlowID)
	if err != nil {
		slog.Error("Engine.openSession: no flow for account", "error", err, "account", req.AccountID, "flow", req.FlowID)
		return nil, nil, fmt.Errorf("%w: %v", models.ErrNoFlowForAccount, err)
	}
	g, err := e.graphs.LoadGraph(ctx, flowID, "")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to load flow %q: %v", ErrFlowConfig, flowID, err)
	}
	entry := g.FindByKind(models.NodeAutomaticResponses)
	if entry == nil {
		slog.Error("Engine.openSession: flow has no entry node", "flow", flowID)
		return nil, nil, fmt.Errorf("%w: flow %q: %v", ErrFlowConfig, flowID, models.ErrNoEntryNode)
	}
	sess := &models.ConversationSession{
		ID:            uuid.NewString(),
		FlowID:        flowID,
		ContactKey:    req.ContactKey,
		CurrentNodeID: entry.ID,
		Active:        true,
		Pause:         models.PauseAtEntry,
		Parameters:    make(map[string]any),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	slog.Debug("Engine.openSession: created session", "session", sess.ID, "flow", flowID, "entry", entry.ID)
	return sess, []*models.FlowGraph{g}, nil
}

// buildGraphStack reconstructs the graph chain for a resumed session: the
// root flow graph, then one sub-flow graph per call-stack frame, reloaded
// from storage (no caching across the call-stack push).
func (e *Engine) buildGraphStack(ctx context.Context, sess *models.ConversationSession) ([]*models.FlowGraph, error) {
	root, err := e.graphs.LoadGraph(ctx, sess.FlowID, "")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load flow %q: %v", ErrFlowConfig, sess.FlowID, err)
	}
	gstack := []*models.FlowGraph{root}
	for _, frame := range sess.CallStack {
		caller := gstack[len(gstack)-1].Node(frame.CallerNodeID)
		if caller == nil || caller.SubFlowID == "" {
			return nil, fmt.Errorf("%w: call-stack frame references missing caller node %q", ErrFlowConfig, frame.CallerNodeID)
		}
		sub, err := e.graphs.LoadGraph(ctx, "", caller.SubFlowID)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load sub-flow %q: %v", ErrFlowConfig, caller.SubFlowID, err)
		}
		gstack = append(gstack, sub)
	}
	return gstack, nil
}

// resolveAndWalk branches on the kind of the node the session is parked at,
// applies the inbound text to it, and invokes the walk loop from the computed
// next node. When no advance is possible the turn is a defensive no-op.
func (e *Engine) resolveAndWalk(ctx context.Context, gstack []*models.FlowGraph, sess *models.ConversationSession, text string, messages *[]models.OutboundMessage) (*models.FlowGraph, error) {
	g := gstack[len(gstack)-1]
	node := g.Node(sess.CurrentNodeID)
	if node == nil {
		// The flow was re-synced under the session; nothing safe to do.
		slog.Warn("Engine.resolveAndWalk: current node no longer exists, turn is a no-op", "session", sess.ID, "node", sess.CurrentNodeID)
		return g, nil
	}

	switch {
	case node.Kind == models.NodeAutomaticResponses:
		target := matchEntryBranches(g, node, text)
		if target == "" {
			slog.Debug("Engine.resolveAndWalk: entry matcher produced no target, staying parked", "session", sess.ID, "node", node.ID)
			return g, nil
		}
		return e.walk(ctx, gstack, sess, target, messages)

	case sess.Pause == models.PauseAwaitingWebhookReply && node.Kind == models.NodeActionWebService:
		result := e.webhook.Run(ctx, node, g, sess, text)
		out := e.applyWebhookResult(g, node, result)
		e.recordMessages(sess, node.ID, out.messages)
		*messages = append(*messages, out.messages...)
		if out.pause != models.PauseNone {
			sess.Pause = out.pause
			return g, nil
		}
		return e.walk(ctx, gstack, sess, out.next, messages)

	case sess.Pause == models.PauseAwaitingInput && isInputKind(node.Kind):
		if node.Metadata.Variable != "" {
			sess.SetParameter(node.Metadata.Variable, text)
		}
		return e.walk(ctx, gstack, sess, node.Next, messages)

	case sess.Pause == models.PauseAwaitingMenuChoice && node.Kind == models.NodeOutputMenu:
		for _, b := range g.Branches(node.ID) {
			if b.IsDefault() {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(b.MatchValue)) {
				return e.walk(ctx, gstack, sess, b.TargetNodeID, messages)
			}
		}
		// No match: repeat the choices and stay paused at the menu.
		retry := []models.OutboundMessage{
			models.TextMessage(menuRetryMessage),
			models.OptionsMessage(menuOptions(g, node)),
		}
		e.recordMessages(sess, node.ID, retry)
		*messages = append(*messages, retry...)
		slog.Debug("Engine.resolveAndWalk: menu choice did not match, remaining paused", "session", sess.ID, "node", node.ID)
		return g, nil

	default:
		slog.Warn("Engine.resolveAndWalk: unexpected session state, turn is a no-op", "session", sess.ID, "node", node.ID, "kind", node.Kind, "pause", sess.Pause)
		return g, nil
	}
}

// matchEntryBranches compares inbound text against the branches of an
// automatic_responses node: index 0 is the reserved unconditional fallback,
// branches from index 1 on are tried in order with their operator, first
// match wins. A missing match always falls back to branch 0.
func matchEntryBranches(g *models.FlowGraph, node *models.FlowNode, text string) string {
	branches := g.Branches(node.ID)
	if len(branches) == 0 {
		return ""
	}
	for _, b := range branches[1:] {
		if b.IsDefault() {
			continue
		}
		if Evaluate(b.Operator, text, b.MatchValue) {
			slog.Debug("matchEntryBranches: branch matched", "node", node.ID, "branch", b.Key)
			return b.TargetNodeID
		}
	}
	return branches[0].TargetNodeID
}

// isInputKind reports whether a node kind is one of the plain input pauses.
func isInputKind(kind models.NodeKind) bool {
	return kind == models.NodeInputText || kind == models.NodeInputDate || kind == models.NodeInputFile
}

// pendingInputKind derives the result's pending-input discriminator from the
// session's pause reason.
func (e *Engine) pendingInputKind(g *models.FlowGraph, sess *models.ConversationSession) string {
	if !sess.Active {
		return ""
	}
	switch sess.Pause {
	case models.PauseAwaitingInput:
		if node := g.Node(sess.CurrentNodeID); node != nil {
			return strings.TrimPrefix(string(node.Kind), "input_")
		}
		return "text"
	case models.PauseAwaitingMenuChoice:
		return "menu"
	case models.PauseAwaitingWebhookReply:
		return "webhook"
	default:
		return ""
	}
}
