package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BotLoom/BotLoom/internal/models"
)

// stepOutcome is what executing one node produced: zero or more messages and
// exactly one control decision (pause, sub-flow descent, or a next-node id;
// an empty next means end-of-graph, which the walk loop resolves to a
// call-stack pop or a session close).
type stepOutcome struct {
	messages []models.OutboundMessage
	next     string
	pause    models.PauseReason
	subFlow  *models.FlowNode // fixed_process node to descend into
}

// step executes the handler for one node kind. Failures inside a handler
// never abort the turn silently: each handler either recovers and continues
// walking or signals end-of-graph, leaving the session resumable.
func (e *Engine) step(ctx context.Context, g *models.FlowGraph, sess *models.ConversationSession, node *models.FlowNode) stepOutcome {
	switch node.Kind {
	case models.NodeStart:
		return stepOutcome{next: node.Next}

	case models.NodeAutomaticResponses:
		// Arriving here mid-walk parks the session; the entry matching
		// itself happens in the turn resolver on the next inbound message.
		return stepOutcome{pause: models.PauseAtEntry}

	case models.NodeOutputText:
		text := Interpolate(node.Value, sess.Parameters)
		return stepOutcome{messages: []models.OutboundMessage{models.TextMessage(text)}, next: node.Next}

	case models.NodeOutputImage:
		msgs := []models.OutboundMessage{models.MediaMessage(node.Metadata.MediaType, node.Value)}
		if node.Metadata.Caption != "" {
			msgs = append(msgs, models.TextMessage(Interpolate(node.Metadata.Caption, sess.Parameters)))
		}
		return stepOutcome{messages: msgs, next: node.Next}

	case models.NodeOutputLink:
		label := Interpolate(node.Metadata.LinkText, sess.Parameters)
		return stepOutcome{messages: []models.OutboundMessage{models.URLMessage(label, node.Value)}, next: node.Next}

	case models.NodeOutputMenu:
		msgs := []models.OutboundMessage{
			models.TextMessage(Interpolate(node.Value, sess.Parameters)),
			models.OptionsMessage(menuOptions(g, node)),
		}
		return stepOutcome{messages: msgs, pause: models.PauseAwaitingMenuChoice}

	case models.NodeInputText, models.NodeInputDate, models.NodeInputFile:
		var msgs []models.OutboundMessage
		if node.Value != "" {
			msgs = append(msgs, models.TextMessage(Interpolate(node.Value, sess.Parameters)))
		}
		return stepOutcome{messages: msgs, pause: models.PauseAwaitingInput}

	case models.NodeActionWait:
		seconds := node.Metadata.WaitSeconds
		if seconds < MinWaitSeconds {
			seconds = MinWaitSeconds
		}
		if seconds > MaxWaitSeconds {
			slog.Warn("Engine.step: clamping action_wait delay", "node", node.ID, "configured", node.Metadata.WaitSeconds, "max", MaxWaitSeconds)
			seconds = MaxWaitSeconds
		}
		// In-turn blocking delay, not a cross-turn pause.
		e.sleep(time.Duration(seconds) * time.Second)
		return stepOutcome{next: node.Next}

	case models.NodeActionTimeRouting:
		return stepOutcome{next: e.routeByHour(g, node)}

	case models.NodeActionWebService:
		result := e.webhook.Run(ctx, node, g, sess, "")
		return e.applyWebhookResult(g, node, result)

	case models.NodeFixedProcess:
		return stepOutcome{subFlow: node}

	default:
		slog.Warn("Engine.step: unknown node kind, skipping", "node", node.ID, "kind", node.Kind)
		return stepOutcome{next: node.Next}
	}
}

// menuOptions lists the selectable option texts of a menu node in branch
// order, excluding the explicit default placeholder.
func menuOptions(g *models.FlowGraph, node *models.FlowNode) []string {
	branches := g.Branches(node.ID)
	options := make([]string, 0, len(branches))
	for _, b := range branches {
		if b.IsDefault() || b.MatchValue == "" {
			continue
		}
		options = append(options, b.MatchValue)
	}
	return options
}

// routeByHour evaluates the configured hour ranges of a time routing node in
// declaration order; the first containing range wins, else the explicit
// default branch. A range with fromHour > toHour wraps past midnight.
func (e *Engine) routeByHour(g *models.FlowGraph, node *models.FlowNode) string {
	hour := e.now().In(e.loc).Hour()
	for _, b := range g.Branches(node.ID) {
		if b.IsDefault() {
			continue
		}
		from, to, ok := parseHourRange(b.MatchValue)
		if !ok {
			slog.Warn("Engine.routeByHour: invalid hour range", "node", node.ID, "branch", b.Key, "value", b.MatchValue)
			continue
		}
		if hourInRange(hour, from, to) {
			slog.Debug("Engine.routeByHour: range matched", "node", node.ID, "branch", b.Key, "hour", hour)
			return b.TargetNodeID
		}
	}
	if def, ok := g.DefaultBranch(node.ID); ok {
		return def.TargetNodeID
	}
	slog.Warn("Engine.routeByHour: no range matched and no default branch", "node", node.ID, "hour", hour)
	return ""
}

// parseHourRange reads a "from-to" hour pair such as "22-6".
func parseHourRange(s string) (from, to int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	from, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || from < 0 || from > 23 {
		return 0, 0, false
	}
	to, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || to < 0 || to > 24 {
		return 0, 0, false
	}
	return from, to, true
}

// hourInRange tests half-open containment; from > to wraps past midnight.
func hourInRange(hour, from, to int) bool {
	if from > to {
		return hour >= from || hour < to
	}
	return hour >= from && hour < to
}

// applyWebhookResult turns a webhook execution into a step outcome. Pause
// keeps the session at the node for the next turn; a Goto re-enters the walk
// at the labeled node, bypassing the node's own edges; otherwise the returned
// branch value (if any) is evaluated against the node's branches in
// declaration order, falling back to the explicit default edge.
func (e *Engine) applyWebhookResult(g *models.FlowGraph, node *models.FlowNode, result WebhookResult) stepOutcome {
	out := stepOutcome{messages: result.Messages}
	if result.Paused {
		out.pause = models.PauseAwaitingWebhookReply
		return out
	}
	if result.GotoLabel != "" {
		if target := g.FindByLabel(result.GotoLabel); target != nil {
			slog.Debug("Engine.applyWebhookResult: goto matched", "node", node.ID, "label", result.GotoLabel, "target", target.ID)
			out.next = target.ID
			return out
		}
		slog.Warn("Engine.applyWebhookResult: goto label not found, falling through", "node", node.ID, "label", result.GotoLabel)
	}
	if result.BranchValue != nil {
		for _, b := range g.Branches(node.ID) {
			if b.IsDefault() {
				continue
			}
			if Evaluate(b.Operator, *result.BranchValue, b.MatchValue) {
				slog.Debug("Engine.applyWebhookResult: branch matched", "node", node.ID, "branch", b.Key, "value", *result.BranchValue)
				out.next = b.TargetNodeID
				return out
			}
		}
	}
	if def, ok := g.DefaultBranch(node.ID); ok {
		out.next = def.TargetNodeID
		return out
	}
	// No matching branch and no default edge: end-of-graph.
	return out
}
