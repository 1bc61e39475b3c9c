package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BotLoom/BotLoom/internal/models"
	"github.com/BotLoom/BotLoom/internal/util"
)

// ErrFlowConfig marks flow configuration failures: no reachable entry node, a
// node referencing a missing target, a missing sub-flow. The turn is rejected
// and the stored session is left untouched so a retry with corrected
// configuration succeeds.
var ErrFlowConfig = errors.New("flow configuration error")

// walk is the control-flow driver: it repeatedly executes the handler for the
// current node, manages sub-flow call-stack push/pop, enforces the step
// bound, and stops on pause or session close. Messages accumulate into out.
// An empty startID resolves immediately through the pop-or-close rule. The
// returned graph is the one the session ended the turn in.
func (e *Engine) walk(ctx context.Context, gstack []*models.FlowGraph, sess *models.ConversationSession, startID string, out *[]models.OutboundMessage) (*models.FlowGraph, error) {
	g := gstack[len(gstack)-1]
	nodeID := startID
	steps := 0

	for {
		// End-of-graph: pop a call-stack frame or close the session.
		for nodeID == "" {
			frame, ok := sess.PopFrame()
			if !ok {
				slog.Debug("Engine.walk: end of graph with empty call stack, closing session", "session", sess.ID)
				sess.Close()
				return g, nil
			}
			if len(gstack) > 1 {
				gstack = gstack[:len(gstack)-1]
			}
			g = gstack[len(gstack)-1]
			nodeID = frame.ReturnNodeID
			slog.Debug("Engine.walk: sub-flow completed, returning to caller", "session", sess.ID, "caller", frame.CallerNodeID, "return", frame.ReturnNodeID)
		}

		steps++
		if steps > MaxWalkSteps {
			// Fatal but recoverable: the turn's output is truncated, the
			// session keeps the state of the last completed step.
			slog.Error("Engine.walk: step bound exceeded, aborting turn", "session", sess.ID, "node", nodeID, "steps", steps)
			return g, nil
		}

		node := g.Node(nodeID)
		if node == nil {
			return g, fmt.Errorf("%w: node %q not found in flow %q", ErrFlowConfig, nodeID, g.FlowID)
		}
		sess.CurrentNodeID = node.ID
		sess.Pause = models.PauseNone

		result := e.step(ctx, g, sess, node)
		e.recordMessages(sess, node.ID, result.messages)
		*out = append(*out, result.messages...)

		if result.pause != models.PauseNone {
			sess.Pause = result.pause
			slog.Debug("Engine.walk: pausing", "session", sess.ID, "node", node.ID, "reason", result.pause)
			return g, nil
		}

		if result.subFlow != nil {
			sub, err := e.graphs.LoadGraph(ctx, "", result.subFlow.SubFlowID)
			if err != nil {
				return g, fmt.Errorf("%w: failed to load sub-flow %q: %v", ErrFlowConfig, result.subFlow.SubFlowID, err)
			}
			start := sub.FindByKind(models.NodeStart)
			if start == nil {
				return g, fmt.Errorf("%w: sub-flow %q has no start node", ErrFlowConfig, result.subFlow.SubFlowID)
			}
			sess.PushFrame(models.StackFrame{CallerNodeID: result.subFlow.ID, ReturnNodeID: result.subFlow.Next})
			gstack = append(gstack, sub)
			g = sub
			nodeID = start.ID
			slog.Debug("Engine.walk: descending into sub-flow", "session", sess.ID, "caller", result.subFlow.ID, "sub_flow", result.subFlow.SubFlowID, "depth", len(sess.CallStack))
			continue
		}

		nodeID = result.next
	}
}

// recordMessages appends transcript entries for the messages a node produced.
func (e *Engine) recordMessages(sess *models.ConversationSession, nodeID string, msgs []models.OutboundMessage) {
	for _, m := range msgs {
		sess.AppendHistory(models.HistoryEvent{
			ID:        util.GenerateEventID(),
			NodeID:    nodeID,
			Kind:      models.HistoryEventBot,
			Text:      historyText(m),
			Timestamp: e.now(),
		})
	}
}

// historyText renders a message for the transcript.
func historyText(m models.OutboundMessage) string {
	switch m.Type {
	case models.MessageTypeText:
		return m.Text
	case models.MessageTypeOptions:
		return strings.Join(m.Options, " | ")
	case models.MessageTypeURL:
		if m.Text != "" {
			return m.Text + " " + m.URL
		}
		return m.URL
	case models.MessageTypeCarousel:
		titles := make([]string, 0, len(m.Items))
		for _, item := range m.Items {
			titles = append(titles, item.Title)
		}
		return strings.Join(titles, " | ")
	default:
		return m.URL
	}
}
