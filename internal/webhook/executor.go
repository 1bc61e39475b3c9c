// Package webhook implements the action executor for action_web_service
// nodes: it posts the conversation context to an operator-configured URL and
// interprets the returned action list against the session.
package webhook

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BotLoom/BotLoom/internal/engine"
	"github.com/BotLoom/BotLoom/internal/models"

	"github.com/go-resty/resty/v2"
)

// Default HTTP client configuration.
const (
	// DefaultTimeout bounds the blocking outbound request; a timeout is
	// treated identically to a transport failure.
	DefaultTimeout = 10 * time.Second
	// DefaultRetryCount retries transient transport failures within the turn.
	DefaultRetryCount = 1
)

// transportErrorMessage is the single user-visible message synthesized when
// the webhook is unreachable, times out, or returns an unusable body.
const transportErrorMessage = "Sorry, we could not process that right now. Please try again in a moment."

// Opts holds configuration options for the executor.
type Opts struct {
	Timeout    time.Duration
	RetryCount int
	Debug      bool
}

// Option defines a configuration option for the executor.
type Option func(*Opts)

// WithTimeout sets the outbound request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithRetryCount sets the transport retry count.
func WithRetryCount(n int) Option {
	return func(o *Opts) { o.RetryCount = n }
}

// WithDebug enables HTTP client debug logging.
func WithDebug() Option {
	return func(o *Opts) { o.Debug = true }
}

// Executor posts webhook requests and interprets the returned actions. It
// implements engine.WebhookRunner and never propagates transport or parse
// failures to the walk loop.
type Executor struct {
	client *resty.Client
}

// NewExecutor creates an executor with a configured HTTP client.
func NewExecutor(opts ...Option) *Executor {
	cfg := Opts{Timeout: DefaultTimeout, RetryCount: DefaultRetryCount}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Executor.NewExecutor: creating webhook executor", "timeout", cfg.Timeout.String(), "retries", cfg.RetryCount)
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetDebug(cfg.Debug)
	return &Executor{client: client}
}

// Run posts the conversation context to the node's URL and interprets the
// response actions in array order. On any transport or parse failure it
// reports a non-paused result carrying one apologetic message and no branch
// value, so the walk loop falls through to the node's default edge.
func (x *Executor) Run(ctx context.Context, node *models.FlowNode, g *models.FlowGraph, sess *models.ConversationSession, userInput string) engine.WebhookResult {
	target := stripNullQueryParams(engine.Interpolate(node.Value, sess.Parameters))
	payload := buildRequest(node, g, sess, userInput)

	slog.Debug("Executor.Run: posting webhook request", "node", node.ID, "session", sess.ID, "url_set", target != "")
	resp, err := x.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(target)
	if err != nil {
		slog.Error("Executor.Run: webhook transport failure", "error", err, "node", node.ID)
		return failureResult()
	}
	if resp.IsError() {
		slog.Error("Executor.Run: webhook returned error status", "status", resp.StatusCode(), "node", node.ID)
		return failureResult()
	}

	body, ok := extractJSONObject(resp.Body())
	if !ok {
		slog.Error("Executor.Run: no JSON object found in webhook body", "node", node.ID, "body_length", len(resp.Body()))
		return failureResult()
	}
	actions, err := models.DecodeWebhookActions(body)
	if err != nil {
		slog.Error("Executor.Run: malformed webhook response", "error", err, "node", node.ID)
		return failureResult()
	}

	slog.Debug("Executor.Run: interpreting webhook actions", "node", node.ID, "count", len(actions))
	return x.interpret(actions, sess)
}

// interpret executes the action list strictly in array order. SetParameter
// mutations are visible to subsequent actions in the same response; a
// maximal contiguous run of SendItem coalesces into one carousel; Return
// records the branch value with last-one-wins; a pause and a return are
// independent signals but pause takes precedence for flow control; Goto
// bypasses the remaining action list.
func (x *Executor) interpret(actions []models.WebhookAction, sess *models.ConversationSession) engine.WebhookResult {
	var result engine.WebhookResult
	var items []models.CarouselItem

	flushItems := func() {
		if len(items) > 0 {
			result.Messages = append(result.Messages, models.CarouselMessage(items))
			items = nil
		}
	}

	for _, a := range actions {
		if a.Type != models.ActionSendItem {
			flushItems()
		}
		switch a.Type {
		case models.ActionSetParameter:
			sess.SetParameter(a.Name, a.Value)

		case models.ActionSendMessage:
			result.Messages = append(result.Messages, models.TextMessage(engine.Interpolate(a.Text, sess.Parameters)))

		case models.ActionSendImage:
			result.Messages = append(result.Messages, models.MediaMessage("image", a.URL))

		case models.ActionSendWebpage:
			result.Messages = append(result.Messages, models.URLMessage(engine.Interpolate(a.Text, sess.Parameters), a.URL))

		case models.ActionSendItem:
			items = append(items, models.CarouselItem{
				Title:    a.Title,
				Subtitle: a.Subtitle,
				Image:    a.Image,
				URL:      a.URL,
				Options:  a.Options,
			})

		case models.ActionInputText:
			if a.Text != "" {
				result.Messages = append(result.Messages, models.TextMessage(engine.Interpolate(a.Text, sess.Parameters)))
			}
			if len(a.Options) > 0 {
				result.Messages = append(result.Messages, models.OptionsMessage(a.Options))
			}
			result.Paused = true

		case models.ActionReturn:
			value := a.Value
			result.BranchValue = &value

		case models.ActionChangeState:
			result.Messages = append(result.Messages, models.TextMessage(engine.Interpolate(a.Text, sess.Parameters)))

		case models.ActionGoto:
			result.GotoLabel = a.Node
			flushItems()
			return result

		default:
			slog.Warn("Executor.interpret: ignoring unknown webhook action", "raw", string(a.Raw))
		}
	}
	flushItems()
	return result
}

// failureResult is the recovery outcome for transport-class failures.
func failureResult() engine.WebhookResult {
	return engine.WebhookResult{
		Messages: []models.OutboundMessage{models.TextMessage(transportErrorMessage)},
	}
}

// buildRequest assembles the fixed-shape webhook payload.
func buildRequest(node *models.FlowNode, g *models.FlowGraph, sess *models.ConversationSession, userInput string) models.WebhookRequest {
	names := make([]string, 0, len(sess.Parameters))
	for name := range sess.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	params := make([]models.WebhookParameter, 0, len(names))
	for _, name := range names {
		params = append(params, models.WebhookParameter{Name: name, Value: sess.Parameters[name]})
	}

	input := userInput
	if input == "" {
		input = sess.LastUserInput
	}
	var value *models.WebhookValue
	if input != "" {
		value = &models.WebhookValue{String: input}
		if n, ok := parseWebhookNumber(input); ok {
			value.Number = &n
		}
	}

	return models.WebhookRequest{
		Campaign: models.WebhookCampaign{ID: g.FlowID, Name: g.FlowName},
		Chat: models.WebhookChat{
			Created: sess.CreatedAt.Unix(),
			Source:  node.ID,
			Sender:  sess.ContactKey,
			Control: sess.ID,
		},
		Parameters:     params,
		Value:          value,
		ProcessHistory: sess.History,
	}
}

// parseWebhookNumber attempts the numeric parse of the last user input.
func parseWebhookNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// stripNullQueryParams removes query fragments whose value interpolated to
// the literal "null", so unresolved placeholders do not leak to the operator.
func stripNullQueryParams(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := u.Query()
	changed := false
	for key, values := range query {
		kept := values[:0]
		for _, v := range values {
			if v == "null" {
				changed = true
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == 0 {
			query.Del(key)
		} else {
			query[key] = kept
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// extractJSONObject locates the outermost JSON object in a response body,
// tolerating stray prose around it.
func extractJSONObject(body []byte) ([]byte, bool) {
	start := bytes.IndexByte(body, '{')
	end := bytes.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return nil, false
	}
	return body[start : end+1], true
}
