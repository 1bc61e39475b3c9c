package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BotLoom/BotLoom/internal/models"
)

// DetectDSNType reports the database driver a DSN targets: "postgres" for
// URL-style or key=value PostgreSQL connection strings, "sqlite3" otherwise.
// SQLite DSNs are plain file paths.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalJSONColumn serializes v for a text column, returning "" for empty
// values so the column stays NULL.
func marshalJSONColumn(v interface{}) (string, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 0 {
			return "", nil
		}
	case []models.HistoryEvent:
		if len(t) == 0 {
			return "", nil
		}
	case []models.StackFrame:
		if len(t) == 0 {
			return "", nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	return string(b), nil
}

// sessionColumns is the column list shared by session queries, in scan order.
const sessionColumns = `id, flow_id, contact_key, current_node_id, active, pause, last_user_input, parameters, history, call_stack, created_at, updated_at`

// rowScanner abstracts sql.Row and sql.Rows for the session scan helper.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession scans a ConversationSession from a row using sessionColumns order.
func scanSession(row rowScanner) (*models.ConversationSession, error) {
	var sess models.ConversationSession
	var currentNodeID, lastUserInput, paramsJSON, historyJSON, stackJSON sql.NullString
	var pause sql.NullString
	err := row.Scan(
		&sess.ID, &sess.FlowID, &sess.ContactKey, &currentNodeID, &sess.Active, &pause,
		&lastUserInput, &paramsJSON, &historyJSON, &stackJSON, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sess.CurrentNodeID = currentNodeID.String
	sess.LastUserInput = lastUserInput.String
	sess.Pause = models.PauseReason(pause.String)
	if paramsJSON.String != "" {
		sess.Parameters = make(map[string]interface{})
		if err := json.Unmarshal([]byte(paramsJSON.String), &sess.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal session parameters: %w", err)
		}
	}
	if historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &sess.History); err != nil {
			return nil, fmt.Errorf("unmarshal session history: %w", err)
		}
	}
	if stackJSON.String != "" {
		if err := json.Unmarshal([]byte(stackJSON.String), &sess.CallStack); err != nil {
			return nil, fmt.Errorf("unmarshal session call stack: %w", err)
		}
	}
	return &sess, nil
}

// sessionColumnValues serializes the variable-shape session fields and returns
// the full value list matching sessionColumns order.
func sessionColumnValues(sess *models.ConversationSession) ([]interface{}, error) {
	paramsJSON, err := marshalJSONColumn(sess.Parameters)
	if err != nil {
		return nil, err
	}
	historyJSON, err := marshalJSONColumn(sess.History)
	if err != nil {
		return nil, err
	}
	stackJSON, err := marshalJSONColumn(sess.CallStack)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		sess.ID, sess.FlowID, sess.ContactKey, nilIfEmpty(sess.CurrentNodeID), sess.Active,
		nilIfEmpty(string(sess.Pause)), nilIfEmpty(sess.LastUserInput),
		nilIfEmpty(paramsJSON), nilIfEmpty(historyJSON), nilIfEmpty(stackJSON),
		sess.CreatedAt, sess.UpdatedAt,
	}, nil
}

// scanFlowNode scans a FlowNode from flow_nodes rows.
func scanFlowNode(rows *sql.Rows) (models.FlowNode, error) {
	var n models.FlowNode
	var flowID, subFlowID, value, metadataJSON, next sql.NullString
	err := rows.Scan(&n.ID, &n.Kind, &flowID, &subFlowID, &n.IsSubFlowProxy, &value, &metadataJSON, &next)
	if err != nil {
		return n, fmt.Errorf("scan flow node failed: %w", err)
	}
	n.FlowID = flowID.String
	n.SubFlowID = subFlowID.String
	n.Value = value.String
	n.Next = next.String
	if metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &n.Metadata); err != nil {
			return n, fmt.Errorf("unmarshal node metadata: %w", err)
		}
	}
	return n, nil
}

// scanFlowBranch scans a FlowBranch from flow_branches rows.
func scanFlowBranch(rows *sql.Rows) (models.FlowBranch, error) {
	var b models.FlowBranch
	var matchValue, operator, targetNodeID, auxImage sql.NullString
	err := rows.Scan(&b.OwnerNodeID, &b.Key, &matchValue, &operator, &targetNodeID, &auxImage)
	if err != nil {
		return b, fmt.Errorf("scan flow branch failed: %w", err)
	}
	b.MatchValue = matchValue.String
	b.Operator = models.Operator(operator.String)
	b.TargetNodeID = targetNodeID.String
	b.AuxImage = auxImage.String
	return b, nil
}
