// Package chathistory implements the Chat History Store: an append-only
// log of messages exchanged between a module's profile and its agent,
// keyed for ascending-timestamp replay into an agent's context window.
package chathistory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/storedb"
)

// maxTimestampRetries bounds the monotonic-bump retry loop AddMessage
// runs when two messages land on the same (module_id, profile,
// timestamp, session_id) key.
const maxTimestampRetries = 3

// Role is who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCallDescriptor is one function call an assistant message requested;
// a message's ToolCalls is stored as a JSON array of these.
type ToolCallDescriptor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one row of chat history.
type Message struct {
	ID         int64                `json:"id"`
	ModuleID   string               `json:"module_id"`
	Profile    string               `json:"profile"`
	SessionID  string               `json:"session_id"`
	Role       Role                 `json:"role"`
	Content    string               `json:"content"`
	ToolCalls  []ToolCallDescriptor `json:"tool_calls,omitempty"` // set on assistant rows that requested tool calls
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolName   string               `json:"tool_name,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// Store manages the chat_messages table.
type Store struct {
	db     *sql.DB
	driver storedb.Driver
}

// NewStore wraps db (schema already created by EnsureSchema).
func NewStore(db *sql.DB, driver storedb.Driver) *Store {
	return &Store{db: db, driver: driver}
}

// EnsureSchema creates the chat_messages table if it doesn't exist.
const EnsureSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	module_id    TEXT NOT NULL,
	profile      TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	tool_calls   TEXT,
	tool_call_id TEXT,
	tool_name    TEXT,
	timestamp    TIMESTAMP NOT NULL,
	UNIQUE (module_id, profile, session_id, timestamp)
)`

func (s *Store) bind(query string) string {
	return storedb.Rebind(s.driver, query)
}

// AddMessage appends msg, stamping it with the current wall-clock time.
// A collision on the (module_id, profile, session_id, timestamp) key —
// two messages landing in the same instant — is resolved by bumping the
// timestamp by one microsecond and retrying, up to maxTimestampRetries
// times before giving up with a DBError.
func (s *Store) AddMessage(ctx context.Context, msg Message) (Message, error) {
	toolCallsJSON, err := marshalToolCalls(msg.ToolCalls)
	if err != nil {
		return Message{}, platformerr.Wrap(platformerr.DBError, "marshal tool calls", err)
	}

	ts := time.Now().UTC()
	for attempt := 0; attempt <= maxTimestampRetries; attempt++ {
		res, err := s.db.ExecContext(ctx, s.bind(`
			INSERT INTO chat_messages (module_id, profile, session_id, role, content, tool_calls, tool_call_id, tool_name, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), msg.ModuleID, msg.Profile, msg.SessionID, string(msg.Role), msg.Content, toolCallsJSON, nullableString(msg.ToolCallID), nullableString(msg.ToolName), ts)

		if err == nil {
			id, idErr := res.LastInsertId()
			if idErr != nil {
				return Message{}, platformerr.Wrap(platformerr.DBError, "read inserted message id", idErr)
			}
			msg.ID = id
			msg.Timestamp = ts
			return msg, nil
		}

		if !isUniqueViolation(err) {
			return Message{}, platformerr.Wrap(platformerr.DBError, "insert chat message", err)
		}
		ts = ts.Add(time.Microsecond)
	}

	return Message{}, platformerr.New(platformerr.DBError,
		fmt.Sprintf("could not find a free timestamp for module %q profile %q after %d attempts", msg.ModuleID, msg.Profile, maxTimestampRetries+1))
}

// GetMessages returns every message for (moduleID, profile, sessionID) in
// ascending timestamp order, ready to replay into an agent's context.
func (s *Store) GetMessages(ctx context.Context, moduleID, profile, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT id, module_id, profile, session_id, role, content, tool_calls, tool_call_id, tool_name, timestamp
		FROM chat_messages
		WHERE module_id = ? AND profile = ? AND session_id = ?
		ORDER BY timestamp ASC
	`), moduleID, profile, sessionID)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.DBError, "query chat messages", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var role string
		var toolCallsJSON, toolCallID, toolName sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ModuleID, &msg.Profile, &msg.SessionID, &role, &msg.Content, &toolCallsJSON, &toolCallID, &toolName, &msg.Timestamp); err != nil {
			return nil, platformerr.Wrap(platformerr.DBError, "scan chat message", err)
		}
		msg.Role = Role(role)
		msg.ToolCallID = toolCallID.String
		msg.ToolName = toolName.String
		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				return nil, platformerr.Wrap(platformerr.DBError, "unmarshal tool calls", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func marshalToolCalls(calls []ToolCallDescriptor) (interface{}, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "duplicate key")
}
