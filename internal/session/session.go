package session

import (
	"bytes"
	"encoding/json"
	"time"
)

// Role identifies the speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known speaker roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a single chat message
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the ordered message list replayed to the model on every turn.
// Index 0 always holds the system prompt during an active session.
type History []Message

// New returns a history holding only the system prompt.
func New(systemPrompt string) History {
	return History{{Role: RoleSystem, Content: systemPrompt}}
}

// Valid reports whether h has exactly one system message and it sits at index 0.
func (h History) Valid() bool {
	if len(h) == 0 || h[0].Role != RoleSystem {
		return false
	}
	for _, msg := range h[1:] {
		if msg.Role == RoleSystem || !msg.Role.Valid() {
			return false
		}
	}
	return true
}

// Turns returns the user-visible part of the history, without the system message.
func (h History) Turns() []Message {
	if len(h) > 0 && h[0].Role == RoleSystem {
		return h[1:]
	}
	return h
}

// Clone returns a copy that shares no backing array with h.
func (h History) Clone() History {
	if h == nil {
		return nil
	}
	out := make(History, len(h))
	copy(out, h)
	return out
}

// Normalize rebuilds h around a fresh system prompt: stray system messages and
// messages with unknown roles are dropped, the remaining turns keep their order.
func (h History) Normalize(systemPrompt string) History {
	out := New(systemPrompt)
	for _, msg := range h {
		if msg.Role == RoleUser || msg.Role == RoleAssistant {
			out = append(out, msg)
		}
	}
	return out
}

// Outbound builds the request messages: the current system prompt replaces
// whatever was stored at index 0, followed by every turn in order.
func (h History) Outbound(systemPrompt string) []Message {
	turns := h.Turns()
	out := make([]Message, 0, len(turns)+1)
	out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	return append(out, turns...)
}

// TimestampLayout is the layout of Record.UpdatedAt on disk.
const TimestampLayout = "2006-01-02 15:04:05"

// Record is the persisted form of one session.
type Record struct {
	PersonaPrompt string
	History       History
	UpdatedAt     time.Time
}

type recordJSON struct {
	PersonaPrompt string  `json:"role_system"`
	History       History `json:"history"`
	LastUpdate    string  `json:"last_update"`
}

// MarshalJSON writes the record with the field names used by existing memory files.
func (r Record) MarshalJSON() ([]byte, error) {
	history := r.History
	if history == nil {
		history = History{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(recordJSON{
		PersonaPrompt: r.PersonaPrompt,
		History:       history,
		LastUpdate:    r.UpdatedAt.Local().Format(TimestampLayout),
	})
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON accepts both the on-disk layout and RFC 3339 timestamps. An
// unparseable timestamp leaves UpdatedAt zero rather than failing the record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.PersonaPrompt = raw.PersonaPrompt
	r.History = raw.History
	r.UpdatedAt = time.Time{}
	if t, err := time.ParseInLocation(TimestampLayout, raw.LastUpdate, time.Local); err == nil {
		r.UpdatedAt = t
	} else if t, err := time.Parse(time.RFC3339, raw.LastUpdate); err == nil {
		r.UpdatedAt = t
	}
	return nil
}
