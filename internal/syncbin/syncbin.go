// Package syncbin mirrors the latest assistant reply to a shared record so a
// second process can pick it up.
//
// The record holds a single reply and a read flag. Publishing overwrites it;
// FetchLatest reports an unread record once and marks it read.
package syncbin

import (
	"context"
	"time"
)

// Record is the shared document.
type Record struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Read      bool   `json:"read"`
}

// Latest is the result of a consuming read.
type Latest struct {
	HasNew bool   `json:"has_new"`
	Text   string `json:"text,omitempty"`
}

// Publisher writes replies.
type Publisher interface {
	Publish(ctx context.Context, text string) error
}

// Adapter is a full sync store.
type Adapter interface {
	Publisher
	FetchLatest(ctx context.Context) (Latest, error)
	Peek(ctx context.Context) (Record, error)
}

// NewRecord builds an unread record stamped with now.
func NewRecord(text string, now time.Time) Record {
	return Record{
		Text:      text,
		Timestamp: now.Format(TimestampLayout),
		Read:      false,
	}
}

// TimestampLayout is ISO 8601 local time with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000"
