package syncbin

import (
	"context"
	"sync"
	"time"
)

// MemoryBin is an in-process Adapter.
type MemoryBin struct {
	mu  sync.Mutex
	rec Record
	now func() time.Time
}

// NewMemoryBin returns an empty, already-read bin.
func NewMemoryBin() *MemoryBin {
	return &MemoryBin{rec: Record{Read: true}, now: time.Now}
}

func (b *MemoryBin) Publish(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rec = NewRecord(text, b.now())
	return nil
}

func (b *MemoryBin) Peek(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec, nil
}

func (b *MemoryBin) FetchLatest(ctx context.Context) (Latest, error) {
	if err := ctx.Err(); err != nil {
		return Latest{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec.Read {
		return Latest{}, nil
	}
	b.rec.Read = true
	return Latest{HasNew: true, Text: b.rec.Text}, nil
}
