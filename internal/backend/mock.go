package backend

import (
	"context"
	"fmt"
	"strings"

	"RoleChat/internal/session"
	"RoleChat/internal/termination"
)

// MockClient answers without a network. It follows the farewell rule: when the
// last user message asks to stop it replies with the farewell token alone.
type MockClient struct{}

// NewMockClient returns a MockClient.
func NewMockClient() *MockClient { return &MockClient{} }

// Complete echoes the last user message.
func (m *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == session.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}

	if termination.UserRequestsExit(last) || strings.Contains(last, "不想聊了") {
		return termination.FarewellToken, nil
	}
	return fmt.Sprintf("（第%d轮）你说：%s", countUserTurns(req.Messages), strings.TrimSpace(last)), nil
}

func countUserTurns(messages []session.Message) int {
	n := 0
	for _, msg := range messages {
		if msg.Role == session.RoleUser {
			n++
		}
	}
	return n
}
