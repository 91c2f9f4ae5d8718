package store

import (
	"context"

	"github.com/dyad/orchestrator/stream"
)

// StreamAdapter satisfies stream.ChatStore by translating between store's
// persisted row shapes and stream's narrower view types, keeping the
// stream package free of a direct dependency on the sqlite schema.
type StreamAdapter struct {
	*Store
}

// GetWorkspaceForChat implements stream.ChatStore.
func (a StreamAdapter) GetWorkspaceForChat(ctx context.Context, chatID int64) (stream.Workspace, error) {
	w, err := a.Store.GetWorkspaceForChat(ctx, chatID)
	if err != nil {
		return stream.Workspace{}, err
	}
	return stream.Workspace{
		ID: w.ID, Path: w.Path, InstallCommand: w.InstallCommand, StartCommand: w.StartCommand,
	}, nil
}

// AppendMessage implements stream.ChatStore.
func (a StreamAdapter) AppendMessage(ctx context.Context, msg stream.Message) (int64, error) {
	return a.Store.AppendMessage(ctx, Message{
		ChatID: msg.ChatID, Role: msg.Role, Content: msg.Content, Model: msg.Model,
	})
}

// RecentMessages implements stream.ChatStore.
func (a StreamAdapter) RecentMessages(ctx context.Context, chatID int64, limit int) ([]stream.Message, error) {
	msgs, err := a.Store.RecentMessages(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]stream.Message, len(msgs))
	for i, m := range msgs {
		out[i] = stream.Message{ID: m.ID, ChatID: m.ChatID, Role: m.Role, Content: m.Content, Model: m.Model}
	}
	return out, nil
}
