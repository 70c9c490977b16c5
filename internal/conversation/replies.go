package conversation

import (
	"context"
	"errors"

	"github.com/eichemberger/aws-sidekick/internal/core"
)

const emptyResult = "(task completed with no output)"

// RecordTaskReplies appends an assistant message to the owning conversation
// whenever a task submitted from it finishes. It returns when transitions is
// closed or ctx is done.
func (s *Store) RecordTaskReplies(ctx context.Context, transitions <-chan core.TaskTransition) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			if tr.Task.ConversationID == "" || !tr.To.Terminal() {
				continue
			}
			s.recordReply(ctx, tr.Task)
		}
	}
}

func (s *Store) recordReply(ctx context.Context, t core.TaskRecord) {
	_, err := s.AddMessage(ctx, MessageInput{
		ConversationID: t.ConversationID,
		Role:           core.RoleAssistant,
		Content:        ReplyContent(t),
		TaskID:         t.ID,
	}, "")
	switch {
	case errors.Is(err, core.ErrNotFound):
		s.logger.Debug().Str("task", t.ID).Str("conversation", t.ConversationID).Msg("conversation gone; reply dropped")
	case err != nil:
		s.logger.Error().Err(err).Str("task", t.ID).Str("conversation", t.ConversationID).Msg("recording task reply")
	}
}

// ReplyContent renders a finished task as message text.
func ReplyContent(t core.TaskRecord) string {
	switch {
	case t.Status == core.TaskFailed && t.Error != nil:
		return "Task failed: " + *t.Error
	case t.Result != nil && *t.Result != "":
		return *t.Result
	}
	return emptyResult
}
