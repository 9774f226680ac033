package messenger

import (
	"slices"
	"time"

	"github.com/psds-microservice/operator-console/internal/model"
)

// MergeOrAppend применяет порцию сообщения к тикету. Если в тикете уже есть сообщение с тем же
// (id, issueId), текст порции дописывается в конец, документы заменяются только непустым списком,
// время берётся из порции, если оно валидно. Иначе сообщение добавляется в конец.
// Входной тикет не изменяется.
//
// Признака «последней порции» нет: повторные порции с тем же id конкатенируются бесконечно.
func MergeOrAppend(issue model.Issue, incoming model.Message, now time.Time) model.Issue {
	next := issue
	next.Messages = slices.Clone(issue.Messages)

	idx := slices.IndexFunc(next.Messages, func(m model.Message) bool {
		return m.ID == incoming.ID && m.IssueID == incoming.IssueID
	})
	if idx >= 0 {
		existing := next.Messages[idx]
		existing.Text += incoming.Text
		if len(incoming.Documents) > 0 {
			existing.Documents = incoming.Documents
		}
		if !incoming.CreatedAt.IsZero() {
			existing.CreatedAt = incoming.CreatedAt
		}
		next.Messages[idx] = existing
		return next
	}

	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = now
	}
	next.Messages = append(next.Messages, incoming)
	return next
}
