package messenger

import (
	"time"

	"github.com/psds-microservice/operator-console/internal/model"
)

// NormalizeIssue превращает тикет из формата бэкенда в каноничный: createdAt всегда задан,
// updatedAt не раньше createdAt, у каждого сообщения валидное время (иначе now).
func NormalizeIssue(rec model.IssueRecord, now time.Time) model.Issue {
	createdAt := rec.CreatedAt.Or(now)
	updatedAt := rec.UpdatedAt.Or(createdAt)
	if updatedAt.Before(createdAt) {
		updatedAt = createdAt
	}

	messages := make([]model.Message, 0, len(rec.Messages))
	for _, m := range rec.Messages {
		messages = append(messages, NormalizeMessage(m, now))
	}

	return model.Issue{
		IssueID:   rec.IssueID,
		AuthorID:  rec.AuthorID,
		IsClosed:  rec.IsClosed,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Messages:  messages,
	}
}

// NormalizeMessage приводит сообщение к каноничному виду; невалидное время заменяется на now.
func NormalizeMessage(rec model.MessageRecord, now time.Time) model.Message {
	m := IncomingMessage(rec)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	return m
}

// IncomingMessage конвертирует фрагмент без подстановки времени: нулевой CreatedAt
// означает, что метка не разобралась, и при слиянии сохранится время существующего сообщения.
func IncomingMessage(rec model.MessageRecord) model.Message {
	var createdAt time.Time
	if rec.CreatedAt.Valid {
		createdAt = rec.CreatedAt.Time
	}
	return model.Message{
		ID:        rec.CorrelationID(),
		Text:      rec.Text,
		Role:      rec.Role,
		IssueID:   rec.IssueID,
		AuthorID:  rec.AuthorID,
		CreatedAt: createdAt,
		Documents: rec.Documents,
	}
}
