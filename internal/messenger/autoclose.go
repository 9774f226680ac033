package messenger

import (
	"time"

	"github.com/psds-microservice/operator-console/internal/model"
)

// DefaultAutoCloseAfter — через сколько после создания открытый тикет закрывается автоматически.
const DefaultAutoCloseAfter = time.Hour

// AutoCloseCandidates возвращает открытые тикеты, созданные раньше чем threshold назад.
// Каждый тикет оценивается независимо от остальных.
func AutoCloseCandidates(issues []*model.Issue, now time.Time, threshold time.Duration) []*model.Issue {
	var out []*model.Issue
	for _, issue := range issues {
		if shouldClose(issue, now, threshold) {
			out = append(out, issue)
		}
	}
	return out
}

// ShouldAutoClose сообщает, есть ли хотя бы один тикет, который пора закрыть.
func ShouldAutoClose(issues []*model.Issue, now time.Time, threshold time.Duration) bool {
	for _, issue := range issues {
		if shouldClose(issue, now, threshold) {
			return true
		}
	}
	return false
}

func shouldClose(issue *model.Issue, now time.Time, threshold time.Duration) bool {
	if issue.IsClosed {
		return false
	}
	createdAt := issue.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return now.Sub(createdAt) > threshold
}
