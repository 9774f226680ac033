package messenger

import (
	"testing"
	"time"

	"github.com/psds-microservice/operator-console/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestAutoCloseCandidates(t *testing.T) {
	now := base
	old := &model.Issue{IssueID: "old", CreatedAt: now.Add(-2 * time.Hour)}
	fresh := &model.Issue{IssueID: "fresh", CreatedAt: now.Add(-10 * time.Minute)}
	closed := &model.Issue{IssueID: "closed", IsClosed: true, CreatedAt: now.Add(-5 * time.Hour)}
	edge := &model.Issue{IssueID: "edge", CreatedAt: now.Add(-time.Hour)}

	// старый тикет не последний в списке, но всё равно закрывается
	got := AutoCloseCandidates([]*model.Issue{old, fresh, closed, edge}, now, DefaultAutoCloseAfter)
	assert.Len(t, got, 1)
	assert.Equal(t, "old", got[0].IssueID)

	assert.True(t, ShouldAutoClose([]*model.Issue{old, fresh}, now, time.Hour))
	assert.False(t, ShouldAutoClose([]*model.Issue{fresh, closed, edge}, now, time.Hour))
	assert.False(t, ShouldAutoClose(nil, now, time.Hour))
}

func TestAutoCloseZeroCreatedAt(t *testing.T) {
	issue := &model.Issue{IssueID: "x"}
	assert.False(t, ShouldAutoClose([]*model.Issue{issue}, base, time.Hour))
}
