package messenger

import (
	"fmt"
	"testing"
	"time"

	"github.com/psds-microservice/operator-console/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func TestApplySnapshotNoop(t *testing.T) {
	s := NewStore()
	snapshot := issueWith(model.Message{ID: "A", IssueID: "I1", Text: "hi", CreatedAt: base})

	assert.True(t, s.ApplySnapshot(snapshot))
	first, ok := s.Get("I1")
	require.True(t, ok)

	assert.False(t, s.ApplySnapshot(snapshot))
	second, _ := s.Get("I1")
	assert.Same(t, first, second, "identical snapshot keeps the issue pointer")

	changed := issueWith(
		model.Message{ID: "A", IssueID: "I1", Text: "hi", CreatedAt: base},
		model.Message{ID: "B", IssueID: "I1", Text: "more", CreatedAt: base.Add(time.Second)},
	)
	changed.UpdatedAt = base.Add(time.Second)
	assert.True(t, s.ApplySnapshot(changed))
	third, _ := s.Get("I1")
	assert.NotSame(t, first, third)
	assert.Len(t, third.Messages, 2)
	assert.Equal(t, 1, s.Len())
}

func TestApplySnapshotIgnoresOlder(t *testing.T) {
	s := NewStore()
	fresh := issueWith(model.Message{ID: "A", IssueID: "I1", Text: "new", CreatedAt: base})
	fresh.UpdatedAt = base.Add(time.Minute)
	s.ApplyPush(fresh)

	stale := issueWith()
	assert.False(t, s.ApplySnapshot(stale))
	got, _ := s.Get("I1")
	assert.Len(t, got.Messages, 1)
}

func TestApplyPushReplacesAndAppends(t *testing.T) {
	s := NewStore()
	s.ApplyPush(model.Issue{IssueID: "I1", UpdatedAt: base})
	s.ApplyPush(model.Issue{IssueID: "I2", UpdatedAt: base})
	first, _ := s.Get("I1")

	same := model.Issue{IssueID: "I1", UpdatedAt: base}
	assert.True(t, s.ApplyPush(same))
	again, _ := s.Get("I1")
	assert.NotSame(t, first, again, "push always replaces")

	ids := []string{}
	for _, issue := range s.Issues() {
		ids = append(ids, issue.IssueID)
	}
	assert.Equal(t, []string{"I1", "I2"}, ids, "insertion order is kept")

	s.Focus("I2")
	assert.False(t, s.ApplyPush(model.Issue{IssueID: "I3"}))
	assert.Equal(t, 2, s.Len())
	require.Len(t, s.Visible(), 1)
	assert.Equal(t, "I2", s.Visible()[0].IssueID)
}

func TestApplyFragmentRouting(t *testing.T) {
	s := NewStore()
	s.ApplyPush(model.Issue{IssueID: "I1", UpdatedAt: base})
	s.ApplyPush(model.Issue{IssueID: "I2", UpdatedAt: base.Add(time.Minute)})

	assert.True(t, s.ApplyFragment(model.Message{ID: "A", IssueID: "I1", Text: "x", Role: model.RoleAI}, base))
	i1, _ := s.Get("I1")
	assert.Len(t, i1.Messages, 1)

	assert.True(t, s.ApplyFragment(model.Message{ID: "B", Text: "y", Role: model.RoleAI}, base))
	i2, _ := s.Get("I2")
	require.Len(t, i2.Messages, 1, "fragment without issueId goes to the most recent issue")
	assert.Equal(t, "I2", i2.Messages[0].IssueID)

	assert.False(t, s.ApplyFragment(model.Message{ID: "C", IssueID: "unknown", Text: "z"}, base))

	s.Focus("I1")
	assert.False(t, s.ApplyFragment(model.Message{ID: "D", IssueID: "I2", Text: "z"}, base))
	assert.True(t, s.ApplyFragment(model.Message{ID: "A", Text: "x"}, base))
	i1, _ = s.Get("I1")
	assert.Equal(t, "xx", i1.Messages[0].Text)
}

func TestOrderingAndMostRecent(t *testing.T) {
	t1, t2 := base, base.Add(time.Hour)
	s := NewStore()
	s.ApplyPush(model.Issue{IssueID: "I2", UpdatedAt: t2})
	s.ApplyPush(model.Issue{IssueID: "I1", UpdatedAt: t1})

	issues := s.Issues()
	SortByUpdatedAsc(issues)
	assert.Equal(t, "I1", issues[0].IssueID)
	assert.Equal(t, "I2", issues[1].IssueID)

	assert.Equal(t, "I2", s.MostRecent().IssueID)
	msg, target, created := s.ApplyOptimisticSend(model.Message{ID: "m1", Text: "hey", Role: model.RoleOperator}, sequentialIDs("issue"), t2.Add(time.Minute))
	assert.False(t, created)
	assert.Equal(t, "I2", msg.IssueID)
	assert.Equal(t, "I2", target.IssueID)
	assert.Equal(t, t2.Add(time.Minute), target.UpdatedAt)
	assert.Equal(t, 2, s.Len())
}

func TestMostRecentTieGoesToLater(t *testing.T) {
	a := &model.Issue{IssueID: "A", UpdatedAt: base}
	b := &model.Issue{IssueID: "B", UpdatedAt: base}
	assert.Equal(t, "B", MostRecent([]*model.Issue{a, b}).IssueID)
	assert.Nil(t, MostRecent(nil))
}

func TestOptimisticSendTargets(t *testing.T) {
	now := base.Add(time.Hour)

	t.Run("new issue when store is empty", func(t *testing.T) {
		s := NewStore()
		msg, issue, created := s.ApplyOptimisticSend(model.Message{ID: "m1", Text: "Hello", AuthorID: "USR-1"}, sequentialIDs("issue"), now)
		assert.True(t, created)
		assert.Equal(t, "issue-1", msg.IssueID)
		assert.Equal(t, "issue-1", issue.IssueID)
		assert.Equal(t, "USR-1", issue.AuthorID)
		assert.False(t, issue.IsClosed)
		assert.Equal(t, now, issue.CreatedAt)
		require.Len(t, issue.Messages, 1)
	})

	t.Run("new issue when most recent is closed", func(t *testing.T) {
		s := NewStore()
		s.ApplyPush(model.Issue{IssueID: "I1", IsClosed: true, UpdatedAt: base})
		msg, _, created := s.ApplyOptimisticSend(model.Message{ID: "m1"}, sequentialIDs("issue"), now)
		assert.True(t, created)
		assert.Equal(t, "issue-1", msg.IssueID)
		assert.Equal(t, 2, s.Len())
	})

	t.Run("focused issue wins even if closed", func(t *testing.T) {
		s := NewStore()
		s.ApplyPush(model.Issue{IssueID: "I1", IsClosed: true, UpdatedAt: base})
		s.ApplyPush(model.Issue{IssueID: "I2", UpdatedAt: base.Add(time.Minute)})
		s.Focus("I1")
		msg, issue, created := s.ApplyOptimisticSend(model.Message{ID: "m1"}, sequentialIDs("issue"), now)
		assert.Equal(t, "I1", msg.IssueID)
		assert.Len(t, issue.Messages, 1)
		assert.False(t, created, "first message in an existing issue does not create it")
	})
}

func TestMarkDeliveryReplaceRemove(t *testing.T) {
	s := NewStore()
	s.ApplyOptimisticSend(model.Message{ID: "m1", Delivery: model.DeliveryPending}, sequentialIDs("issue"), base)

	assert.True(t, s.MarkDelivery("m1", model.DeliveryFailed))
	assert.False(t, s.MarkDelivery("m1", model.DeliveryFailed))
	assert.False(t, s.MarkDelivery("missing", model.DeliveryFailed))
	issue, _ := s.Get("issue-1")
	assert.Equal(t, model.DeliveryFailed, issue.Messages[0].Delivery)

	assert.False(t, s.Replace(model.Issue{IssueID: "other"}))
	assert.True(t, s.Replace(model.Issue{IssueID: "issue-1", IsClosed: true}))
	issue, _ = s.Get("issue-1")
	assert.True(t, issue.IsClosed)

	s.ApplyPush(model.Issue{IssueID: "I9"})
	assert.True(t, s.Remove("issue-1"))
	assert.False(t, s.Remove("issue-1"))
	got, ok := s.Get("I9")
	require.True(t, ok)
	assert.Equal(t, "I9", got.IssueID)

	s.Focus("I9")
	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, "I9", s.Focused())
}
