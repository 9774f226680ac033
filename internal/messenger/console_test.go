package messenger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/operator-console/internal/errs"
	"github.com/psds-microservice/operator-console/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transportPool struct {
	mu   sync.Mutex
	list []*fakeTransport
}

func (p *transportPool) dial() (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := newFakeTransport()
	p.list = append(p.list, t)
	return t, nil
}

func (p *transportPool) get(i int) *fakeTransport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.list[i]
}

func TestConsoleFocusReopensSession(t *testing.T) {
	pool := &transportPool{}
	c := NewConsole(pool.dial, nil, WithSessionOptions(Options{Now: func() time.Time { return base }}))
	defer c.Close()

	_, err := c.Send(context.Background(), "Hello")
	assert.ErrorIs(t, err, errs.ErrNoAuthor)

	first, err := c.Focus("USR-1", "")
	require.NoError(t, err)
	same, err := c.Focus("USR-1", "")
	require.NoError(t, err)
	assert.Same(t, first, same)

	second, err := c.Focus("USR-1", "I1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, pool.get(0).isClosed(), "previous session is closed")
	assert.Equal(t, "I1", second.View().IssueID)

	none, err := c.Focus("", "")
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Nil(t, c.Author())
	assert.True(t, pool.get(1).isClosed())
}

func TestConsoleDeleteDropsFromBothSessions(t *testing.T) {
	pool := &transportPool{}
	issues := &fakeIssues{list: []model.IssueRecord{{IssueID: "I1", AuthorID: "USR-1"}}}
	c := NewConsole(pool.dial, issues, WithSessionOptions(Options{Now: func() time.Time { return base }}))
	defer c.Close()

	require.NoError(t, c.Start())
	dialogs := c.Dialogs()
	pool.get(0).connect()
	pool.get(0).fire(EventGetIssue, map[string]any{"issueId": "I1", "authorId": "USR-1"})
	waitView(t, dialogs, func(v View) bool { return len(v.Issues) == 1 })

	author, err := c.Focus("USR-1", "")
	require.NoError(t, err)
	waitView(t, author, func(v View) bool { return len(v.Issues) == 1 })

	require.NoError(t, c.Delete(context.Background(), "", "I1"))
	assert.Empty(t, author.View().Issues)
	waitView(t, dialogs, func(v View) bool { return len(v.Issues) == 0 })
	assert.Equal(t, []string{"I1"}, issues.deletes)
}

func TestConsoleClosed(t *testing.T) {
	c := NewConsole((&transportPool{}).dial, nil)
	require.NoError(t, c.Close())
	_, err := c.Focus("USR-1", "")
	assert.ErrorIs(t, err, errs.ErrSessionClosed)
	assert.ErrorIs(t, c.Start(), errs.ErrSessionClosed)
}

func TestConsoleNavigateAndDialogsView(t *testing.T) {
	pool := &transportPool{}
	c := NewConsole(pool.dial, nil, WithSessionOptions(Options{Now: func() time.Time { return base }}))
	defer c.Close()

	_, ok := c.DialogsView()
	assert.False(t, ok)

	v, err := c.Navigate("", "")
	require.NoError(t, err)
	assert.Empty(t, v.Issues)
	assert.NotNil(t, v.Visible)

	v, err = c.Navigate("USR-1", "I1")
	require.NoError(t, err)
	assert.Equal(t, "USR-1", v.AuthorID)
	assert.Equal(t, "I1", v.IssueID)

	require.NoError(t, c.Start())
	tr := pool.get(1)
	tr.connect()
	tr.fire(EventGetIssue, map[string]any{"issueId": "late", "updatedAt": base.Add(time.Hour).Format(time.RFC3339)})
	tr.fire(EventGetIssue, map[string]any{"issueId": "early", "updatedAt": base.Format(time.RFC3339)})
	waitView(t, c.Dialogs(), func(v View) bool { return len(v.Issues) == 2 })

	dv, ok := c.DialogsView()
	require.True(t, ok)
	assert.Equal(t, "early", dv.Issues[0].IssueID)
	assert.Equal(t, "late", dv.Issues[1].IssueID)
}

func TestConsoleWait(t *testing.T) {
	pool := &transportPool{}
	c := NewConsole(pool.dial, nil, WithSessionOptions(Options{Now: func() time.Time { return base }}))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, c.Wait(ctx), "no sessions: waits for ctx")

	require.NoError(t, c.Start())
	tr := pool.get(0)
	woke := make(chan bool, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// первое уведомление могло остаться от Open
		for c.Wait(ctx) {
			if v, _ := c.DialogsView(); len(v.Issues) == 1 {
				woke <- true
				return
			}
		}
		woke <- false
	}()
	tr.connect()
	tr.fire(EventGetIssue, map[string]any{"issueId": "I1", "authorId": "USR-1"})
	assert.True(t, <-woke)
}
