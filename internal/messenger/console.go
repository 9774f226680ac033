package messenger

import (
	"context"
	"sync"

	"github.com/psds-microservice/operator-console/internal/errs"
	"github.com/psds-microservice/operator-console/internal/model"
	"github.com/sirupsen/logrus"
)

// TransportFactory создаёт новое соединение для каждой сессии.
type TransportFactory func() (Transport, error)

// Console держит сессию выбранного диалога (authorId, issueId) и общую сессию списка диалогов.
// Смена диалога закрывает старую сессию и открывает новую.
type Console struct {
	dial     TransportFactory
	issues   IssueService
	events   EventPublisher
	archive  Archiver
	template Options
	log      *logrus.Entry

	mu      sync.Mutex
	author  *Session
	dialogs *Session
	closed  bool
}

type ConsoleOption func(*Console)

func WithEvents(p EventPublisher) ConsoleOption {
	return func(c *Console) { c.events = p }
}

func WithArchive(a Archiver) ConsoleOption {
	return func(c *Console) { c.archive = a }
}

// WithSessionOptions задаёт таймауты и часы для всех сессий (AuthorID/IssueID/Support игнорируются).
func WithSessionOptions(o Options) ConsoleOption {
	return func(c *Console) { c.template = o }
}

func NewConsole(dial TransportFactory, issues IssueService, opts ...ConsoleOption) *Console {
	c := &Console{dial: dial, issues: issues}
	for _, opt := range opts {
		opt(c)
	}
	if c.template.Log == nil {
		c.template.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	c.log = c.template.Log.WithField("component", "console")
	return c
}

// Start открывает сессию списка диалогов (комната поддержки).
func (c *Console) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.ErrSessionClosed
	}
	if c.dialogs != nil {
		return nil
	}
	opts := c.template
	opts.AuthorID, opts.IssueID, opts.Support = "", "", true
	s, err := c.open(opts)
	if err != nil {
		return err
	}
	c.dialogs = s
	return nil
}

// Focus переключает консоль на диалог. Та же пара (authorId, issueId) возвращает текущую сессию;
// пустой authorId закрывает сессию диалога.
func (c *Console) Focus(authorID, issueID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errs.ErrSessionClosed
	}
	if c.author != nil && c.author.AuthorID() == authorID && c.author.IssueID() == issueID {
		return c.author, nil
	}
	if c.author != nil {
		if err := c.author.Close(); err != nil {
			c.log.WithError(err).Debug("close previous session")
		}
		c.author = nil
	}
	if authorID == "" {
		return nil, nil
	}
	opts := c.template
	opts.AuthorID, opts.IssueID, opts.Support = authorID, issueID, false
	s, err := c.open(opts)
	if err != nil {
		return nil, err
	}
	c.author = s
	c.log.WithFields(logrus.Fields{"author_id": authorID, "issue_id": issueID}).Info("dialog focused")
	return s, nil
}

func (c *Console) open(opts Options) (*Session, error) {
	t, err := c.dial()
	if err != nil {
		return nil, err
	}
	return Open(opts, Deps{Transport: t, Issues: c.issues, Events: c.events, Archive: c.archive})
}

// Author возвращает сессию выбранного диалога или nil.
func (c *Console) Author() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.author
}

// Dialogs возвращает сессию списка диалогов или nil до Start.
func (c *Console) Dialogs() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialogs
}

func (c *Console) Send(ctx context.Context, text string) (model.Message, error) {
	s := c.Author()
	if s == nil {
		return model.Message{}, errs.ErrNoAuthor
	}
	return s.Send(ctx, text)
}

// SetClosed закрывает/переоткрывает тикет через сессию диалога, а без неё через список диалогов.
func (c *Console) SetClosed(ctx context.Context, issueID string, closed bool) (model.Issue, error) {
	s := c.Author()
	if s == nil {
		s = c.Dialogs()
	}
	if s == nil {
		return model.Issue{}, errs.ErrSessionClosed
	}
	return s.SetClosed(ctx, issueID, closed)
}

// Delete удаляет тикет на бэкенде и убирает его из обеих сессий.
func (c *Console) Delete(ctx context.Context, authorID, issueID string) error {
	author, dialogs := c.Author(), c.Dialogs()
	primary, other := author, dialogs
	if primary == nil {
		primary, other = dialogs, nil
	}
	if primary == nil {
		return errs.ErrSessionClosed
	}
	if authorID == "" && author != nil {
		authorID = author.AuthorID()
	}
	if authorID == "" {
		for _, issue := range primary.View().Issues {
			if issue.IssueID == issueID {
				authorID = issue.AuthorID
				break
			}
		}
	}
	if authorID == "" {
		return errs.ErrNoAuthor
	}
	if err := primary.Delete(ctx, authorID, issueID); err != nil {
		return err
	}
	if other != nil {
		other.Forget(issueID)
	}
	return nil
}

// Wait блокируется, пока одна из текущих сессий не опубликует новое состояние или не закроется.
// false, если ctx отменён.
func (c *Console) Wait(ctx context.Context) bool {
	var authorUpd, dialogsUpd <-chan struct{}
	var authorDone, dialogsDone <-chan struct{}
	if s := c.Author(); s != nil {
		authorUpd, authorDone = s.Updates(), s.Done()
	}
	if s := c.Dialogs(); s != nil {
		dialogsUpd, dialogsDone = s.Updates(), s.Done()
	}
	select {
	case <-ctx.Done():
		return false
	case <-authorUpd:
	case <-dialogsUpd:
	case <-authorDone:
	case <-dialogsDone:
	}
	return true
}

// Close закрывает все сессии.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var firstErr error
	for _, s := range []*Session{c.author, c.dialogs} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.author, c.dialogs = nil, nil
	return firstErr
}

// Navigate фокусирует консоль на диалоге и возвращает его состояние. Без authorId возвращает пустой View.
func (c *Console) Navigate(authorID, issueID string) (View, error) {
	s, err := c.Focus(authorID, issueID)
	if err != nil {
		return View{}, err
	}
	if s == nil {
		return View{Issues: []*model.Issue{}, Visible: []*model.Issue{}}, nil
	}
	return s.View(), nil
}

// DialogsView возвращает список диалогов по возрастанию updatedAt; false, если сессия не запущена.
func (c *Console) DialogsView() (View, bool) {
	s := c.Dialogs()
	if s == nil {
		return View{}, false
	}
	v := s.View()
	v.Issues = v.Sorted()
	v.Visible = v.Issues
	return v, true
}
