package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/operator-console/internal/errs"
	"github.com/psds-microservice/operator-console/internal/model"
	"github.com/psds-microservice/operator-console/internal/socketio"
	"github.com/sirupsen/logrus"
)

// События сокета бэкенда.
const (
	EventJoinRoom        = "joinRoom"
	EventJoinRoomSupport = "joinRoomSupport"
	EventSendMessage     = "sendMessage"
	EventGetIssue        = "getIssue"
	EventMessageTextPart = "messageTextPart"
)

// События, которые сессия публикует в шину (kafka).
const (
	IssueEventMessageSent = "message.sent"
	IssueEventClosed      = "issue.closed"
	IssueEventDeleted     = "issue.deleted"
	IssueEventSnapshot    = "issue.snapshot"
)

const (
	DefaultAutoCloseInterval = time.Minute
	DefaultAckTimeout        = 30 * time.Second
	DefaultRequestTimeout    = 10 * time.Second

	eventBuffer = 256
	noticeConn  = "failed to connect to chat server"
)

var errNoBackend = fmt.Errorf("%w: rest client is not configured", errs.ErrBackendFailure)

// Transport — канал реального времени (socketio.Client).
type Transport interface {
	On(event string, h socketio.Handler)
	Connect(ctx context.Context) error
	Connected() bool
	Emit(event string, payload any, ack socketio.AckFunc) error
	Close() error
}

// IssueService — REST бэкенда (backend.Client).
type IssueService interface {
	ListIssues(ctx context.Context, authorID string) ([]model.IssueRecord, error)
	ChatHistory(ctx context.Context, authorID, issueID string) (model.IssueRecord, error)
	SetClosed(ctx context.Context, issueID string, closed bool) (model.IssueRecord, error)
	DeleteIssue(ctx context.Context, authorID, issueID string) error
}

// EventPublisher — интерфейс для отправки событий тикета (kafka.Producer), для подмены в тестах.
type EventPublisher interface {
	ProduceIssueEvent(ctx context.Context, event string, payload map[string]interface{})
}

// Archiver — зеркало тикетов в БД (archive.Mirror). Save/Remove не блокируют.
type Archiver interface {
	Save(issue model.Issue)
	Remove(issueID string)
	ListByAuthor(ctx context.Context, authorID string) ([]model.Issue, error)
}

// Options — параметры одной сессии оператора.
type Options struct {
	AuthorID string
	IssueID  string
	// Support: общая комната поддержки (список диалогов): joinRoomSupport, без истории и автозакрытия.
	Support bool

	AutoCloseAfter    time.Duration
	AutoCloseInterval time.Duration
	AckTimeout        time.Duration
	RequestTimeout    time.Duration

	Now   func() time.Time
	NewID func() string
	Log   *logrus.Entry
}

func (o *Options) defaults() {
	if o.AutoCloseAfter <= 0 {
		o.AutoCloseAfter = DefaultAutoCloseAfter
	}
	if o.AutoCloseInterval <= 0 {
		o.AutoCloseInterval = DefaultAutoCloseInterval
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
}

// Deps — внешние зависимости сессии. Issues, Events и Archive могут быть nil.
type Deps struct {
	Transport Transport
	Issues    IssueService
	Events    EventPublisher
	Archive   Archiver
}

// View — неизменяемый снимок состояния сессии для читателей из других горутин.
type View struct {
	AuthorID  string         `json:"authorId,omitempty"`
	IssueID   string         `json:"issueId,omitempty"`
	Issues    []*model.Issue `json:"issues"`
	Visible   []*model.Issue `json:"visible"`
	Loading   bool           `json:"loading"`
	Connected bool           `json:"connected"`
	Notice    string         `json:"notice,omitempty"`
	Pending   int            `json:"pending"`
	Version   uint64         `json:"version"`
}

// Sorted возвращает тикеты по возрастанию updatedAt (последний самый свежий).
func (v View) Sorted() []*model.Issue {
	out := make([]*model.Issue, len(v.Issues))
	copy(out, v.Issues)
	SortByUpdatedAsc(out)
	return out
}

// Session — контекст одной сессии оператора: соединение, стор и единственный цикл,
// который применяет все события по очереди. Сокет, ответы REST, ack и таймеры только
// ставят события в очередь; после Close события отбрасываются.
type Session struct {
	opts Options
	deps Deps
	log  *logrus.Entry

	// принадлежат циклу
	store     *Store
	pending   map[string]struct{} // ждут ack
	sent      map[string]struct{} // отправлены этой сессией, ждут эха
	seeded    map[string]struct{} // взяты из архива, REST ещё не ответил
	closing   map[string]struct{}
	retryAt   map[string]time.Time
	loading   bool
	connected bool
	notice    string
	everUp    bool
	version   uint64
	archived  map[*model.Issue]struct{}

	events  chan func()
	updates chan struct{}
	view    atomic.Pointer[View]

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open создаёт сессию, подписывается на события транспорта, подключается и запускает
// загрузку истории.
func Open(opts Options, deps Deps) (*Session, error) {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:     opts,
		deps:     deps,
		log:      opts.Log.WithFields(logrus.Fields{"author_id": opts.AuthorID, "issue_id": opts.IssueID, "support": opts.Support}),
		store:    NewStore(),
		pending:  make(map[string]struct{}),
		sent:     make(map[string]struct{}),
		seeded:   make(map[string]struct{}),
		closing:  make(map[string]struct{}),
		retryAt:  make(map[string]time.Time),
		archived: make(map[*model.Issue]struct{}),
		events:   make(chan func(), eventBuffer),
		updates:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.store.Focus(opts.IssueID)
	s.loading = true
	if !opts.Support {
		s.seed()
	}
	s.publish()

	s.subscribe()
	s.wg.Add(1)
	go s.run()

	if err := deps.Transport.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) AuthorID() string { return s.opts.AuthorID }
func (s *Session) IssueID() string  { return s.opts.IssueID }
func (s *Session) Support() bool    { return s.opts.Support }

// View возвращает последний опубликованный снимок.
func (s *Session) View() View {
	return *s.view.Load()
}

// Updates сигнализирует об изменении View. Сигналы схлопываются.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Done закрывается после Close.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close останавливает цикл и транспорт. Результаты запросов в полёте отбрасываются.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		err = s.deps.Transport.Close()
		s.wg.Wait()
	})
	return err
}

// post ставит событие в очередь цикла. После Close ничего не делает.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call выполняет fn в цикле и ждёт, пока результат попадёт в View.
func (s *Session) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !s.post(func() { fn(); s.publish(); close(finished) }) {
		return errs.ErrSessionClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errs.ErrSessionClosed
	}
}

func (s *Session) run() {
	defer s.wg.Done()
	var tick <-chan time.Time
	if !s.opts.Support {
		ticker := time.NewTicker(s.opts.AutoCloseInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.events:
			fn()
		case <-tick:
		}
		s.autoClose()
		s.publish()
	}
}

func (s *Session) subscribe() {
	t := s.deps.Transport
	t.On(socketio.EventConnect, func([]json.RawMessage) { s.post(s.onConnect) })
	t.On(socketio.EventConnectError, func(args []json.RawMessage) {
		s.post(func() { s.onConnectError(args) })
	})
	t.On(socketio.EventDisconnect, func([]json.RawMessage) {
		s.post(func() { s.connected = false })
	})
	t.On(EventGetIssue, func(args []json.RawMessage) {
		if len(args) == 0 {
			return
		}
		var rec model.IssueRecord
		if err := json.Unmarshal(args[0], &rec); err != nil || rec.IssueID == "" {
			s.log.WithError(err).Debug("skip getIssue payload")
			return
		}
		s.post(func() { s.onPush(rec) })
	})
	t.On(EventMessageTextPart, func(args []json.RawMessage) {
		if len(args) == 0 {
			return
		}
		var rec model.MessageRecord
		if err := json.Unmarshal(args[0], &rec); err != nil {
			s.log.WithError(err).Debug("skip messageTextPart payload")
			return
		}
		s.post(func() { s.onFragment(rec) })
	})
}

func (s *Session) onConnect() {
	s.connected = true
	s.notice = ""
	var err error
	if s.opts.Support {
		// список диалогов собирается заново на каждое подключение
		s.store.Reset()
		err = s.deps.Transport.Emit(EventJoinRoomSupport, struct{}{}, nil)
	} else {
		err = s.deps.Transport.Emit(EventJoinRoom, []string{s.opts.AuthorID}, nil)
		if s.everUp {
			s.seed()
		}
	}
	if err != nil {
		s.log.WithError(err).Warn("join room")
	}
	s.everUp = true
	s.log.Info("connected to chat server")
}

func (s *Session) onConnectError(args []json.RawMessage) {
	s.connected = false
	s.notice = noticeConn
	entry := s.log
	if len(args) > 0 {
		entry = entry.WithField("reason", string(args[0]))
	}
	entry.Warn("chat server connect_error")
}

// onPush применяет полный тикет из сокета. Наши операторские сообщения в пуше считаются
// эхом отправки; отправленные локально сообщения, которых в пуше ещё нет, сохраняются.
func (s *Session) onPush(rec model.IssueRecord) {
	issue := NormalizeIssue(rec, s.opts.Now())
	focus := s.store.Focused()
	if focus != "" && issue.IssueID != focus {
		return
	}
	for _, m := range issue.Messages {
		if m.Role == model.RoleOperator {
			s.confirmEcho(m.ID)
		}
	}
	delete(s.seeded, issue.IssueID)
	if current, ok := s.store.Get(issue.IssueID); ok {
		issue.Messages = s.carrySent(current, issue.Messages)
	}
	s.store.ApplyPush(issue)
	if s.opts.Support {
		s.loading = false
	}
}

func (s *Session) carrySent(current *model.Issue, pushed []model.Message) []model.Message {
	if len(s.sent) == 0 {
		return pushed
	}
	seen := make(map[string]struct{}, len(pushed))
	for _, m := range pushed {
		seen[m.ID] = struct{}{}
	}
	for _, m := range current.Messages {
		if _, ok := s.sent[m.ID]; !ok {
			continue
		}
		if _, ok := seen[m.ID]; !ok {
			pushed = append(pushed, m)
		}
	}
	return pushed
}

// onFragment применяет порцию сообщения или эхо нашей отправки.
func (s *Session) onFragment(rec model.MessageRecord) {
	msg := IncomingMessage(rec)
	focus := s.store.Focused()
	if focus != "" && msg.IssueID != "" && msg.IssueID != focus {
		return
	}
	if msg.Role == model.RoleOperator && s.confirmEcho(msg.ID) {
		return
	}
	s.loading = false
	s.store.ApplyFragment(msg, s.opts.Now())
}

// confirmEcho принимает эхо нашей отправки: сообщение подтверждается (в том числе
// после таймаута ack), в стор повторно не сливается. false, если id не наш.
func (s *Session) confirmEcho(messageID string) bool {
	if messageID == "" {
		return false
	}
	if _, ok := s.sent[messageID]; !ok {
		return false
	}
	delete(s.sent, messageID)
	delete(s.pending, messageID)
	s.store.MarkDelivery(messageID, model.DeliveryConfirmed)
	s.loading = false
	return true
}

// onAck обрабатывает ack сервера. Эхо после ack всё ещё ожидается.
func (s *Session) onAck(messageID string) {
	if _, ok := s.sent[messageID]; !ok {
		return
	}
	delete(s.pending, messageID)
	s.store.MarkDelivery(messageID, model.DeliveryConfirmed)
	s.loading = false
}

// seed загружает историю: из архива сразу, из REST по готовности. Архив только
// заполняет пробелы, ответ REST заменяет взятые из архива тикеты целиком.
func (s *Session) seed() {
	authorID, issueID := s.opts.AuthorID, s.opts.IssueID
	if authorID == "" {
		s.loading = false
		return
	}
	if s.deps.Archive != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
			defer cancel()
			issues, err := s.deps.Archive.ListByAuthor(ctx, authorID)
			if err != nil {
				s.log.WithError(err).Debug("archive seed")
				return
			}
			s.post(func() {
				for _, issue := range issues {
					if issueID != "" && issue.IssueID != issueID {
						continue
					}
					if _, ok := s.store.Get(issue.IssueID); ok {
						continue
					}
					if s.store.ApplySnapshot(issue) {
						s.seeded[issue.IssueID] = struct{}{}
					}
				}
			})
		}()
	}
	if s.deps.Issues == nil {
		s.loading = false
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
		defer cancel()

		var (
			records []model.IssueRecord
			err     error
		)
		if issueID != "" {
			var rec model.IssueRecord
			rec, err = s.deps.Issues.ChatHistory(ctx, authorID, issueID)
			records = []model.IssueRecord{rec}
		} else {
			records, err = s.deps.Issues.ListIssues(ctx, authorID)
		}
		s.post(func() { s.applyHistory(records, err) })
	}()
}

func (s *Session) applyHistory(records []model.IssueRecord, err error) {
	s.loading = false
	if err != nil {
		s.notice = "history: " + err.Error()
		s.log.WithError(err).Warn("load history")
		return
	}
	now := s.opts.Now()
	issues := make([]*model.Issue, 0, len(records))
	for _, rec := range records {
		if rec.IssueID == "" {
			continue
		}
		issue := NormalizeIssue(rec, now)
		issues = append(issues, &issue)
	}
	SortByUpdatedAsc(issues)
	for _, issue := range issues {
		if _, ok := s.seeded[issue.IssueID]; ok {
			delete(s.seeded, issue.IssueID)
			if current, ok := s.store.Get(issue.IssueID); ok {
				issue.Messages = s.carrySent(current, issue.Messages)
				if s.store.Replace(*issue) {
					continue
				}
			}
		}
		s.store.ApplySnapshot(*issue)
	}
}

// autoClose запрашивает закрытие каждого открытого тикета старше порога.
// Неудачный запрос повторяется не раньше следующего тика.
func (s *Session) autoClose() {
	if s.opts.Support || s.deps.Issues == nil {
		return
	}
	now := s.opts.Now()
	issues := s.store.Issues()
	if !ShouldAutoClose(issues, now, s.opts.AutoCloseAfter) {
		return
	}
	for _, issue := range AutoCloseCandidates(issues, now, s.opts.AutoCloseAfter) {
		id := issue.IssueID
		if _, busy := s.closing[id]; busy {
			continue
		}
		if at, ok := s.retryAt[id]; ok && now.Before(at) {
			continue
		}
		s.closing[id] = struct{}{}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
			defer cancel()
			rec, err := s.deps.Issues.SetClosed(ctx, id, true)
			s.post(func() { s.onAutoClosed(id, rec, err) })
		}()
	}
}

func (s *Session) onAutoClosed(issueID string, rec model.IssueRecord, err error) {
	delete(s.closing, issueID)
	if err != nil || rec.IssueID == "" {
		s.retryAt[issueID] = s.opts.Now().Add(s.opts.AutoCloseInterval)
		s.log.WithError(err).WithField("target", issueID).Debug("auto-close failed")
		return
	}
	delete(s.retryAt, issueID)
	issue := NormalizeIssue(rec, s.opts.Now())
	if !s.store.Replace(issue) {
		return
	}
	s.log.WithField("target", issueID).Info("issue auto-closed")
	s.produce(IssueEventClosed, IssuePayload(&issue, map[string]interface{}{"auto": true}))
}

// SetClosed закрывает или переоткрывает тикет на бэкенде и кладёт ответ в стор.
func (s *Session) SetClosed(ctx context.Context, issueID string, closed bool) (model.Issue, error) {
	if s.deps.Issues == nil {
		return model.Issue{}, errNoBackend
	}
	rec, err := s.deps.Issues.SetClosed(ctx, issueID, closed)
	if err != nil {
		return model.Issue{}, err
	}
	issue := NormalizeIssue(rec, s.opts.Now())
	if issue.IssueID == "" {
		issue.IssueID = issueID
	}
	err = s.call(ctx, func() {
		if !s.store.Replace(issue) {
			s.store.ApplyPush(issue)
		}
	})
	if err != nil {
		return issue, err
	}
	if closed {
		s.produce(IssueEventClosed, IssuePayload(&issue, map[string]interface{}{"auto": false}))
	}
	return issue, nil
}

// Delete удаляет тикет на бэкенде и убирает его из списка.
func (s *Session) Delete(ctx context.Context, authorID, issueID string) error {
	if s.deps.Issues == nil {
		return errNoBackend
	}
	if authorID == "" {
		authorID = s.opts.AuthorID
	}
	if err := s.deps.Issues.DeleteIssue(ctx, authorID, issueID); err != nil {
		return err
	}
	if s.deps.Archive != nil {
		s.deps.Archive.Remove(issueID)
	}
	s.produce(IssueEventDeleted, map[string]interface{}{"issue_id": issueID, "author_id": authorID})
	return s.call(ctx, func() { s.store.Remove(issueID) })
}

// Forget убирает тикет из стора без обращения к бэкенду (удалён через другую сессию).
func (s *Session) Forget(issueID string) {
	s.post(func() { s.store.Remove(issueID) })
}

func (s *Session) produce(event string, payload map[string]interface{}) {
	if s.deps.Events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.deps.Events.ProduceIssueEvent(ctx, event, payload)
	}()
}

// publish собирает новый View, отдаёт изменённые тикеты в архив и будит читателей.
func (s *Session) publish() {
	v := &View{
		AuthorID:  s.opts.AuthorID,
		IssueID:   s.opts.IssueID,
		Issues:    s.store.Issues(),
		Visible:   s.store.Visible(),
		Loading:   s.loading,
		Connected: s.connected,
		Notice:    s.notice,
		Pending:   len(s.pending),
	}
	if prev := s.view.Load(); prev != nil && sameView(prev, v) {
		return
	}
	s.version++
	v.Version = s.version
	s.view.Store(v)
	s.archive(v.Issues)
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func sameView(a, b *View) bool {
	if a.Loading != b.Loading || a.Connected != b.Connected || a.Notice != b.Notice || a.Pending != b.Pending {
		return false
	}
	if len(a.Issues) != len(b.Issues) || len(a.Visible) != len(b.Visible) {
		return false
	}
	for i := range a.Issues {
		if a.Issues[i] != b.Issues[i] {
			return false
		}
	}
	for i := range a.Visible {
		if a.Visible[i] != b.Visible[i] {
			return false
		}
	}
	return true
}

// archive сохраняет тикеты, указатели которых изменились с прошлой публикации.
func (s *Session) archive(issues []*model.Issue) {
	if s.deps.Archive == nil || s.opts.Support {
		return
	}
	next := make(map[*model.Issue]struct{}, len(issues))
	for _, issue := range issues {
		next[issue] = struct{}{}
		if _, ok := s.archived[issue]; !ok {
			s.deps.Archive.Save(*issue)
		}
	}
	s.archived = next
}

// IssuePayload собирает полезную нагрузку событий тикета для шины; extra дописывается поверх.
func IssuePayload(issue *model.Issue, extra map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{
		"issue_id":   issue.IssueID,
		"author_id":  issue.AuthorID,
		"is_closed":  issue.IsClosed,
		"created_at": issue.CreatedAt,
		"updated_at": issue.UpdatedAt,
		"messages":   len(issue.Messages),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}
