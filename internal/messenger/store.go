package messenger

import (
	"slices"
	"time"

	"github.com/psds-microservice/operator-console/internal/model"
)

// Store — упорядоченный набор тикетов сессии оператора с обновлением по issueId.
// Порядок совпадает с порядком вставки; сортировку по updatedAt делают потребители (CompareUpdatedAsc).
//
// Тикет внутри стора неизменяем: любое изменение устанавливает новый указатель, поэтому
// снимки Issues() можно отдавать другим горутинам. Сам Store не потокобезопасен и
// принадлежит циклу сессии.
type Store struct {
	issues []*model.Issue
	index  map[string]int
	focus  string
}

func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Focus включает фильтрацию по одному тикету (пустая строка: без фильтра).
func (s *Store) Focus(issueID string) {
	s.focus = issueID
}

func (s *Store) Focused() string {
	return s.focus
}

func (s *Store) Len() int {
	return len(s.issues)
}

// Issues возвращает копию списка в порядке вставки.
func (s *Store) Issues() []*model.Issue {
	return slices.Clone(s.issues)
}

// Visible возвращает тикеты с учётом фокуса.
func (s *Store) Visible() []*model.Issue {
	if s.focus == "" {
		return s.Issues()
	}
	if issue, ok := s.Get(s.focus); ok {
		return []*model.Issue{issue}
	}
	return []*model.Issue{}
}

func (s *Store) Get(issueID string) (*model.Issue, bool) {
	idx, ok := s.index[issueID]
	if !ok {
		return nil, false
	}
	return s.issues[idx], true
}

// MostRecent возвращает тикет с наибольшим updatedAt; при равенстве побеждает вставленный позже.
func (s *Store) MostRecent() *model.Issue {
	return MostRecent(s.issues)
}

// ApplySnapshot применяет историю, полученную по REST. Если отпечаток совпадает с текущим
// тикетом, стор не меняется (указатель сохраняется). Снимок старше текущего тикета
// отбрасывается, чтобы медленный ответ не затёр свежий push.
func (s *Store) ApplySnapshot(issue model.Issue) bool {
	current, ok := s.Get(issue.IssueID)
	if !ok {
		s.insert(issue)
		return true
	}
	if sameSnapshot(current, &issue) {
		return false
	}
	if issue.UpdatedAt.Before(current.UpdatedAt) {
		return false
	}
	s.replace(issue)
	return true
}

// ApplyPush применяет полный тикет из сокета: всегда заменяет (или добавляет) без сравнения
// отпечатков. Тикеты вне фокуса игнорируются.
func (s *Store) ApplyPush(issue model.Issue) bool {
	if s.focus != "" && issue.IssueID != s.focus {
		return false
	}
	if _, ok := s.Get(issue.IssueID); ok {
		s.replace(issue)
	} else {
		s.insert(issue)
	}
	return true
}

// ApplyFragment вливает порцию сообщения в тикет с её issueId. Порция без issueId
// относится к тикету в фокусе либо к самому свежему.
func (s *Store) ApplyFragment(msg model.Message, now time.Time) bool {
	if s.focus != "" && msg.IssueID != "" && msg.IssueID != s.focus {
		return false
	}

	var target *model.Issue
	switch {
	case msg.IssueID != "":
		target, _ = s.Get(msg.IssueID)
	case s.focus != "":
		target, _ = s.Get(s.focus)
	default:
		target = s.MostRecent()
	}
	if target == nil {
		return false
	}
	if msg.IssueID == "" {
		msg.IssueID = target.IssueID
	}

	s.replace(MergeOrAppend(*target, msg, now))
	return true
}

// SendTarget выбирает тикет для нового сообщения оператора: тикет в фокусе, иначе самый
// свежий, если он не закрыт. nil означает, что нужен новый тикет.
func (s *Store) SendTarget() *model.Issue {
	if s.focus != "" {
		if issue, ok := s.Get(s.focus); ok {
			return issue
		}
	}
	if last := s.MostRecent(); last != nil && !last.IsClosed {
		return last
	}
	return nil
}

// ApplyOptimisticSend добавляет сообщение оператора до подтверждения сервером.
// Если подходящего тикета нет, создаётся новый с идентификатором newIssueID().
// Возвращает сообщение с проставленным issueId, обновлённый тикет и признак созданного тикета.
func (s *Store) ApplyOptimisticSend(msg model.Message, newIssueID func() string, now time.Time) (model.Message, *model.Issue, bool) {
	target := s.SendTarget()
	if target == nil {
		msg.IssueID = newIssueID()
		issue := model.Issue{
			IssueID:   msg.IssueID,
			AuthorID:  msg.AuthorID,
			IsClosed:  false,
			CreatedAt: now,
			UpdatedAt: now,
			Messages:  []model.Message{msg},
		}
		return msg, s.insert(issue), true
	}

	msg.IssueID = target.IssueID
	next := *target
	next.Messages = append(slices.Clone(target.Messages), msg)
	next.UpdatedAt = now
	return msg, s.replace(next), false
}

// MarkDelivery меняет статус доставки сообщения. Возвращает false, если сообщения нет
// или статус уже такой.
func (s *Store) MarkDelivery(messageID string, status model.DeliveryStatus) bool {
	for _, issue := range s.issues {
		idx := slices.IndexFunc(issue.Messages, func(m model.Message) bool { return m.ID == messageID })
		if idx < 0 {
			continue
		}
		if issue.Messages[idx].Delivery == status {
			return false
		}
		next := *issue
		next.Messages = slices.Clone(issue.Messages)
		next.Messages[idx].Delivery = status
		s.replace(next)
		return true
	}
	return false
}

// Replace заменяет существующий тикет, не трогая фокус. Неизвестный тикет игнорируется.
func (s *Store) Replace(issue model.Issue) bool {
	if _, ok := s.index[issue.IssueID]; !ok {
		return false
	}
	s.replace(issue)
	return true
}

// Remove удаляет тикет из списка (после удаления на бэкенде).
func (s *Store) Remove(issueID string) bool {
	idx, ok := s.index[issueID]
	if !ok {
		return false
	}
	s.issues = slices.Delete(s.issues, idx, idx+1)
	s.reindex()
	return true
}

// Reset очищает стор, сохраняя фокус.
func (s *Store) Reset() {
	s.issues = nil
	s.index = make(map[string]int)
}

func (s *Store) insert(issue model.Issue) *model.Issue {
	p := &issue
	s.index[issue.IssueID] = len(s.issues)
	s.issues = append(s.issues, p)
	return p
}

func (s *Store) replace(issue model.Issue) *model.Issue {
	p := &issue
	s.issues[s.index[issue.IssueID]] = p
	return p
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.issues))
	for i, issue := range s.issues {
		s.index[issue.IssueID] = i
	}
}

// Fingerprint — дешёвый отпечаток версии тикета.
type Fingerprint struct {
	UpdatedAt     int64
	Count         int
	LastID        string
	LastCreatedAt int64
}

func FingerprintOf(issue *model.Issue) Fingerprint {
	fp := Fingerprint{Count: len(issue.Messages)}
	if !issue.UpdatedAt.IsZero() {
		fp.UpdatedAt = issue.UpdatedAt.UnixMilli()
	}
	if last, ok := issue.LastMessage(); ok {
		fp.LastID = last.ID
		fp.LastCreatedAt = last.CreatedAt.UnixMilli()
	}
	return fp
}

func sameSnapshot(a, b *model.Issue) bool {
	return FingerprintOf(a) == FingerprintOf(b)
}

// CompareUpdatedAsc упорядочивает тикеты по возрастанию updatedAt: последний самый свежий.
func CompareUpdatedAsc(a, b *model.Issue) int {
	return a.UpdatedAt.Compare(b.UpdatedAt)
}

// SortByUpdatedAsc сортирует на месте, сохраняя порядок равных элементов.
func SortByUpdatedAsc(issues []*model.Issue) {
	slices.SortStableFunc(issues, CompareUpdatedAsc)
}

// MostRecent возвращает тикет с наибольшим updatedAt (при равенстве последний по порядку).
func MostRecent(issues []*model.Issue) *model.Issue {
	var best *model.Issue
	for _, issue := range issues {
		if best == nil || CompareUpdatedAsc(issue, best) >= 0 {
			best = issue
		}
	}
	return best
}
