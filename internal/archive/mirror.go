package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psds-microservice/operator-console/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const writeTimeout = 10 * time.Second

// Mirror зеркалирует тикеты сессий в Postgres. Save и Remove не блокируют: изменения
// схлопываются по issueId и пишутся фоновой горутиной.
type Mirror struct {
	db  *gorm.DB
	log *logrus.Entry
	now func() time.Time

	mu    sync.Mutex
	dirty map[string]*model.Issue // nil: удалить

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewMirror(db *gorm.DB, log *logrus.Entry) *Mirror {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Mirror{
		db:    db,
		log:   log.WithField("component", "archive"),
		now:   time.Now,
		dirty: make(map[string]*model.Issue),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *Mirror) Save(issue model.Issue) {
	if issue.IssueID == "" {
		return
	}
	m.mark(issue.IssueID, &issue)
}

func (m *Mirror) Remove(issueID string) {
	m.mark(issueID, nil)
}

func (m *Mirror) mark(issueID string, issue *model.Issue) {
	m.mu.Lock()
	m.dirty[issueID] = issue
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Close дописывает накопленные изменения и останавливает писателя.
func (m *Mirror) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.wake:
			m.flush()
		case <-m.done:
			m.flush()
			return
		}
	}
}

func (m *Mirror) flush() {
	m.mu.Lock()
	batch := m.dirty
	m.dirty = make(map[string]*model.Issue)
	m.mu.Unlock()

	for id, issue := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		var err error
		if issue == nil {
			err = m.delete(ctx, id)
		} else {
			err = m.upsert(ctx, *issue)
		}
		cancel()
		if err != nil {
			m.log.WithError(err).WithField("issue_id", id).Warn("archive write")
		}
	}
}

func (m *Mirror) upsert(ctx context.Context, issue model.Issue) error {
	row := ToRow(issue, m.now())
	messages := row.Messages
	row.Messages = nil
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "issue_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"author_id", "is_closed", "created_at", "updated_at", "archived_at"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert issue: %w", err)
		}
		if err := tx.Where("issue_id = ?", row.IssueID).Delete(&MessageRow{}).Error; err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		if len(messages) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(messages, 100).Error; err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		return nil
	})
}

func (m *Mirror) delete(ctx context.Context, issueID string) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("issue_id = ?", issueID).Delete(&MessageRow{}).Error; err != nil {
			return err
		}
		return tx.Where("issue_id = ?", issueID).Delete(&IssueRow{}).Error
	})
}

// ListByAuthor возвращает тикеты автора по возрастанию updatedAt.
func (m *Mirror) ListByAuthor(ctx context.Context, authorID string) ([]model.Issue, error) {
	var rows []IssueRow
	err := m.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("author_id = ?", authorID).
		Order("updated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("archive: list by author: %w", err)
	}
	out := make([]model.Issue, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToIssue())
	}
	return out, nil
}

// Each обходит весь архив пачками (для republish-events).
func (m *Mirror) Each(ctx context.Context, batchSize int, fn func(model.Issue) error) (int, error) {
	var (
		rows  []IssueRow
		total int
	)
	res := m.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("issue_id ASC").
		FindInBatches(&rows, batchSize, func(tx *gorm.DB, _ int) error {
			for _, r := range rows {
				if err := fn(r.ToIssue()); err != nil {
					return err
				}
				total++
			}
			return nil
		})
	if res.Error != nil {
		return total, fmt.Errorf("archive: each: %w", res.Error)
	}
	return total, nil
}
