package archive

import (
	"encoding/json"
	"time"

	"github.com/psds-microservice/operator-console/internal/model"
	"gorm.io/datatypes"
)

// IssueRow — тикет в архиве. Время берётся из тикета, gorm его не проставляет.
type IssueRow struct {
	IssueID    string       `gorm:"column:issue_id;primaryKey;size:128"`
	AuthorID   string       `gorm:"column:author_id;size:128;not null;index:idx_archived_issues_author_updated,priority:1"`
	IsClosed   bool         `gorm:"column:is_closed;not null;default:false"`
	CreatedAt  time.Time    `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt  time.Time    `gorm:"column:updated_at;not null;autoUpdateTime:false;index:idx_archived_issues_author_updated,priority:2"`
	ArchivedAt time.Time    `gorm:"column:archived_at;not null"`
	Messages   []MessageRow `gorm:"foreignKey:IssueID;references:IssueID;constraint:OnDelete:CASCADE"`
}

func (IssueRow) TableName() string { return "archived_issues" }

// MessageRow — сообщение тикета; position сохраняет порядок прихода.
type MessageRow struct {
	IssueID   string         `gorm:"column:issue_id;primaryKey;size:128"`
	MessageID string         `gorm:"column:message_id;primaryKey;size:128"`
	Position  int            `gorm:"column:position;not null"`
	Role      string         `gorm:"column:role;size:16;not null"`
	AuthorID  string         `gorm:"column:author_id;size:128"`
	Text      string         `gorm:"column:text;type:text"`
	Documents datatypes.JSON `gorm:"column:documents;type:jsonb"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (MessageRow) TableName() string { return "archived_messages" }

// ToRow переводит тикет в строки архива. В архив попадают только подтверждённые
// сообщения: pending и failed существуют лишь локально. Сообщения без id пропускаются.
func ToRow(issue model.Issue, archivedAt time.Time) IssueRow {
	row := IssueRow{
		IssueID:    issue.IssueID,
		AuthorID:   issue.AuthorID,
		IsClosed:   issue.IsClosed,
		CreatedAt:  issue.CreatedAt.UTC(),
		UpdatedAt:  issue.UpdatedAt.UTC(),
		ArchivedAt: archivedAt.UTC(),
	}
	seen := make(map[string]struct{}, len(issue.Messages))
	for i, m := range issue.Messages {
		if m.ID == "" || m.Delivery != model.DeliveryConfirmed {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		mr := MessageRow{
			IssueID:   issue.IssueID,
			MessageID: m.ID,
			Position:  i,
			Role:      string(m.Role),
			AuthorID:  m.AuthorID,
			Text:      m.Text,
			CreatedAt: m.CreatedAt.UTC(),
		}
		if len(m.Documents) > 0 {
			if data, err := json.Marshal(m.Documents); err == nil {
				mr.Documents = datatypes.JSON(data)
			}
		}
		row.Messages = append(row.Messages, mr)
	}
	return row
}

// ToIssue восстанавливает тикет из архива. Сообщения должны быть отсортированы по position.
func (r IssueRow) ToIssue() model.Issue {
	issue := model.Issue{
		IssueID:   r.IssueID,
		AuthorID:  r.AuthorID,
		IsClosed:  r.IsClosed,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Messages:  make([]model.Message, 0, len(r.Messages)),
	}
	for _, mr := range r.Messages {
		m := model.Message{
			ID:        mr.MessageID,
			Text:      mr.Text,
			Role:      model.Role(mr.Role),
			IssueID:   r.IssueID,
			AuthorID:  mr.AuthorID,
			CreatedAt: mr.CreatedAt,
		}
		if len(mr.Documents) > 0 {
			_ = json.Unmarshal(mr.Documents, &m.Documents)
		}
		issue.Messages = append(issue.Messages, m)
	}
	return issue
}
