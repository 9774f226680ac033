package model

import "time"

// Role — источник сообщения. Закрытый набор значений: любые switch по Role обязаны покрывать все три.
type Role string

const (
	RoleAI       Role = "AI"
	RoleOperator Role = "operator"
	RoleUser     Role = "user"
)

// Valid сообщает, входит ли роль в закрытый набор.
func (r Role) Valid() bool {
	switch r {
	case RoleAI, RoleOperator, RoleUser:
		return true
	default:
		return false
	}
}

// DeliveryStatus — локальный статус доставки сообщения оператора. Сервер его не присылает:
// пустое значение означает подтверждённое (или чужое) сообщение.
type DeliveryStatus string

const (
	DeliveryConfirmed DeliveryStatus = ""
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Document — вложение к сообщению: файл со страницей либо внешняя ссылка.
type Document struct {
	FileLink string `json:"fileLink,omitempty"`
	Page     *int   `json:"page,omitempty"`
	Link     string `json:"link,omitempty"`
	Title    string `json:"title,omitempty"`
}

type Message struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Role      Role           `json:"role"`
	IssueID   string         `json:"issueId"`
	AuthorID  string         `json:"authorId"`
	CreatedAt time.Time      `json:"createdAt"`
	Documents []Document     `json:"documents,omitempty"`
	Delivery  DeliveryStatus `json:"delivery,omitempty"`
}

// Issue — обращение клиента (тикет) со всей перепиской.
type Issue struct {
	IssueID   string    `json:"issueId"`
	AuthorID  string    `json:"authorId"`
	IsClosed  bool      `json:"isClosed"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// LastMessage возвращает последнее сообщение тикета, если оно есть.
func (i *Issue) LastMessage() (Message, bool) {
	if len(i.Messages) == 0 {
		return Message{}, false
	}
	return i.Messages[len(i.Messages)-1], true
}
