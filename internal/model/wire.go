package model

// MessageRecord — сообщение в том виде, в каком его присылает бэкенд (REST или сокет).
// Идентификатор приходит в поле id, а в эхе отправки иногда только в messageId.
type MessageRecord struct {
	ID         string     `json:"id,omitempty"`
	MessageID  string     `json:"messageId,omitempty"`
	Text       string     `json:"text"`
	Role       Role       `json:"role"`
	IssueID    string     `json:"issueId"`
	AuthorID   string     `json:"authorId"`
	CreatedAt  Timestamp  `json:"createdAt"`
	Documents  []Document `json:"documents,omitempty"`
	IsQuestion bool       `json:"isQuestion,omitempty"`
}

// CorrelationID возвращает id сообщения, а при его отсутствии messageId.
func (r MessageRecord) CorrelationID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.MessageID
}

// IssueRecord — тикет в формате бэкенда. «Лёгкие» тикеты из комнаты поддержки
// содержат только issueId и authorId.
type IssueRecord struct {
	IssueID   string          `json:"issueId"`
	AuthorID  string          `json:"authorId"`
	IsClosed  bool            `json:"isClosed"`
	Messages  []MessageRecord `json:"messages,omitempty"`
	CreatedAt Timestamp       `json:"createdAt"`
	UpdatedAt Timestamp       `json:"updatedAt"`
}

// SendMessagePayload — тело события sendMessage.
type SendMessagePayload struct {
	IssueID    string `json:"issueId"`
	Text       string `json:"text"`
	AuthorID   string `json:"authorId"`
	IsQuestion bool   `json:"isQuestion"`
	MessageID  string `json:"messageId"`
	Role       Role   `json:"role"`
}
