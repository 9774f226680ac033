package messenger

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/psds-microservice/operator-console/internal/errs"
	"github.com/psds-microservice/operator-console/internal/model"
)

// Send отправляет сообщение оператора: оптимистично добавляет его в стор, затем отправляет
// sendMessage с запросом подтверждения. Подтверждением считается ack или эхо из сокета.
// Без ack за AckTimeout (или при ошибке отправки) сообщение помечается failed и остаётся в стор;
// пришедшее позже эхо всё равно подтверждает его.
func (s *Session) Send(ctx context.Context, text string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, errs.ErrEmptyMessage
	}
	if s.opts.Support || s.opts.AuthorID == "" {
		return model.Message{}, errs.ErrNoAuthor
	}
	if !s.deps.Transport.Connected() {
		return model.Message{}, errs.ErrNotConnected
	}

	var (
		msg      model.Message
		issue    *model.Issue
		created  bool
		rejected bool
	)
	err := s.call(ctx, func() {
		if !s.connected && !s.deps.Transport.Connected() {
			rejected = true
			return
		}
		now := s.opts.Now()
		draft := model.Message{
			ID:        s.opts.NewID(),
			Text:      text,
			Role:      model.RoleOperator,
			AuthorID:  s.opts.AuthorID,
			CreatedAt: now,
			Delivery:  model.DeliveryPending,
		}
		msg, issue, created = s.store.ApplyOptimisticSend(draft, s.opts.NewID, now)
		s.pending[msg.ID] = struct{}{}
		s.sent[msg.ID] = struct{}{}
		s.loading = true
	})
	if err != nil {
		return model.Message{}, err
	}
	if rejected {
		return model.Message{}, errs.ErrNotConnected
	}

	payload := model.SendMessagePayload{
		IssueID:    msg.IssueID,
		Text:       msg.Text,
		AuthorID:   msg.AuthorID,
		IsQuestion: false,
		MessageID:  msg.ID,
		Role:       model.RoleOperator,
	}
	timer := time.AfterFunc(s.opts.AckTimeout, func() {
		s.post(func() { s.failDelivery(msg.ID) })
	})
	err = s.deps.Transport.Emit(EventSendMessage, payload, func(args []json.RawMessage) {
		timer.Stop()
		s.post(func() { s.onAck(msg.ID) })
	})
	if err != nil {
		timer.Stop()
		s.post(func() { s.failDelivery(msg.ID) })
		s.log.WithError(err).WithField("message_id", msg.ID).Warn("emit sendMessage")
		return msg, err
	}

	s.produce(IssueEventMessageSent, map[string]interface{}{
		"issue_id":   issue.IssueID,
		"author_id":  msg.AuthorID,
		"message_id": msg.ID,
		"text":       msg.Text,
		"role":       string(msg.Role),
		"created_at": msg.CreatedAt,
		"new_issue":  created,
	})
	return msg, nil
}

// failDelivery помечает неподтверждённое сообщение как failed. Откат не выполняется.
func (s *Session) failDelivery(messageID string) {
	if _, ok := s.pending[messageID]; !ok {
		return
	}
	delete(s.pending, messageID)
	s.store.MarkDelivery(messageID, model.DeliveryFailed)
	s.loading = false
	s.log.WithField("message_id", messageID).Warn("message not acknowledged")
}
