package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/operator-console/internal/errs"
	"github.com/psds-microservice/operator-console/internal/messenger"
	"github.com/psds-microservice/operator-console/internal/model"
)

// Console описывает, что обработчикам нужно от messenger.Console (для подмены в тестах).
type Console interface {
	Navigate(authorID, issueID string) (messenger.View, error)
	DialogsView() (messenger.View, bool)
	Send(ctx context.Context, text string) (model.Message, error)
	SetClosed(ctx context.Context, issueID string, closed bool) (model.Issue, error)
	Delete(ctx context.Context, authorID, issueID string) error
}

type MessengerHandler struct {
	console Console
}

func NewMessengerHandler(console Console) *MessengerHandler {
	return &MessengerHandler{console: console}
}

type sendMessageRequest struct {
	Text string `json:"text" binding:"required,max=8000"`
}

type setClosedRequest struct {
	IsClosed *bool `json:"isClosed" binding:"required"`
}

type navigationQuery struct {
	AuthorID string `form:"authorId" binding:"omitempty,max=128"`
	IssueID  string `form:"issueId" binding:"omitempty,max=128"`
}

type deleteQuery struct {
	AuthorID string `form:"authorId" binding:"omitempty,max=128"`
}

type viewResponse struct {
	AuthorID  string         `json:"authorId,omitempty"`
	IssueID   string         `json:"issueId,omitempty"`
	Issues    []*model.Issue `json:"issues"`
	Loading   bool           `json:"loading"`
	Connected bool           `json:"connected"`
	Notice    string         `json:"notice,omitempty"`
	Pending   int            `json:"pending"`
	Version   uint64         `json:"version"`
}

func toViewResponse(v messenger.View, issues []*model.Issue) viewResponse {
	if issues == nil {
		issues = []*model.Issue{}
	}
	return viewResponse{
		AuthorID:  v.AuthorID,
		IssueID:   v.IssueID,
		Issues:    issues,
		Loading:   v.Loading,
		Connected: v.Connected,
		Notice:    v.Notice,
		Pending:   v.Pending,
		Version:   v.Version,
	}
}

// Dialogs обрабатывает GET /api/v1/dialogs и отдаёт список диалогов комнаты поддержки.
func (h *MessengerHandler) Dialogs(c *gin.Context) {
	v, ok := h.console.DialogsView()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dialogs session is not started"})
		return
	}
	c.JSON(http.StatusOK, toViewResponse(v, v.Issues))
}

// Messenger обрабатывает GET /api/v1/messenger?authorId=&issueId=: выбирает диалог и отдаёт видимые тикеты.
func (h *MessengerHandler) Messenger(c *gin.Context) {
	var q navigationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	v, err := h.console.Navigate(q.AuthorID, q.IssueID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toViewResponse(v, v.Visible))
}

// SendMessage обрабатывает POST /api/v1/messenger/messages.
func (h *MessengerHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	msg, err := h.console.Send(c.Request.Context(), req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

// SetClosed обрабатывает PATCH /api/v1/issues/:issueId {isClosed}.
func (h *MessengerHandler) SetClosed(c *gin.Context) {
	var req setClosedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	issue, err := h.console.SetClosed(c.Request.Context(), c.Param("issueId"), *req.IsClosed)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

// DeleteIssue обрабатывает DELETE /api/v1/issues/:issueId?authorId=.
func (h *MessengerHandler) DeleteIssue(c *gin.Context) {
	var q deleteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if err := h.console.Delete(c.Request.Context(), q.AuthorID, c.Param("issueId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrEmptyMessage), errors.Is(err, errs.ErrNoAuthor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrIssueNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "issue not found"})
	case errors.Is(err, errs.ErrNotConnected), errors.Is(err, errs.ErrSessionClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrBackendFailure):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
