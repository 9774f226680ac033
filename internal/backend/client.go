package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/psds-microservice/operator-console/internal/errs"
	"github.com/psds-microservice/operator-console/internal/model"
)

// Client — REST API бэкенда чата (тикеты, история, закрытие, удаление).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient возвращает клиент для baseURL. При timeout <= 0 используется 10 секунд.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// setClosedPayload: тело PATCH /issues/:issueId.
type setClosedPayload struct {
	IsClosed bool `json:"isClosed"`
}

// ListIssues выполняет GET /issues?authorId=.
func (c *Client) ListIssues(ctx context.Context, authorID string) ([]model.IssueRecord, error) {
	q := url.Values{}
	if authorID != "" {
		q.Set("authorId", authorID)
	}
	var out []model.IssueRecord
	if err := c.do(ctx, http.MethodGet, "/issues", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetIssue выполняет GET /issues/:issueId.
func (c *Client) GetIssue(ctx context.Context, issueID string) (model.IssueRecord, error) {
	var out model.IssueRecord
	err := c.do(ctx, http.MethodGet, "/issues/"+url.PathEscape(issueID), nil, nil, &out)
	return out, err
}

// SetClosed выполняет PATCH /issues/:issueId {isClosed}. Возвращает обновлённый тикет.
func (c *Client) SetClosed(ctx context.Context, issueID string, closed bool) (model.IssueRecord, error) {
	var out model.IssueRecord
	err := c.do(ctx, http.MethodPatch, "/issues/"+url.PathEscape(issueID), nil, setClosedPayload{IsClosed: closed}, &out)
	return out, err
}

// ChatHistory выполняет GET /chat_history?authorId=&issueId=: полная переписка одного тикета.
func (c *Client) ChatHistory(ctx context.Context, authorID, issueID string) (model.IssueRecord, error) {
	q := url.Values{}
	q.Set("authorId", authorID)
	q.Set("issueId", issueID)
	var out model.IssueRecord
	err := c.do(ctx, http.MethodGet, "/chat_history", q, nil, &out)
	return out, err
}

// DeleteIssue выполняет DELETE /delete_assistant_request?authorId=&issueId=.
func (c *Client) DeleteIssue(ctx context.Context, authorID, issueID string) error {
	q := url.Values{}
	q.Set("authorId", authorID)
	q.Set("issueId", issueID)
	return c.do(ctx, http.MethodDelete, "/delete_assistant_request", q, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: BACKEND_URL is empty", errs.ErrBackendFailure)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("backend: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", errs.ErrBackendFailure, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errs.ErrIssueNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", errs.ErrBackendFailure, method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("backend: decode %s %s: %w", method, path, err)
	}
	return nil
}
