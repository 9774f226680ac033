package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/psds-microservice/operator-console/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRequests(t *testing.T) {
	var (
		gotMethod, gotPath, gotQuery string
		gotBody                      []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotQuery = r.Method, r.URL.Path, r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/issues":
			_, _ = w.Write([]byte(`[{"issueId":"I1","authorId":"USR-1","createdAt":"bad"},{"issueId":"I2","authorId":"USR-1"}]`))
		case "/issues/I1", "/chat_history":
			_, _ = w.Write([]byte(`{"issueId":"I1","authorId":"USR-1","isClosed":true,"messages":[{"id":"m1","text":"hi","role":"user"}]}`))
		case "/delete_assistant_request":
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	list, err := c.ListIssues(ctx, "USR-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.False(t, list[0].CreatedAt.Valid, "bad timestamp is not an error")
	assert.Equal(t, "GET", gotMethod)
	assert.Equal(t, "authorId=USR-1", gotQuery)

	issue, err := c.SetClosed(ctx, "I1", true)
	require.NoError(t, err)
	assert.True(t, issue.IsClosed)
	assert.Equal(t, "PATCH", gotMethod)
	assert.Equal(t, "/issues/I1", gotPath)
	assert.JSONEq(t, `{"isClosed":true}`, string(gotBody))

	issue, err = c.GetIssue(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, "I1", issue.IssueID)

	hist, err := c.ChatHistory(ctx, "USR-1", "I1")
	require.NoError(t, err)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "authorId=USR-1&issueId=I1", gotQuery)

	require.NoError(t, c.DeleteIssue(ctx, "USR-1", "I1"))
	assert.Equal(t, "DELETE", gotMethod)
	assert.Equal(t, "/delete_assistant_request", gotPath)
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/issues/missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "upstream"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetIssue(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrIssueNotFound)

	_, err = c.ListIssues(context.Background(), "USR-1")
	assert.ErrorIs(t, err, errs.ErrBackendFailure)
	assert.Contains(t, err.Error(), "502")

	_, err = NewClient("", 0).ListIssues(context.Background(), "USR-1")
	assert.ErrorIs(t, err, errs.ErrBackendFailure)
}
