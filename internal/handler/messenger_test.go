package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/operator-console/internal/errs"
	"github.com/psds-microservice/operator-console/internal/messenger"
	"github.com/psds-microservice/operator-console/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsole struct {
	navAuthor, navIssue string
	view                messenger.View
	dialogs             *messenger.View
	sendErr             error
	sent                string
	closeErr            error
	deleted             [2]string
	deleteErr           error
}

func (f *fakeConsole) Navigate(authorID, issueID string) (messenger.View, error) {
	f.navAuthor, f.navIssue = authorID, issueID
	return f.view, nil
}

func (f *fakeConsole) DialogsView() (messenger.View, bool) {
	if f.dialogs == nil {
		return messenger.View{}, false
	}
	return *f.dialogs, true
}

func (f *fakeConsole) Send(_ context.Context, text string) (model.Message, error) {
	if f.sendErr != nil {
		return model.Message{}, f.sendErr
	}
	f.sent = text
	return model.Message{ID: "m1", Text: text, Role: model.RoleOperator, IssueID: "I1", Delivery: model.DeliveryPending}, nil
}

func (f *fakeConsole) SetClosed(_ context.Context, issueID string, closed bool) (model.Issue, error) {
	if f.closeErr != nil {
		return model.Issue{}, f.closeErr
	}
	return model.Issue{IssueID: issueID, IsClosed: closed}, nil
}

func (f *fakeConsole) Delete(_ context.Context, authorID, issueID string) error {
	f.deleted = [2]string{authorID, issueID}
	return f.deleteErr
}

func newTestEngine(c Console) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewMessengerHandler(c)
	r := gin.New()
	r.GET("/health", Health)
	r.GET("/ready", Ready(func() bool { return false }))
	r.GET("/api/v1/dialogs", h.Dialogs)
	r.GET("/api/v1/messenger", h.Messenger)
	r.POST("/api/v1/messenger/messages", h.SendMessage)
	r.PATCH("/api/v1/issues/:issueId", h.SetClosed)
	r.DELETE("/api/v1/issues/:issueId", h.DeleteIssue)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndReady(t *testing.T) {
	r := newTestEngine(&fakeConsole{})
	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "operator-console")

	w = do(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMessengerNavigation(t *testing.T) {
	issue := &model.Issue{IssueID: "I1", AuthorID: "USR-1", CreatedAt: time.Unix(0, 0).UTC(), UpdatedAt: time.Unix(0, 0).UTC()}
	fc := &fakeConsole{view: messenger.View{AuthorID: "USR-1", IssueID: "I1", Visible: []*model.Issue{issue}, Connected: true}}
	r := newTestEngine(fc)

	w := do(r, http.MethodGet, "/api/v1/messenger?authorId=USR-1&issueId=I1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "USR-1", fc.navAuthor)
	assert.Equal(t, "I1", fc.navIssue)

	var body struct {
		Issues    []model.Issue `json:"issues"`
		Connected bool          `json:"connected"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Issues, 1)
	assert.Equal(t, "I1", body.Issues[0].IssueID)
	assert.True(t, body.Connected)

	fc.view = messenger.View{}
	w = do(r, http.MethodGet, "/api/v1/messenger", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"issues":[]`)
}

func TestDialogs(t *testing.T) {
	fc := &fakeConsole{}
	r := newTestEngine(fc)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/v1/dialogs", "").Code)

	fc.dialogs = &messenger.View{Issues: []*model.Issue{{IssueID: "A"}, {IssueID: "B"}}}
	w := do(r, http.MethodGet, "/api/v1/dialogs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"issueId":"A"`)
}

func TestSendMessage(t *testing.T) {
	fc := &fakeConsole{}
	r := newTestEngine(fc)

	w := do(r, http.MethodPost, "/api/v1/messenger/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "Hello", fc.sent)
	assert.Contains(t, w.Body.String(), `"delivery":"pending"`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/messenger/messages", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/messenger/messages", `not json`).Code)

	cases := map[error]int{
		errs.ErrEmptyMessage: http.StatusBadRequest,
		errs.ErrNoAuthor:     http.StatusBadRequest,
		errs.ErrNotConnected: http.StatusServiceUnavailable,
		fmt.Errorf("%w: boom", errs.ErrBackendFailure): http.StatusBadGateway,
		fmt.Errorf("other"): http.StatusInternalServerError,
	}
	for err, code := range cases {
		fc.sendErr = err
		assert.Equal(t, code, do(r, http.MethodPost, "/api/v1/messenger/messages", `{"text":"x"}`).Code, err.Error())
	}
}

func TestSetClosedAndDelete(t *testing.T) {
	fc := &fakeConsole{}
	r := newTestEngine(fc)

	w := do(r, http.MethodPatch, "/api/v1/issues/I1", `{"isClosed":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isClosed":true`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPatch, "/api/v1/issues/I1", `{}`).Code)

	fc.closeErr = errs.ErrIssueNotFound
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPatch, "/api/v1/issues/I1", `{"isClosed":false}`).Code)

	w = do(r, http.MethodDelete, "/api/v1/issues/I1?authorId=USR-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, [2]string{"USR-1", "I1"}, fc.deleted)

	fc.deleteErr = errs.ErrNoAuthor
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodDelete, "/api/v1/issues/I2", "").Code)
}
