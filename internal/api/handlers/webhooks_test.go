package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdesk/internal/webhook"
)

type fakeTargets struct {
	targets []webhook.TargetInfo
	err     error
	sent    []int
}

func (f *fakeTargets) Targets() []webhook.TargetInfo { return f.targets }

func (f *fakeTargets) SendTest(index int) error {
	if index < 0 || index >= len(f.targets) {
		return webhook.ErrUnknownTarget
	}
	f.sent = append(f.sent, index)
	return f.err
}

func newWebhookRouter(f *fakeTargets) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	r := gin.New()
	NewWebhookHandler(f, logger).RegisterRoutes(r.Group("/admin"))
	return r
}

func TestListWebhooks(t *testing.T) {
	f := &fakeTargets{targets: []webhook.TargetInfo{{Index: 0, URL: "http://hook.local", Events: []string{}, Signed: true}}}
	r := newWebhookRouter(f)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/webhooks", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"webhooks":[{"index":0,"url":"http://hook.local","events":[],"signed":true}]}`, w.Body.String())
}

func TestTestWebhook(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		err      error
		wantCode int
		wantBody string
	}{
		{"success", "/admin/webhooks/0/test", nil, http.StatusOK, `{"success":true,"message":"Webhook test successful"}`},
		{"delivery failure", "/admin/webhooks/0/test", errors.New("refused"), http.StatusOK, `{"success":false,"message":"Failed to send webhook: refused"}`},
		{"unknown index", "/admin/webhooks/3/test", nil, http.StatusNotFound, `{"error":"Webhook not found"}`},
		{"bad index", "/admin/webhooks/x/test", nil, http.StatusBadRequest, `{"error":"Invalid webhook index"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeTargets{targets: []webhook.TargetInfo{{Index: 0, URL: "http://hook.local"}}, err: tt.err}
			r := newWebhookRouter(f)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, nil))
			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}
