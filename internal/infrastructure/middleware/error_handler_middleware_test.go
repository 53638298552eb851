package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"edulive/internal/core/domain"
	apperrors "edulive/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func serveWithError(t *testing.T, err error) (int, errorBody) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/boom", func(c *gin.Context) {
		if err != nil {
			c.Error(err)
		}
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	var body errorBody
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestErrorHandler_DomainErrorsShareSocketCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{"room not joined", domain.ErrRoomNotJoined, http.StatusPreconditionFailed, apperrors.ErrCodePrecondition},
		{"access denied", domain.ErrAccessDenied, http.StatusForbidden, apperrors.ErrCodeForbidden},
		{"session missing", domain.ErrSessionNotFound, http.StatusNotFound, apperrors.ErrCodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := serveWithError(t, tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, string(tc.code), body.Error)
		})
	}
}

func TestErrorHandler_AppErrorPassesThrough(t *testing.T) {
	status, body := serveWithError(t, apperrors.NewInvalidInput("content must not be empty"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), body.Error)
	assert.Equal(t, "content must not be empty", body.Message)
}

func TestErrorHandler_UnknownErrorHidesDetail(t *testing.T) {
	status, body := serveWithError(t, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, string(apperrors.ErrCodeInternal), body.Error)
	assert.NotContains(t, body.Message, assert.AnError.Error())
}

func TestRecovery_PanicBecomesInternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/panic", func(c *gin.Context) {
		panic("handler bug")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.ErrCodeInternal), body.Error)
}
