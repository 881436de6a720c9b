package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/middleware"
)

// Response 成功响应
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data, RequestID: middleware.GetRequestID(c)})
}

// fail 按错误类别输出状态码
func fail(c *gin.Context, err error) {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.Wrap(err, errors.ErrUnknown)
	}
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, errors.NewErrorResponse(appErr, middleware.GetRequestID(c)))
}

// bind 解析JSON请求体，绑定失败归为参数错误
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, errors.Wrap(err, errors.ErrInvalidParam, "请求参数错误"))
		return false
	}
	return true
}

// userID RequireUser 之后一定存在
func userID(c *gin.Context) string {
	id, _ := middleware.GetUserID(c)
	return id
}

func param(c *gin.Context, name string) string {
	return strings.TrimSpace(c.Param(name))
}
