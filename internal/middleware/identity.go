// Package middleware gin中间件：请求ID、请求日志、panic恢复与聊天身份
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wfunc/trpg-master/internal/errors"
	"github.com/wfunc/trpg-master/internal/logger"
)

// 请求头与上下文键
const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"

	ctxRequestID = "requestID"
	ctxUserID    = "userID"
)

// RequestID 为每个请求分配请求ID，客户端带上时沿用
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// Logger 使用zap记录请求日志
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(start), c.ClientIP(), GetRequestID(c))
	}
}

// Recovery 捕获panic并返回500
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.LogPanic(rec, debug.Stack())
				appErr := errors.New(errors.ErrUnknown, "服务器内部错误")
				c.AbortWithStatusJSON(http.StatusInternalServerError, errors.NewErrorResponse(appErr, GetRequestID(c)))
			}
		}()
		c.Next()
	}
}

// RequireUser 需要聊天身份的中间件，身份由上游聊天层通过请求头传入
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			appErr := errors.New(errors.ErrInvalidParam, "缺少用户标识 "+HeaderUserID)
			c.JSON(http.StatusUnauthorized, errors.NewErrorResponse(appErr, GetRequestID(c)))
			c.Abort()
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// GetUserID 从上下文获取用户标识
func GetUserID(c *gin.Context) (string, bool) {
	if v, exists := c.Get(ctxUserID); exists {
		if id, ok := v.(string); ok {
			return id, true
		}
	}
	return "", false
}

// GetRequestID 从上下文获取请求ID
func GetRequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}
