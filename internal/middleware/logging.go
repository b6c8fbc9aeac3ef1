package middleware

import (
	"bytes"
	"io"
	"prompt-forge-go/pkg/log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// maxLoggedBody 是日志中记录的请求/响应体的最大字节数。
const maxLoggedBody = 2048

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	if w.body.Len() < maxLoggedBody {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// sensitive 判断请求体是否不应写入日志：凭据与二进制上传。
func sensitive(c *gin.Context) bool {
	path := c.Request.URL.Path
	if strings.HasSuffix(path, "/login") || strings.HasSuffix(path, "/register") || strings.HasSuffix(path, "/refreshToken") {
		return true
	}
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

func truncate(s string) string {
	if len(s) > maxLoggedBody {
		return s[:maxLoggedBody] + "...(truncated)"
	}
	return s
}

// RequestLogger 记录每个请求的方法、路径、状态码、耗时以及请求与响应体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var requestBody []byte
		hidden := sensitive(c)
		if c.Request.Body != nil && !hidden {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		reqLog := truncate(string(requestBody))
		if hidden {
			reqLog = "[hidden]"
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", reqLog,
			"responseBody", truncate(blw.body.String()),
		)
	}
}
