package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/conduit/pkg/apierror"
	"github.com/cuemby/conduit/pkg/log"
	"github.com/cuemby/conduit/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	headerRequestID = "X-Request-ID"
	sessionCookie   = "conduit_session"

	ctxRequestID = "requestID"
	ctxUser      = "user"
	ctxToken     = "token"
)

func requestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

func currentUser(c *gin.Context) *userModel {
	u, _ := c.Get(ctxUser)
	user, _ := u.(*userModel)
	return user
}

// requestIDMiddleware propagates or assigns a request id
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// loggingMiddleware logs each request and counts it by route
func loggingMiddleware() gin.HandlerFunc {
	logger := log.WithComponent("devserver")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.ServerRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()

		event := logger.Debug()
		if status >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", requestID(c)).
			Msg("Request handled")
	}
}

// rateLimitMiddleware sheds load with 503 so clients back off and retry
func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.Header("Retry-After", "1")
			respondWithError(c, http.StatusServiceUnavailable, apierror.CodeExternalServiceError, "server busy, retry later")
			return
		}
		c.Next()
	}
}

// bearerToken extracts the session token from the Authorization header,
// the session cookie, or the access_token query used by the hub
func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := c.Cookie(sessionCookie); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("access_token")
}

// authMiddleware resolves the session token to an active user
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			respondWithError(c, http.StatusUnauthorized, apierror.CodeUnauthorized, "authentication required")
			return
		}

		var session sessionModel
		err := s.db.WithContext(c.Request.Context()).Where("token = ?", token).First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && time.Now().After(session.ExpiresAt)) {
			respondWithError(c, http.StatusUnauthorized, apierror.CodeUnauthorized, "session expired or invalid")
			return
		}
		if err != nil {
			s.internalError(c, err)
			return
		}

		var user userModel
		if err := s.db.WithContext(c.Request.Context()).First(&user, "id = ?", session.UserID).Error; err != nil || !user.Active {
			respondWithError(c, http.StatusUnauthorized, apierror.CodeUnauthorized, "account disabled")
			return
		}

		c.Set(ctxUser, &user)
		c.Set(ctxToken, token)
		c.Next()
	}
}

// requireRole rejects users holding none of roles
func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user != nil {
			for _, have := range user.Roles {
				for _, want := range roles {
					if have == want {
						c.Next()
						return
					}
				}
			}
		}
		respondWithError(c, http.StatusForbidden, apierror.CodeOperationNotAllowed, "insufficient permissions")
	}
}
