package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/cc42-scan/internal/errs"
	"github.com/and161185/cc42-scan/internal/model"
)

const claimsKey = "cc42.claims"

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", c.ClientIP()),
		}
		if cl, ok := claimsOf(c); ok {
			fields = append(fields, zap.String("login", cl.Login), zap.String("campus", cl.CampusID))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.log.Error("http", fields...)
		} else {
			s.log.Info("http", fields...)
		}
	}
}

func bearer(h string) string {
	if len(h) >= 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearer(c.GetHeader("Authorization"))
		if tok == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		cl, err := s.auth.Verify(tok)
		if err != nil {
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		c.Set(claimsKey, cl)
		c.Next()
	}
}

func (s *Server) sameCampus() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cl, _ := claimsOf(c); cl.CampusID != c.Param("campus") {
			abort(c, http.StatusForbidden, "forbidden", "campus mismatch")
			return
		}
		c.Next()
	}
}

func (s *Server) staffOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cl, _ := claimsOf(c); cl.Role != model.RoleStaff {
			abort(c, http.StatusForbidden, "forbidden", "staff only")
			return
		}
		c.Next()
	}
}

func claimsOf(c *gin.Context) (model.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return model.Claims{}, false
	}
	cl, ok := v.(model.Claims)
	return cl, ok
}

func abort(c *gin.Context, code int, reason, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"code": reason, "message": msg})
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, op string, err error) {
	var rej *errs.Rejection
	switch {
	case errors.As(err, &rej):
		code := http.StatusConflict
		if rej.Code == errs.CodeEventNotFound || rej.Code == errs.CodeMealNotFound {
			code = http.StatusNotFound
		}
		abort(c, code, string(rej.Code), rej.Message)
	case errors.Is(err, errs.ErrInvalidArgument):
		abort(c, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, errs.ErrNotFound):
		abort(c, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, errs.ErrForbidden):
		abort(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, errs.ErrRetriesExhausted):
		abort(c, http.StatusServiceUnavailable, "busy", "too much contention, try again")
	default:
		s.log.Error(op, zap.Error(err))
		abort(c, http.StatusInternalServerError, "internal", op+": internal error")
	}
}
