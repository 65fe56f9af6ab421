package api

import (
	"errors"
	"net/http"

	"botcloud/internal/auth"
	"botcloud/internal/service"

	"github.com/gin-gonic/gin"
)

// statusFor 将业务错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidIdentity),
		errors.Is(err, service.ErrInvalidSource):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSourceTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrSourceUnavailable),
		errors.Is(err, service.ErrExtractionFailed),
		errors.Is(err, service.ErrInstallFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrArtifactMissing):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrGateRejected):
		return http.StatusPaymentRequired
	case errors.Is(err, auth.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, service.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, botID string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.WithField("bot", botID).WithError(err).Error("request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
