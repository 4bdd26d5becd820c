package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nooble8/ragcore/pkg/apperr"
)

// abortWithError maps a service-layer error to an HTTP response. Bodies carry
// the client-safe message only — never internals or stack traces.
func abortWithError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindAuthFailed:
		status = http.StatusUnauthorized
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindModelMismatch:
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("Unexpected service error", "error", err)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error":      apperr.MessageOf(err),
		"error_type": string(kind),
	})
}
