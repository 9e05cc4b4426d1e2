package api

import (
	"errors"
	"net/http"

	"storefront/internal/apperr"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const internalMessage = "internal error, please try again"

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:         http.StatusBadRequest,
	apperr.KindStockConflict:      http.StatusConflict,
	apperr.KindProductUnavailable: http.StatusConflict,
	apperr.KindPaymentIncomplete:  http.StatusPaymentRequired,
	apperr.KindInvalidTransition:  http.StatusConflict,
	apperr.KindNotFound:           http.StatusNotFound,
	apperr.KindUnauthorized:       http.StatusUnauthorized,
	apperr.KindConflict:           http.StatusConflict,
	apperr.KindRateLimited:        http.StatusTooManyRequests,
}

// writeError renders a service error. Anything that is not a typed client
// error is logged and answered with an opaque 500.
func writeError(c *gin.Context, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind == apperr.KindInfrastructure {
		util.LoggerFor(c.Request.Context()).Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": internalMessage,
			"code":  apperr.CodeInternal,
		})
		return
	}

	status, ok := statusByKind[ae.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := gin.H{
		"error": ae.Message,
		"code":  ae.Code,
	}
	if len(ae.Fields) > 0 {
		body["fields"] = ae.Fields
	}
	if len(ae.Lines) > 0 {
		body["lines"] = ae.Lines
	}
	c.JSON(status, body)
}

func badBody(c *gin.Context, err error) {
	util.GetLogger().Debug("Invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
	writeError(c, apperr.Validation("invalid request body", nil))
}
