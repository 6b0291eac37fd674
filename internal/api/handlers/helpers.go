package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/economy"
)

// reasonStatus maps rejection reasons onto HTTP status codes.
var reasonStatus = map[economy.Reason]int{
	economy.ReasonUnauthorized:      http.StatusUnauthorized,
	economy.ReasonBanned:            http.StatusForbidden,
	economy.ReasonConflict:          http.StatusConflict,
	economy.ReasonSessionNotFound:   http.StatusNotFound,
	economy.ReasonNotFound:          http.StatusNotFound,
	economy.ReasonNotCompleted:      http.StatusUnprocessableEntity,
	economy.ReasonAlreadyClaimed:    http.StatusConflict,
	economy.ReasonInsufficientFunds: http.StatusUnprocessableEntity,
	economy.ReasonInvalidRequest:    http.StatusBadRequest,
	economy.ReasonInternal:          http.StatusInternalServerError,
}

// respondError writes err as {"error", "reason", "details"}.
func respondError(c *gin.Context, err error) {
	var rej *economy.Rejection
	if !errors.As(err, &rej) {
		log.WithError(err).WithField("route", c.FullPath()).Error("[API] unclassified error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "reason": economy.ReasonInternal})
		return
	}

	status, ok := reasonStatus[rej.Reason]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := rej.Message
	if rej.Reason == economy.ReasonInternal {
		msg = "internal error"
	}
	body := gin.H{"error": msg, "reason": rej.Reason}
	if len(rej.Details) > 0 {
		body["details"] = rej.Details
	}
	c.JSON(status, body)
}

func invalidRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "reason": economy.ReasonInvalidRequest})
}

// pagination reads limit/offset query parameters. Out-of-range values are
// clamped by the service.
func pagination(c *gin.Context, defaultLimit int) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil {
		limit = defaultLimit
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
