package timing

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	domain "github.com/oshokin/stoppuhr/internal/domain/timing"
)

// errStarterHasNoPending is returned when confirm targets the starter slot.
var errStarterHasNoPending = fmt.Errorf("%w: the starter slot has no pending taster", domain.ErrBadRequest)

// statusFor maps a failure to an HTTP status code.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNone:
		return http.StatusOK
	case domain.KindLaneOutOfRange, domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindDeviceUnknown:
		return http.StatusNotFound
	case domain.KindUnassigned, domain.KindPendingNotConfirmed:
		return http.StatusConflict
	case domain.KindTransportError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes {"ok": false, "error": "<Kind>"}.
func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"ok":    false,
		"error": string(domain.KindOf(err)),
	})
}

// badRequest marks a binding error as malformed input.
func badRequest(err error) error {
	if errors.Is(err, domain.ErrBadRequest) {
		return err
	}

	return fmt.Errorf("%w: %w", domain.ErrBadRequest, err)
}

// bindJSON decodes the request body into dst, answering BadRequest on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, badRequest(err))

		return false
	}

	return true
}

// optionalString returns nil for an empty value.
func optionalString(value string) *string {
	if value == "" {
		return nil
	}

	return &value
}

// msToTime converts epoch milliseconds.
func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
