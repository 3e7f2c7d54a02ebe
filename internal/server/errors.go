package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	earningsdomain "github.com/lumacallabs/lumacall/internal/earnings/domain"
	giftdomain "github.com/lumacallabs/lumacall/internal/gift/domain"
	ledgerdomain "github.com/lumacallabs/lumacall/internal/ledger/domain"
	meteringdomain "github.com/lumacallabs/lumacall/internal/metering/domain"
	payoutdomain "github.com/lumacallabs/lumacall/internal/payout/domain"
	sessiondomain "github.com/lumacallabs/lumacall/internal/session/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string { return e.Message }

func newValidationError(field, code, message string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: message}
}

// AbortWithError maps domain sentinel errors to HTTP statuses. Unknown errors
// become an opaque 500; the cause stays in the gin error list for logging.
func AbortWithError(c *gin.Context, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": validationErr})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sessiondomain.ErrSessionNotFound),
		errors.Is(err, giftdomain.ErrGiftNotFound),
		errors.Is(err, payoutdomain.ErrBatchNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, ledgerdomain.ErrLedgerFrozen):
		status = http.StatusLocked
	case errors.Is(err, giftdomain.ErrNotPayer):
		status = http.StatusForbidden
	case errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, sessiondomain.ErrInvalidMedium),
		errors.Is(err, sessiondomain.ErrMissingPeer):
		status = http.StatusBadRequest
	case errors.Is(err, sessiondomain.ErrInvalidTransition),
		errors.Is(err, sessiondomain.ErrSecondPeerTaken),
		errors.Is(err, sessiondomain.ErrNoSecondPeer),
		errors.Is(err, giftdomain.ErrInvalidState),
		errors.Is(err, giftdomain.ErrGiftExpired),
		errors.Is(err, meteringdomain.ErrStaleTick),
		errors.Is(err, meteringdomain.ErrDuplicateTick),
		errors.Is(err, payoutdomain.ErrBatchPaid),
		errors.Is(err, ledgerdomain.ErrBalanceMismatch),
		errors.Is(err, earningsdomain.ErrSessionNotEnded):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
