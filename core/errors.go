package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorInvalidSignature   = "EVENTHOOKS_INVALID_SIGNATURE"
	ErrorUnsupportedPayload = "EVENTHOOKS_UNSUPPORTED_PAYLOAD"
	ErrorDeliveryTimeout    = "EVENTHOOKS_DELIVERY_TIMEOUT"
	ErrorDeliveryHTTP       = "EVENTHOOKS_DELIVERY_HTTP_ERROR"
	ErrorEndpointDisabled   = "EVENTHOOKS_ENDPOINT_DISABLED"
	ErrorRetryExhausted     = "EVENTHOOKS_RETRY_EXHAUSTED"
	ErrorEndpointInactive   = "EVENTHOOKS_ENDPOINT_INACTIVE"
	ErrorRateLimited        = "EVENTHOOKS_RATE_LIMITED"
	ErrorBadInput           = "EVENTHOOKS_BAD_INPUT"
	ErrorNotFound           = "EVENTHOOKS_NOT_FOUND"
	ErrorVersionConflict    = "EVENTHOOKS_VERSION_CONFLICT"
	ErrorInternal           = "EVENTHOOKS_INTERNAL_ERROR"
)

var (
	ErrNotFound          = errors.New("core: record not found")
	ErrVersionConflict   = errors.New("core: version conflict")
	ErrAttemptNotPending = errors.New("core: delivery attempt is not pending")
)

func InvalidSignatureError(provider string, reason string) *goerrors.Error {
	return newEventhooksError("invalid inbound signature", goerrors.CategoryAuth, ErrorInvalidSignature).
		WithMetadata(map[string]any{
			"provider": strings.TrimSpace(provider),
			"reason":   strings.TrimSpace(reason),
		})
}

func UnsupportedPayloadError(provider string, reason string) *goerrors.Error {
	err := newEventhooksError("unsupported inbound payload", goerrors.CategoryBadInput, ErrorUnsupportedPayload).
		WithMetadata(map[string]any{
			"provider": strings.TrimSpace(provider),
			"reason":   strings.TrimSpace(reason),
		})
	err.Code = http.StatusUnprocessableEntity
	return err
}

func DeliveryTimeoutError(endpointID string, cause error) *goerrors.Error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryExternal, "webhook delivery timed out")
	} else {
		err = goerrors.New("webhook delivery timed out", goerrors.CategoryExternal)
	}
	return err.
		WithTextCode(ErrorDeliveryTimeout).
		WithCode(http.StatusGatewayTimeout).
		WithMetadata(map[string]any{"endpoint_id": endpointID})
}

func DeliveryHTTPError(endpointID string, status int, cause error) *goerrors.Error {
	message := fmt.Sprintf("webhook endpoint responded with status %d", status)
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryExternal, "webhook delivery failed")
	} else {
		err = goerrors.New(message, goerrors.CategoryExternal)
	}
	return err.
		WithTextCode(ErrorDeliveryHTTP).
		WithCode(http.StatusBadGateway).
		WithMetadata(map[string]any{
			"endpoint_id": endpointID,
			"http_status": status,
		})
}

func EndpointDisabledError(endpointID string) *goerrors.Error {
	return newEventhooksError("webhook endpoint is disabled", goerrors.CategoryOperation, ErrorEndpointDisabled).
		WithMetadata(map[string]any{"endpoint_id": endpointID})
}

func EndpointInactiveError(endpointID string) *goerrors.Error {
	return newEventhooksError("webhook endpoint is inactive", goerrors.CategoryOperation, ErrorEndpointInactive).
		WithMetadata(map[string]any{"endpoint_id": endpointID})
}

func RetryExhaustedError(endpointID string, attempts int) *goerrors.Error {
	return newEventhooksError("webhook delivery retries exhausted", goerrors.CategoryOperation, ErrorRetryExhausted).
		WithMetadata(map[string]any{
			"endpoint_id": endpointID,
			"attempts":    attempts,
		})
}

func BadInputError(message string) *goerrors.Error {
	return newEventhooksError(message, goerrors.CategoryBadInput, ErrorBadInput)
}

func NotFoundError(resource string, id string) *goerrors.Error {
	return newEventhooksError(resource+" not found", goerrors.CategoryNotFound, ErrorNotFound).
		WithMetadata(map[string]any{"resource": resource, "id": id})
}

// ErrorCode returns the text code carried by err, or "" when err is not a
// go-errors envelope.
func ErrorCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

func IsKind(err error, textCode string) bool {
	return err != nil && ErrorCode(err) == textCode
}

// MapError normalizes any error into a go-errors envelope with an HTTP code
// and a text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return newEventhooksError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrAttemptNotPending), errors.Is(err, ErrLockHeld):
		return newEventhooksError(err.Error(), goerrors.CategoryConflict, ErrorVersionConflict)
	case errors.Is(err, context.DeadlineExceeded):
		return newEventhooksError(err.Error(), goerrors.CategoryExternal, ErrorDeliveryTimeout)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must be"):
		return newEventhooksError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newEventhooksError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorInvalidSignature
	case goerrors.CategoryConflict:
		return ErrorVersionConflict
	case goerrors.CategoryExternal:
		return ErrorDeliveryHTTP
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	default:
		return ErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict, goerrors.CategoryOperation:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
