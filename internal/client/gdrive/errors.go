package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"docsync/internal/client"

	"google.golang.org/api/googleapi"
)

// mapErr translates Drive API failures into the client error taxonomy.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	apiErr, ok := errors.AsType[*googleapi.Error](err)
	if !ok {
		if _, ok := errors.AsType[*url.Error](err); ok {
			return &client.NetworkError{Err: fmt.Errorf("%s: %w", op, err)}
		}
		if _, ok := errors.AsType[net.Error](err); ok {
			return &client.NetworkError{Err: fmt.Errorf("%s: %w", op, err)}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	wrapped := fmt.Errorf("%s: %w", op, err)
	switch apiErr.Code {
	case http.StatusUnauthorized:
		return &client.AuthError{Code: apiErr.Code, Err: wrapped}

	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, client.ErrNotFound)

	case http.StatusForbidden:
		switch reason(apiErr) {
		case "storageQuotaExceeded", "quotaExceeded", "teamDriveFileLimitExceeded":
			return &client.QuotaExceededError{Err: wrapped}
		case "userRateLimitExceeded", "rateLimitExceeded", "sharingRateLimitExceeded":
			return &client.NetworkError{Err: wrapped}
		case "authError", "invalidCredentials", "insufficientPermissions":
			// the token itself is rejected or lacks the drive scope
			return &client.AuthError{Code: apiErr.Code, Err: wrapped}
		}
		// insufficientFilePermissions, cannotModifyViewersCanCopyContent and
		// the like refuse one document, not the credentials; they stay plain
		// so only the pair cools down
		return wrapped

	case http.StatusTooManyRequests:
		return &client.NetworkError{Err: wrapped}

	case http.StatusServiceUnavailable:
		if after, ok := retryAfter(apiErr.Header); ok {
			return &client.MaintenanceError{RetryAfter: after, Schedule: apiErr.Message, Err: wrapped}
		}
		return &client.NetworkError{Err: wrapped}

	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return &client.NetworkError{Err: wrapped}
	}

	if apiErr.Code >= 500 {
		return &client.ServerError{Code: apiErr.Code, Err: wrapped}
	}
	return wrapped
}

func reason(apiErr *googleapi.Error) string {
	if len(apiErr.Errors) == 0 {
		return ""
	}
	return apiErr.Errors[0].Reason
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func isNotFound(err error) bool {
	return errors.Is(err, client.ErrNotFound)
}
