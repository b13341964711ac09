package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/koustreak/querydeck/internal/errs"
)

// ClickHouse server error codes
// Full list: https://github.com/ClickHouse/ClickHouse/blob/master/src/Common/ErrorCodes.cpp
const (
	chErrTimeoutExceeded  = 159
	chErrSocketTimeout    = 209
	chErrNetworkError     = 210
	chErrUnknownDatabase  = 81
	chErrReadonly         = 164
	chErrAccessDenied     = 497
	chErrAuthFailed       = 516
	chErrUnknownUser      = 192
	chErrWrongPassword    = 193
	chErrRequiredPassword = 194
)

// mapError translates clickhouse-go errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var exc *ch.Exception
	if errors.As(err, &exc) {
		return errs.Wrap(classifyCode(exc.Code), fmt.Sprintf("%s: %s", msg, exc.Message), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	// Over HTTP the server error arrives as plain text
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

func classifyCode(code int32) errs.ErrKind {
	switch code {
	case chErrTimeoutExceeded, chErrSocketTimeout:
		return errs.ErrKindTimeout
	case chErrNetworkError, chErrUnknownDatabase, chErrAuthFailed,
		chErrUnknownUser, chErrWrongPassword, chErrRequiredPassword:
		return errs.ErrKindConnectionFailed
	case chErrAccessDenied, chErrReadonly:
		return errs.ErrKindPermissionDenied
	default:
		return errs.ErrKindQueryFailed
	}
}
