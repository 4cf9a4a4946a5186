package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strings"
)

// Kind groups failures by how callers must react to them.
type Kind int

const (
	KindNone Kind = iota
	KindInternal
	KindQuotaExceeded
	KindPermissionDenied
	KindTransient
	KindValidation
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

var quotaMessagePattern = regexp.MustCompile(`(?i)resource[-_ ]?exhausted|quota|exceeded`)

// sqlStater matches driver errors exposing a SQLSTATE (lib/pq does).
type sqlStater interface {
	SQLState() string
}

// redisReplyError matches error replies returned by a Redis server.
type redisReplyError interface {
	RedisError()
}

// Classify maps an error coming out of a store, a feed or a service onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case ErrQuotaExceeded.Code, ErrLocked.Code:
			return KindQuotaExceeded
		case ErrPermissionDenied.Code:
			return KindPermissionDenied
		case ErrTransient.Code:
			return KindTransient
		case ErrValidation.Code:
			return KindValidation
		case ErrNotFound.Code:
			return KindNotFound
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}

	var stater sqlStater
	if errors.As(err, &stater) {
		state := stater.SQLState()
		switch {
		case strings.HasPrefix(state, "53"):
			return KindQuotaExceeded
		case state == "42501":
			return KindPermissionDenied
		case strings.HasPrefix(state, "08"), strings.HasPrefix(state, "57P"), state == "40001", state == "40P01":
			return KindTransient
		}
	}

	var reply redisReplyError
	if errors.As(err, &reply) {
		msg := strings.ToUpper(err.Error())
		switch {
		case strings.Contains(msg, "OOM"):
			return KindQuotaExceeded
		case strings.Contains(msg, "NOPERM"), strings.Contains(msg, "NOAUTH"), strings.Contains(msg, "WRONGPASS"):
			return KindPermissionDenied
		case strings.Contains(msg, "LOADING"), strings.Contains(msg, "BUSY"), strings.Contains(msg, "TRYAGAIN"), strings.Contains(msg, "CLUSTERDOWN"):
			return KindTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransient
	}

	if quotaMessagePattern.MatchString(err.Error()) {
		return KindQuotaExceeded
	}

	return KindInternal
}

// IsQuota reports whether err signals an exhausted store quota.
func IsQuota(err error) bool {
	return Classify(err) == KindQuotaExceeded
}

// Normalize converts a store failure into the matching typed sentinel so HTTP callers
// get a stable code. Already typed errors pass through untouched.
func Normalize(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Code != ErrInternal.Code {
		return appErr
	}
	switch Classify(err) {
	case KindQuotaExceeded:
		return Wrap(err, ErrQuotaExceeded.Code, ErrQuotaExceeded.Status, message)
	case KindPermissionDenied:
		return Wrap(err, ErrPermissionDenied.Code, ErrPermissionDenied.Status, message)
	case KindTransient:
		return Wrap(err, ErrTransient.Code, ErrTransient.Status, message)
	case KindNotFound:
		return Wrap(err, ErrNotFound.Code, ErrNotFound.Status, message)
	default:
		return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
	}
}
