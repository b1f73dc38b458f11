package domain

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("timeout")
)

// ParseUserID parses a path or query value into a positive user id.
func ParseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, &IDError{Raw: raw, Err: err}
	}
	if id <= 0 {
		return 0, &IDError{Raw: raw}
	}
	return id, nil
}

// IDError reports a malformed identifier. It matches ErrInvalidArgument.
type IDError struct {
	Raw string
	Err error
}

func (e *IDError) Error() string {
	if e.Err != nil {
		return "invalid user id " + strconv.Quote(e.Raw) + ": " + e.Err.Error()
	}
	return "invalid user id " + strconv.Quote(e.Raw) + ": must be positive"
}

func (e *IDError) Unwrap() error { return e.Err }

func (e *IDError) Is(target error) bool { return target == ErrInvalidArgument }
