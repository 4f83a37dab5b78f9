package config

import (
	"errors"
	"fmt"
)

// ErrNoServers is returned when the configuration declares no server.
var ErrNoServers = errors.New("config: no server defined")

// Error is a configuration error. Field is a dotted path to the offending
// setting, e.g. "servers[0].locations[2].methods".
type Error struct {
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Field == "" && e.Err != nil:
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	case e.Field == "":
		return "config: " + e.Msg
	case e.Err != nil:
		return fmt.Sprintf("config: %s: %s: %v", e.Field, e.Msg, e.Err)
	default:
		return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fieldErr(field, format string, args ...any) *Error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}
