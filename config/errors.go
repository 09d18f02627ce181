package config

import "github.com/cockroachdb/errors"

// ErrInvalidArgument marks configuration errors. Test with errors.Is.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}
