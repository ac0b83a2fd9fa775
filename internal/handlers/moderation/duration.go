package handlers

import (
	"time"

	"github.com/pkg/errors"

	errs "github.com/wardenbot/warden/internal/errors"
)

// ParseDuration turns an admin-entered token ("5m", "6h", "3d") into the
// absolute instant the punishment lapses. The numeric prefix is capped at
// two digits; callers must reject bad tokens before committing a
// punishment, so the parse happens first and has no side effects.
func ParseDuration(token string, now time.Time) (time.Time, error) {
	if len(token) < 2 {
		return time.Time{}, errors.Wrapf(errs.ErrInvalidDuration, "token %q has no amount", token)
	}

	unit := token[len(token)-1]
	amount := token[:len(token)-1]
	if len(amount) > 2 {
		return time.Time{}, errors.Wrapf(errs.ErrInvalidDuration, "amount in %q is too large, two digits max", token)
	}
	n := 0
	for _, r := range amount {
		if r < '0' || r > '9' {
			return time.Time{}, errors.Wrapf(errs.ErrInvalidDuration, "amount in %q is not a number", token)
		}
		n = n*10 + int(r-'0')
	}

	switch unit {
	case 'm':
		return now.Add(time.Duration(n) * time.Minute), nil
	case 'h':
		return now.Add(time.Duration(n) * time.Hour), nil
	case 'd':
		return now.Add(time.Duration(n) * 24 * time.Hour), nil
	}
	return time.Time{}, errors.Wrapf(errs.ErrInvalidDuration, "unknown unit %q, expected m/h/d", string(unit))
}
