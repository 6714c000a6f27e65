package telephony

import (
	"errors"
	"fmt"
)

// ErrInvalidDTMF rejects digit strings outside the allowed character set.
var ErrInvalidDTMF = errors.New("telephony: invalid dtmf digits")

// ValidateDTMF accepts digits 0-9, * and #, plus 'w' for a half-second
// pause. Anything else is rejected before any document is rendered.
func ValidateDTMF(digits string) error {
	if digits == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDTMF)
	}
	for _, r := range digits {
		switch {
		case r >= '0' && r <= '9':
		case r == '*' || r == '#' || r == 'w':
		default:
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidDTMF, r)
		}
	}
	return nil
}
