package retry

import "errors"

// permanent is implemented by errors that reproduce on every attempt, such
// as a payload that fails validation.
type permanent interface {
	Permanent() bool
}

// IsPermanent checks if any error in the chain reports itself as permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var p permanent
	if errors.As(err, &p) {
		return p.Permanent()
	}
	return false
}
