package nsqd

import (
	"fmt"
	"regexp"
)

// maxNameLength bounds topic and channel names.
const maxNameLength = 64

// nameRe allows the same character set the reference implementation
// validated against, plus the "#ephemeral" suffix convention.
var nameRe = regexp.MustCompile(`^[\.a-zA-Z0-9_-]+(#ephemeral)?$`)

// validateName checks a topic or channel name for length and character
// set validity.
func validateName(name string) error {
	if len(name) == 0 || len(name) > maxNameLength {
		return fmt.Errorf("nsqd: name length must be 1-%d, got %d", maxNameLength, len(name))
	}
	if !nameRe.MatchString(name) {
		return fmt.Errorf("nsqd: invalid name %q", name)
	}
	return nil
}
