package dispatch

import "strings"

// forbiddenChars is the denylist applied to every rendered shell command.
// It is deliberately coarse: a quoted parameter containing any of these is
// still rejected.
const forbiddenChars = ";&|<>`$!\\"

// Validate rejects a rendered command containing any denylisted character.
func Validate(command string) error {
	if strings.ContainsAny(command, forbiddenChars) {
		return ErrForbiddenCharacters
	}
	return nil
}
