package gateway

import "strings"

// Handle is the parsed SSH login name. "alice" enters the menu;
// "alice-small" targets the template or instance named by Rest, which
// the session coordinator disambiguates against the template catalog.
type Handle struct {
	Owner string
	Rest  string
}

// ParseHandle splits a login name at the first dash. Everything before
// it is the owner; the remainder, dashes included, is the target name.
func ParseHandle(login string) Handle {
	owner, rest, _ := strings.Cut(login, "-")
	return Handle{Owner: owner, Rest: rest}
}
