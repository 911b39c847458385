// Package version reports the selfd release and the user agent it
// advertises to peers.
package version

import (
	"fmt"
	"strings"
)

const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

// appBuild can be set at link time with
// '-ldflags "-X github.com/selfnet/selfd/version.appBuild=foo"'. Values with
// characters outside [0-9A-Za-z-] are ignored.
var appBuild string

var version = buildVersion(appBuild)

// Version returns the application version, for example 0.1.0 or 0.1.0-rc1.
func Version() string {
	return version
}

// UserAgent returns the user agent selfd sends in its greeting.
func UserAgent() string {
	return "selfd:" + Version()
}

func buildVersion(build string) string {
	base := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if build == "" || !isValidBuild(build) {
		return base
	}
	return base + "-" + build
}

func isValidBuild(build string) bool {
	return strings.IndexFunc(build, func(r rune) bool {
		isDigit := r >= '0' && r <= '9'
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		return !isDigit && !isLetter && r != '-'
	}) == -1
}
