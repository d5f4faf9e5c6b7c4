// Package scope decides which upstream paths a token scope may reach.
// The rules are a static prefix-regex table compiled at init; unknown
// scopes deny everything.
package scope

import (
	"regexp"
	"strings"
)

// certificatesOnly lists the upstream path prefixes reachable by
// tokens limited to certificate management. Everything else upstream
// is off limits for them.
var certificatesOnly = compile([]string{
	`^certificates/filter`,
	`^certificates/details/`,
	`^certificates/export/`,
	`^certificates/import/`,
	`^certificates/remove`,
	`^certificates/restore`,

	`^certificates/activeForTesting`,
	`^certificates/activeForTesting/activate/`,
	`^certificates/activeForTesting/deactivate/`,
	`^certificates/activeForTesting/enhanced`,
	`^certificates/activeForTesting/options/`,
	`^certificates/activeForTesting/usecases/`,

	`^certificates/update/`,
	`^certificates/update/cancel`,
	`^certificates/update/metrics`,
	`^certificates/checkSystemIntegrityReport`,
	`^certificates/checkSystemIntegrityLog`,
	`^certificates/checkSystemIntegrityLogExistance`,

	// Column layout endpoints the certificate UI needs.
	`^configurations/certificatesColumnOrder`,
	`^configurations/certificatesColumnVisibility`,
})

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Authorize reports whether a token with the given scope may reach the
// upstream path. The full scope reaches everything; unknown scopes
// reach nothing.
func Authorize(path, scope string) bool {
	if scope == "full" {
		return true
	}
	if scope != "certificates_only" {
		return false
	}

	// Exactly one leading slash is stripped before matching.
	p := strings.TrimPrefix(path, "/")
	for _, re := range certificatesOnly {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}
