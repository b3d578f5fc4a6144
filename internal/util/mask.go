package util

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	cstr "github.com/shopmonkeyus/go-common/string"
)

// MaskURL masks the credentials, path and query values of a URL string so it
// can be logged without leaking DSN secrets. Scheme and host stay readable.
func MaskURL(urlString string) (string, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	var out strings.Builder
	out.WriteString(u.Scheme)
	out.WriteString("://")
	if u.User != nil {
		out.WriteString(cstr.Mask(u.User.Username()))
		if pass, ok := u.User.Password(); ok {
			out.WriteString(":")
			out.WriteString(cstr.Mask(pass))
		}
		out.WriteString("@")
	}
	out.WriteString(u.Host)
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		out.WriteString("/")
		out.WriteString(cstr.Mask(p))
	}
	query := u.Query()
	if len(query) > 0 {
		qs := make([]string, 0, len(query))
		for k, v := range query {
			qs = append(qs, fmt.Sprintf("%s=%s", k, cstr.Mask(strings.Join(v, ","))))
		}
		sort.Strings(qs)
		out.WriteString("?")
		out.WriteString(strings.Join(qs, "&"))
	}
	return out.String(), nil
}

// MaskEmail masks the user and domain parts of an email address.
func MaskEmail(val string) string {
	user, domain, _ := strings.Cut(val, "@")
	host, tld, _ := strings.Cut(domain, ".")
	return cstr.Mask(user) + "@" + cstr.Mask(host) + "." + tld
}

var isURL = regexp.MustCompile(`^(\w+)://`)
var isEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
var isJWT = regexp.MustCompile(`^[a-zA-Z0-9-_]+\.[a-zA-Z0-9-_]+\.[a-zA-Z0-9-_]+$`)

// MaskArguments masks URLs, email addresses and JWT-shaped values in a
// command line so the full invocation can be logged.
func MaskArguments(args []string) []string {
	masked := make([]string, len(args))
	for i, arg := range args {
		switch {
		case isURL.MatchString(arg):
			if u, err := MaskURL(arg); err == nil {
				masked[i] = u
			} else {
				masked[i] = cstr.Mask(arg)
			}
		case isEmail.MatchString(arg):
			masked[i] = MaskEmail(arg)
		case isJWT.MatchString(arg):
			masked[i] = cstr.Mask(arg)
		default:
			masked[i] = arg
		}
	}
	return masked
}
