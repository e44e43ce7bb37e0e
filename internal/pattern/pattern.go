// Package pattern decides whether a resource URL is covered by a license
// URL pattern.
//
// A pattern starting with "/" is compared against the resource's path and
// query only; any other pattern is compared against the full URL.  "*"
// matches any sequence of characters and "$" anchors the end of the
// string.  Every other character is literal.  Matching is anchored at the
// start only, so a pattern without a trailing "$" also matches longer URLs
// sharing it as a prefix.
package pattern

import (
	"net/url"
	"regexp"
	"strings"
	"sync"
)

var compiled sync.Map // pattern -> *regexp.Regexp

// Matches reports whether resource is covered by pattern.
func Matches(resource, pattern string) bool {
	if pattern == "" || resource == "" {
		return false
	}
	if pattern == "/" {
		return true
	}
	subject := resource
	if strings.HasPrefix(pattern, "/") {
		s, ok := pathAndQuery(resource)
		if !ok {
			return false
		}
		subject = s
	}
	return compile(pattern).MatchString(subject)
}

// pathAndQuery returns the escaped path plus "?query" of raw.
func pathAndQuery(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p, true
}

func compile(pattern string) *regexp.Regexp {
	if re, ok := compiled.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '$':
			b.WriteByte('$')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	// (?s) lets "*" span newlines; literal input never contains regex syntax.
	re := regexp.MustCompile("(?s)" + b.String())
	compiled.Store(pattern, re)
	return re
}
