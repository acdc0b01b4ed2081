package target

import (
	"strings"
)

// Placeholder is the token in a proxy template that receives the encoded URL.
const Placeholder = "{url}"

// Resolve builds the URL to fetch for rawURL. An empty template returns rawURL
// unchanged. A template containing {url} has its first occurrence replaced by
// the encoded URL; any other template gets a url= query parameter appended.
func Resolve(rawURL, template string) string {
	t := strings.TrimSpace(template)
	if t == "" {
		return rawURL
	}

	encoded := EncodeComponent(rawURL)
	if strings.Contains(t, Placeholder) {
		return strings.Replace(t, Placeholder, encoded, 1)
	}

	sep := "?"
	if strings.Contains(t, "?") {
		sep = "&"
	}
	return t + sep + "url=" + encoded
}

// EncodeComponent percent-encodes s the way encodeURIComponent does: every
// byte outside A-Z a-z 0-9 and -_.!~*'() is escaped as %XX.
// url.QueryEscape differs (space becomes +, and !*'() are escaped).
func EncodeComponent(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
