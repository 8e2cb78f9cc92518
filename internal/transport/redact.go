package transport

import (
	"net/url"
	"strings"
)

var secretParams = []string{"access_token", "secret", "sign", "token"}

// Redact hides credentials in a destination so it can be logged.
func Redact(dest string) string {
	u, err := url.Parse(strings.TrimSpace(dest))
	if err != nil {
		return "<invalid destination>"
	}
	if u.User != nil {
		u.User = url.User(mask(u.User.Username()))
	}
	q := u.Query()
	changed := false
	for _, p := range secretParams {
		if v := q.Get(p); v != "" {
			q.Set(p, mask(v))
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func mask(v string) string {
	if len(v) <= 4 {
		return "***"
	}
	return v[:4] + "***"
}
