package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"studynotify/internal/transport"
)

const (
	paramToken     = "access_token"
	paramSecret    = "secret"
	paramTimestamp = "timestamp"
	paramSign      = "sign"
)

// parseDestination checks the webhook URL and returns it together with the
// signing secret it carried, if any.
func parseDestination(dest string) (*url.URL, string, bool, error) {
	u, err := url.Parse(strings.TrimSpace(dest))
	if err != nil {
		return nil, "", false, transport.ConfigError("validate", "webhook is not a valid URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, "", false, transport.ConfigError("validate", "webhook must be http or https")
	}
	if u.Host == "" {
		return nil, "", false, transport.ConfigError("validate", "webhook has no host")
	}
	q := u.Query()
	if strings.TrimSpace(q.Get(paramToken)) == "" {
		return nil, "", false, transport.ConfigError("validate", "webhook is missing access_token")
	}
	if !q.Has(paramSecret) {
		return u, "", false, nil
	}
	secret := q.Get(paramSecret)
	if secret == "" || strings.IndexFunc(secret, unicode.IsSpace) >= 0 {
		return nil, "", false, transport.SignatureError("validate", "secret is empty or contains whitespace")
	}
	return u, secret, true, nil
}

// Sign computes the provider signature for the given millisecond timestamp:
// base64(HMAC-SHA256(secret, "ts\nsecret")).
func Sign(ts int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10) + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signedURL strips the secret and appends timestamp and sign. Without a
// secret only the timestamp is added.
func signedURL(u *url.URL, secret string, hasSecret bool, now time.Time) string {
	out := *u
	q := out.Query()
	q.Del(paramSecret)
	ts := now.UnixMilli()
	q.Set(paramTimestamp, strconv.FormatInt(ts, 10))
	if hasSecret {
		q.Set(paramSign, Sign(ts, secret))
	} else {
		q.Del(paramSign)
	}
	out.RawQuery = q.Encode()
	return out.String()
}
