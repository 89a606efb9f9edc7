package credentials

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMalformedCredential is returned by CheckStructure for blobs that can
// never authenticate, without starting a browser.
var ErrMalformedCredential = errors.New("malformed credential")

// minCredentialSize is the smallest blob that can hold a real login.
const minCredentialSize = 100

// CheckStructure performs the cheap structural check of a storage-state
// blob: size, JSON shape, at least one cookie, not every cookie expired,
// and the platform's required cookies present.
func CheckStructure(platform string, blob []byte, now time.Time) error {
	if len(blob) < minCredentialSize {
		return fmt.Errorf("%w: blob too small (%d bytes)", ErrMalformedCredential, len(blob))
	}

	if !gjson.ValidBytes(blob) {
		return fmt.Errorf("%w: not valid JSON", ErrMalformedCredential)
	}

	cookies := gjson.GetBytes(blob, "cookies")
	if !cookies.IsArray() || len(cookies.Array()) == 0 {
		return fmt.Errorf("%w: no cookies", ErrMalformedCredential)
	}

	names := make(map[string]bool)
	expired := 0
	total := 0
	cookies.ForEach(func(_, c gjson.Result) bool {
		total++
		names[c.Get("name").String()] = true
		if exp := c.Get("expires").Float(); exp > 0 && int64(exp) < now.Unix() {
			expired++
		}
		return true
	})

	if expired == total {
		return fmt.Errorf("%w: all %d cookies expired", ErrMalformedCredential, total)
	}

	if cfg, ok := platformCookies[platform]; ok {
		for _, name := range cfg.Required {
			if !names[name] {
				return fmt.Errorf("%w: missing %s cookie", ErrMalformedCredential, name)
			}
		}
	}

	return nil
}
