package credentials

import (
	"encoding/json"
	"fmt"
	"time"
)

// StorageState mirrors the browser storage-state JSON written by Playwright.
// It is the on-disk format of every credential blob.
type StorageState struct {
	Cookies []Cookie          `json:"cookies"`
	Origins []json.RawMessage `json:"origins"`
}

// Cookie is one entry of StorageState.Cookies. Expires is a Unix timestamp
// in seconds; -1 marks a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// ParseStorageState decodes a credential blob.
func ParseStorageState(blob []byte) (*StorageState, error) {
	var state StorageState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("decode storage state: %w", err)
	}
	return &state, nil
}

// Marshal encodes the state as a credential blob.
func (s *StorageState) Marshal() ([]byte, error) {
	out := *s
	if out.Cookies == nil {
		out.Cookies = []Cookie{}
	}
	if out.Origins == nil {
		out.Origins = []json.RawMessage{}
	}
	return json.Marshal(out)
}

// FromNetscape converts parsed Netscape cookies into a storage state.
func FromNetscape(cookies []NetscapeCookie) *StorageState {
	state := &StorageState{Cookies: make([]Cookie, 0, len(cookies))}
	for _, c := range cookies {
		expires := float64(c.Expiration)
		if c.Expiration == 0 {
			expires = -1
		}
		state.Cookies = append(state.Cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: "Lax",
		})
	}
	return state
}

// ToNetscape converts the state back into Netscape cookies.
func (s *StorageState) ToNetscape() []NetscapeCookie {
	cookies := make([]NetscapeCookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		expiration := int64(c.Expires)
		if c.Expires < 0 {
			expiration = 0
		}
		flag := "FALSE"
		if len(c.Domain) > 0 && c.Domain[0] == '.' {
			flag = "TRUE"
		}
		cookies = append(cookies, NetscapeCookie{
			Domain:     c.Domain,
			Flag:       flag,
			Path:       c.Path,
			Secure:     c.Secure,
			HTTPOnly:   c.HTTPOnly,
			Expiration: expiration,
			Name:       c.Name,
			Value:      c.Value,
		})
	}
	return cookies
}

// Expired reports whether the cookie has a past expiry. Session cookies
// never count as expired.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && int64(c.Expires) < now.Unix()
}
