package browser

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

const defaultCookieDomain = ".skool.com"

// Cookie is a session cookie to inject before the first navigation.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite string
	// Expires is zero for session cookies.
	Expires time.Time
}

// cookieWire accepts the field spellings produced by the common cookie
// export tools.
type cookieWire struct {
	Name           string   `json:"name"`
	NameAlt        string   `json:"Name"`
	Value          string   `json:"value"`
	ValueAlt       string   `json:"Value"`
	Domain         string   `json:"domain"`
	DomainAlt      string   `json:"Domain"`
	Path           string   `json:"path"`
	PathAlt        string   `json:"Path"`
	Secure         *bool    `json:"secure"`
	HTTPOnly       *bool    `json:"httpOnly"`
	SameSite       string   `json:"sameSite"`
	SameSiteAlt    string   `json:"SameSite"`
	Expires        *float64 `json:"expires"`
	ExpirationDate *float64 `json:"expirationDate"`
}

// LoadCookies reads a JSON array of cookies from path and normalises it.
func LoadCookies(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return ParseCookies(data)
}

// ParseCookies normalises exported cookies. Missing domains default to
// .skool.com, paths to "/", Secure to true and SameSite to Lax. Cookies
// without a name or value are dropped.
func ParseCookies(data []byte) ([]Cookie, error) {
	var raw []cookieWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse cookies: %w", err)
	}
	out := make([]Cookie, 0, len(raw))
	for _, w := range raw {
		c := Cookie{
			Name:     first(w.Name, w.NameAlt),
			Value:    first(w.Value, w.ValueAlt),
			Domain:   first(w.Domain, w.DomainAlt, defaultCookieDomain),
			Path:     first(w.Path, w.PathAlt, "/"),
			Secure:   w.Secure == nil || *w.Secure,
			HTTPOnly: w.HTTPOnly != nil && *w.HTTPOnly,
			SameSite: normalizeSameSite(first(w.SameSite, w.SameSiteAlt)),
		}
		if c.Name == "" || c.Value == "" {
			continue
		}
		if exp := expiry(w); exp > 0 {
			sec, frac := math.Modf(exp)
			c.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		out = append(out, c)
	}
	return out, nil
}

func expiry(w cookieWire) float64 {
	switch {
	case w.Expires != nil:
		return *w.Expires
	case w.ExpirationDate != nil:
		return *w.ExpirationDate
	}
	return 0
}

func normalizeSameSite(s string) string {
	switch strings.ToLower(s) {
	case "strict":
		return string(network.CookieSameSiteStrict)
	case "none", "no_restriction":
		return string(network.CookieSameSiteNone)
	}
	return string(network.CookieSameSiteLax)
}

// params converts cookies to the DevTools form.
func params(cookies []Cookie) []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: network.CookieSameSite(c.SameSite),
		}
		if !c.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(c.Expires)
			p.Expires = &exp
		}
		out = append(out, p)
	}
	return out
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
