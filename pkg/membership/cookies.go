// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package membership

import (
	"net/http"
	"time"
)

const SelectorCookieName = "organizationId"

// SelectorCookie remembers the organization picked in the UI. Its value is a
// navigation hint only and is never used for authorization.
type SelectorCookie struct {
	name   string
	secure bool
}

func (c *SelectorCookie) Set(w http.ResponseWriter, organizationID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    organizationID,
		Path:     "/",
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *SelectorCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *SelectorCookie) Get(r *http.Request) string {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func NewSelectorCookie(secure bool) *SelectorCookie {
	return &SelectorCookie{name: SelectorCookieName, secure: secure}
}
