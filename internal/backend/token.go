// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	csrfCookie    = "csrftoken"
	sessionCookie = "sessionid"

	middlewareHeader = "X-Hue-Middleware-Response"
	loginRequiredVal = "LOGIN_REQUIRED"
)

// cookieValue returns the value of the named cookie the jar would send to u.
func cookieValue(jar http.CookieJar, u *url.URL, name string) string {
	if jar == nil {
		return ""
	}
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// loginRequired reports whether the server refused the call for lack of a valid login.
func loginRequired(resp *Response) bool {
	if strings.EqualFold(strings.TrimSpace(resp.Header.Get(middlewareHeader)), loginRequiredVal) {
		return true
	}
	return resp.Code == http.StatusUnauthorized
}
