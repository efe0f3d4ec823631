// Copyright (c) 2025 OData Registry Contributors
// SPDX-License-Identifier: MIT

package debug

import (
	"net/url"
	"strings"
)

// sensitiveKeys trigger automatic masking when they appear in query
// parameter or header names.
var sensitiveKeys = []string{
	"password", "passwd", "pwd", "secret",
	"token", "api_key", "apikey", "api-key",
	"authorization", "auth", "credential",
	"x-csrf-token", "csrf",
}

// MaskToken masks a token, showing only the last 8 characters.
func MaskToken(token string) string {
	if len(token) == 0 {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-8:]
}

// MaskURL removes credentials from a URL before it is logged: userinfo
// passwords and sensitive query parameters.
func MaskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		if _, hasPass := parsed.User.Password(); hasPass {
			parsed.User = url.UserPassword(parsed.User.Username(), "***")
		}
	}

	query := parsed.Query()
	modified := false
	for key := range query {
		if IsSensitiveKey(key) {
			query.Set(key, "***")
			modified = true
		}
	}
	if modified {
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// IsSensitiveKey checks if a key name indicates sensitive data.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}
