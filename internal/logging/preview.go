// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import "unicode/utf8"

// MaxLenPrintSQL bounds statement previews in log lines.
const MaxLenPrintSQL = 100

// MaxLenPrintBody bounds response body previews in retry diagnostics.
const MaxLenPrintBody = 250

// Preview shortens s to at most n runes, appending "..." when something was cut.
func Preview(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// SQL is Preview with the statement limit.
func SQL(sql string) string {
	return Preview(sql, MaxLenPrintSQL)
}
