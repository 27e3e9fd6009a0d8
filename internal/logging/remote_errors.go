// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
)

// RemoteErrorType represents the category of a failure reported by the query service.
type RemoteErrorType int

const (
	RemoteErrorUnknown RemoteErrorType = iota
	RemoteErrorSyntax
	RemoteErrorSemantic
	RemoteErrorAuth
	RemoteErrorSessionLimit
	RemoteErrorJobFailed
	RemoteErrorTimeout
)

// ParseRemoteError categorizes an error message returned by the query service.
func ParseRemoteError(errMsg string) RemoteErrorType {
	lower := strings.ToLower(errMsg)

	if strings.Contains(lower, "parseexception") || strings.Contains(lower, "syntax error") {
		return RemoteErrorSyntax
	}
	if strings.Contains(lower, "semanticexception") || strings.Contains(lower, "table not found") ||
		strings.Contains(lower, "invalid table alias or column reference") {
		return RemoteErrorSemantic
	}
	if strings.Contains(lower, "login_required") || strings.Contains(lower, "unauthenticated") ||
		strings.Contains(lower, "auth_failed") {
		return RemoteErrorAuth
	}
	if strings.Contains(lower, "too many opened sessions") || strings.Contains(lower, "too many sessions") {
		return RemoteErrorSessionLimit
	}
	if strings.Contains(lower, "vertex failed") || strings.Contains(lower, "return code 2") ||
		strings.Contains(lower, "dag did not succeed") {
		return RemoteErrorJobFailed
	}
	if strings.Contains(lower, "deadline") || strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
		return RemoteErrorTimeout
	}

	return RemoteErrorUnknown
}

// FormatRemoteError formats a remote failure in a user-friendly way.
func FormatRemoteError(errMsg string) string {
	errType := ParseRemoteError(errMsg)

	var builder strings.Builder

	builder.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("Query Failed"))
	builder.WriteString("\n\n")

	switch errType {
	case RemoteErrorSyntax:
		builder.WriteString("The statement could not be parsed by the query engine.\n")
		builder.WriteString("Check for:\n")
		builder.WriteString("  • Missing commas or parentheses\n")
		builder.WriteString("  • Reserved words used as identifiers without backticks\n")

	case RemoteErrorSemantic:
		builder.WriteString("The statement parsed, but refers to something that does not exist.\n")
		builder.WriteString("Check for:\n")
		builder.WriteString("  • Misspelled table or column names\n")
		builder.WriteString("  • A missing database prefix (use --database or db.table)\n")

	case RemoteErrorAuth:
		builder.WriteString("The query service rejected the session credentials.\n")
		builder.WriteString("To fix this:\n")
		builder.WriteString("  • Run 'hueq login' to store a fresh password\n")

	case RemoteErrorSessionLimit:
		builder.WriteString("The query service refused to open another session.\n")
		builder.WriteString("To fix this:\n")
		builder.WriteString("  • Lower --jobs (4 or fewer is usually safe)\n")
		builder.WriteString("  • Close idle notebooks in the web editor\n")

	case RemoteErrorJobFailed:
		builder.WriteString("The distributed job backing the statement failed.\n")
		builder.WriteString("This usually means:\n")
		builder.WriteString("  • A task ran out of memory\n")
		builder.WriteString("  • The cluster queue rejected or killed the application\n")

	case RemoteErrorTimeout:
		builder.WriteString("The query service did not answer in time.\n")
		builder.WriteString("Try again, or raise http_timeout in the configuration.\n")

	default:
		builder.WriteString("The query service reported an error for this statement.\n")
	}

	if strings.TrimSpace(errMsg) != "" {
		builder.WriteString("\n")
		builder.WriteString(pterm.NewStyle(pterm.FgGray).Sprint("Details: " + Mask(Preview(errMsg, 2000))))
	}

	return builder.String()
}

// PresentRemoteError displays a formatted remote failure.
func PresentRemoteError(errMsg string) {
	fmt.Println()
	fmt.Println(FormatRemoteError(errMsg))
	fmt.Println()
}
