// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package httperrors turns transport and server failures into advice a user can act on.
package httperrors

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/pterm/pterm"

	herrors "hueq/cli/internal/errors"
)

// Advice is a rendered explanation of a failure.
type Advice struct {
	Icon  string
	Title string
	Lines []string
	// Details is the raw error, printed at debug level.
	Details string
}

// FormatNetworkError prints advice for err and returns it wrapped for logging.
// context reads like "running statements" and host names the server being contacted.
func FormatNetworkError(err error, context, host string) error {
	if err == nil {
		return nil
	}
	Print(Explain(err, context, host))
	return fmt.Errorf("network error: %w", err)
}

// Print renders advice with pterm.
func Print(a Advice) {
	pterm.Printf("%s  %s\n", a.Icon, a.Title)
	pterm.Println()
	for _, l := range a.Lines {
		pterm.Println(l)
	}
	if len(a.Lines) > 0 {
		pterm.Println()
	}
	if a.Details != "" {
		pterm.Debug.Printf("Technical details: %s\n", a.Details)
	}
}

// Explain classifies err.
func Explain(err error, context, host string) Advice {
	if host == "" {
		host = "the server"
	}
	switch {
	case herrors.IsKind(err, herrors.AuthFailed):
		return Advice{Icon: "🔑", Title: "Login rejected while " + context, Lines: []string{
			"The server did not accept the username and password.",
			"  • Run hueq login again to store the right password",
			"  • Or pass it with --password / HUEQ_PASSWORD",
		}}
	case herrors.IsKind(err, herrors.ProxyOverloaded):
		return Advice{Icon: "📦", Title: "Result page too large while " + context, Lines: []string{
			"The proxy in front of " + host + " refused the response.",
			"  • Lower --rows-per-fetch",
			"  • Or select fewer columns",
		}, Details: short(err.Error())}
	case isTimeout(err):
		return Advice{Icon: "⏱️", Title: "Connection timeout while " + context, Lines: []string{
			host + " took too long to respond. This could mean:",
			"  • The query engine is busy",
			"  • A network firewall is dropping the connection",
			"",
			"Try again, or raise --http-timeout.",
		}}
	case isDNS(err):
		return Advice{Icon: "🌐", Title: "Cannot resolve server address while " + context, Lines: []string{
			"Unable to look up " + host + ". Please check:",
			"  • The --base-url setting",
			"  • Your VPN connection",
		}}
	case isConnectionRefused(err):
		return Advice{Icon: "🚫", Title: "Connection refused while " + context, Lines: []string{
			host + " is not accepting connections. This could mean:",
			"  • Hue is down or restarting",
			"  • Wrong port in --base-url",
		}}
	case isTLS(err):
		return Advice{Icon: "🔒", Title: "Secure connection failed while " + context, Lines: []string{
			"Cannot establish an HTTPS connection to " + host + ".",
			"  • Check the certificate of the server",
			"  • Verify your system clock",
		}}
	case isServerError(err.Error()):
		return Advice{Icon: "⚠️", Title: "Server error while " + context, Lines: []string{
			host + " answered with an internal error.",
			"Please try again in a few minutes.",
		}, Details: short(err.Error())}
	default:
		return Advice{Icon: "❌", Title: "Cannot reach " + host + " while " + context, Lines: []string{
			"Please check your network and the --base-url setting.",
		}, Details: short(err.Error())}
	}
}

func short(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

func isTimeout(err error) bool {
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isDNS(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isConnectionRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

func isTLS(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "tls") ||
		strings.Contains(lower, "x509") ||
		strings.Contains(lower, "certificate")
}

func isServerError(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range []string{"status 500", "status 502", "status 503", "status 504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// HostOf returns the host of rawURL for messages.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "server"
	}
	return u.Host
}
