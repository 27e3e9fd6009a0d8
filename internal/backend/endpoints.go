// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package backend

// Endpoints contains the server paths used by the client.
type Endpoints struct {
	Login           string
	Logout          string
	CreateNotebook  string
	CreateSession   string
	CloseSession    string
	Execute         string // engine type is appended, e.g. /notebook/api/execute/hive
	CheckStatus     string
	FetchResult     string
	GetLogs         string
	CancelStatement string
	CloseStatement  string
	CloseNotebook   string
	ClearHistory    string
}

// DefaultEndpoints returns the paths served by a stock Hue installation.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:           "/accounts/login/",
		Logout:          "/accounts/logout/",
		CreateNotebook:  "/notebook/api/create_notebook",
		CreateSession:   "/notebook/api/create_session",
		CloseSession:    "/notebook/api/close_session/",
		Execute:         "/notebook/api/execute/",
		CheckStatus:     "/notebook/api/check_status",
		FetchResult:     "/notebook/api/fetch_result_data/",
		GetLogs:         "/notebook/api/get_logs",
		CancelStatement: "/notebook/api/cancel_statement",
		CloseStatement:  "/notebook/api/close_statement",
		CloseNotebook:   "/notebook/api/notebook/close/",
		ClearHistory:    "/notebook/api/clear_history/",
	}
}
