// Copyright (c) 2025 Hueq
// Licensed under the MIT License. See LICENSE file in the project root for details.

package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "plain", err: stderrors.New("boom"), want: ""},
		{name: "direct", err: New(AuthFailed, "bad password"), want: AuthFailed},
		{name: "wrapped by fmt", err: fmt.Errorf("login: %w", New(AuthFailed, "bad password")), want: AuthFailed},
		{name: "nil", err: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := Wrap(Transport, "POST /notebook/api/execute/hive", context.DeadlineExceeded)
	assert.Equal(t, "transport: POST /notebook/api/execute/hive: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, "cancelled: statement cancelled", New(Cancelled, "statement cancelled").Error())
}

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("fetch: %w", New(ProxyOverloaded, "page too large"))
	assert.True(t, stderrors.Is(err, New(ProxyOverloaded, "")))
	assert.False(t, stderrors.Is(err, New(RemoteExecution, "")))
	assert.True(t, IsKind(err, ProxyOverloaded))
}
