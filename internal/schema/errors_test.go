package schema

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTimeout(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call failed: %w", context.DeadlineExceeded), true},
		{"tool error 408", NewToolError(CodeTimeout, "timeout calling tool"), true},
		{"wrapped tool error 408", fmt.Errorf("attempt: %w", NewToolError(CodeTimeout, "slow")), true},
		{"tool error 500", NewToolError(CodeServerError, "boom"), false},
		{"plain error", errors.New("boom"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTimeout(tc.err); got != tc.want {
				t.Errorf("IsTimeout(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"tool error", NewToolError(CodeNotFound, "missing"), CodeNotFound},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"plain error", errors.New("boom"), CodeServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Code(tc.err); got != tc.want {
				t.Errorf("Code(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestToolErrorMessage(t *testing.T) {
	err := NewToolError(CodeBadRequest, "missing required argument: %s", "filePath")
	if err.Error() != "tool error 400: missing required argument: filePath" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	te, ok := AsToolError(fmt.Errorf("wrapped: %w", err))
	if !ok || te.Code != CodeBadRequest {
		t.Errorf("AsToolError failed to unwrap: %v, %v", te, ok)
	}
}
