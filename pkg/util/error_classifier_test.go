package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koval-yurko/emails-flow/pkg/circuitbreaker"
)

func TestClassifyError(t *testing.T) {
	errUnparseable := NewTypedError("llm_unparseable", "llm output could not be parsed", false)
	var syntaxErr error
	{
		var v map[string]any
		syntaxErr = json.Unmarshal([]byte("{not json"), &v)
	}

	tests := []struct {
		name          string
		err           error
		wantRetryable bool
		wantType      string
	}{
		{"nil", nil, false, ""},
		{"typed sentinel wrapped", fmt.Errorf("analyze: %w", errUnparseable), false, "llm_unparseable"},
		{"json syntax", syntaxErr, false, "json_decode_error"},
		{"no rows", fmt.Errorf("get email: %w", pgx.ErrNoRows), false, "not_found"},
		{"circuit open", circuitbreaker.ErrCircuitBreakerOpen, true, "circuit_open"},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false, "duplicate_key"},
		{"connection text", errors.New("dial tcp: connection refused"), true, "connection_error"},
		{"unknown", errors.New("boom"), false, "unknown_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, errType := ClassifyError(tt.err)
			if retryable != tt.wantRetryable || errType != tt.wantType {
				t.Errorf("ClassifyError() = (%v, %q), want (%v, %q)", retryable, errType, tt.wantRetryable, tt.wantType)
			}
		})
	}
}

func TestFormatReceiveKey(t *testing.T) {
	if got := FormatReceiveKey("email-read-queue", "abc"); got != "receive:email-read-queue:abc" {
		t.Errorf("FormatReceiveKey() = %q", got)
	}
}
