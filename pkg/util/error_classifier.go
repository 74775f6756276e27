package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koval-yurko/emails-flow/pkg/circuitbreaker"
)

// TypedError 带分类标签的哨兵错误，用 errors.Is 比较
type TypedError struct {
	Type      string
	Msg       string
	Retryable bool
}

func NewTypedError(errType, msg string, retryable bool) *TypedError {
	return &TypedError{Type: errType, Msg: msg, Retryable: retryable}
}

func (e *TypedError) Error() string     { return e.Msg }
func (e *TypedError) ErrorType() string { return e.Type }

// ClassifyError 返回 (是否可重试, 错误类型标签)，标签用于日志和指标
func ClassifyError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var typed *TypedError
	if errors.As(err, &typed) {
		return typed.Retryable, typed.Type
	}

	// JSON decode errors - 数据格式错误，不可重试
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, "circuit_open"
	}

	// Context - 超时可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return false, "duplicate_key"
		}
		return false, "db_error"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "json:") {
		return false, "json_decode_error"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout") {
		return true, "connection_error"
	}

	// 默认：未知错误
	return false, "unknown_error"
}
