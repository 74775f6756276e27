package mq

import (
	"encoding/json"
	"fmt"

	"github.com/koval-yurko/emails-flow/pkg/util"
)

// Routing keys equal the queue names.
const (
	EmailReadQueue    = "email-read-queue"
	EmailAnalyzeQueue = "email-analyze-queue"
	PostStoreQueue    = "post-store-queue"
)

// ErrInvalidPayload 消息体缺少必填字段
var ErrInvalidPayload = util.NewTypedError("invalid_payload", "invalid queue payload", false)

type validator interface {
	Validate() error
}

// Decode unmarshals body into v and validates required fields.
func Decode(body []byte, v validator) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return v.Validate()
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
}
