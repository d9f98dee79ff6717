// Package pipeline adapts the Pub/Sub ingestion stream to the dispatcher.
package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// RequestTransformer decodes a message payload with the same rules as the
// HTTP endpoint. Undecodable or invalid payloads are skipped with an error
// so the StreamingService nacks them toward the dead-letter topic.
func RequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.Request, bool, error) {
	req, err := dispatch.DecodeRequest(bytes.NewReader(msg.Payload))
	if err != nil {
		return nil, true, fmt.Errorf("failed to decode notification request from message %s: %w", msg.ID, err)
	}
	return req, false, nil
}
