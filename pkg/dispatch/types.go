package dispatch

import (
	notification "github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// MaxBatchSize is the most tokens the delivery backend accepts in one
// multicast call.
const MaxBatchSize = 500

// MinTokenLength is the length a directory token must exceed to be
// considered deliverable.
const MinTokenLength = 20

// AudienceKind names which recipients a request targets.
type AudienceKind string

const (
	AudienceAll    AudienceKind = "all"
	AudienceTopic  AudienceKind = "topic"
	AudienceTokens AudienceKind = "tokens"
	AudienceToken  AudienceKind = "token"
)

// Audience is the resolved audience selector of a request. Exactly one of
// Token, Tokens or Topic is meaningful, according to Kind.
type Audience struct {
	Kind   AudienceKind
	Token  string
	Tokens []string
	Topic  string
}

// Request is a validated notification request.
type Request struct {
	Title    string
	Body     string
	Data     map[string]any
	Audience Audience
}

// Recipient is one directory record. Token holds the stored token field as
// is; it may be missing, non-text or a placeholder.
type Recipient struct {
	ID    string
	Token any
}

// Message is the payload shared by every send of one request.
type Message struct {
	Content notification.NotificationContent
	Data    map[string]string
}

// BatchOutcome is what the backend reports for one multicast call.
type BatchOutcome struct {
	SuccessCount int
	FailureCount int
	// InvalidTokens lists tokens the backend reported as unregistered or
	// malformed. They are a subset of the failures.
	InvalidTokens []string
}

// BatchResult records one batch of a fan-out.
type BatchResult struct {
	Index        int `json:"index"`
	Size         int `json:"size"`
	SuccessCount int `json:"successCount"`
	FailureCount int `json:"failureCount"`
}

// Summary aggregates the batches of one dispatch.
type Summary struct {
	DispatchID   string        `json:"dispatchId"`
	TotalTokens  int           `json:"totalTokens"`
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
	Batches      []BatchResult `json:"batches"`
}

// Add folds a batch into the totals.
func (s *Summary) Add(b BatchResult) {
	s.Batches = append(s.Batches, b)
	s.SuccessCount += b.SuccessCount
	s.FailureCount += b.FailureCount
}

// Result is what a dispatch produced.
type Result struct {
	Audience AudienceKind
	// Receipt is set for single-token and topic sends.
	Receipt string
	// Summary is set for multicast and broadcast sends. On a failed
	// broadcast it holds the batches completed before the failure.
	Summary *Summary
	// NoRecipients reports a broadcast that found nobody to send to.
	NoRecipients bool
}

// IsValidToken reports whether a directory token field looks deliverable:
// it must be text and longer than MinTokenLength characters.
func IsValidToken(v any) bool {
	s, ok := v.(string)
	return ok && len(s) > MinTokenLength
}
