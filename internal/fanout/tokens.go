package fanout

import "github.com/tinywideclouds/go-push-service/pkg/dispatch"

// UniqueTokens extracts the deliverable tokens from directory records.
// Records without a valid token are skipped silently. Duplicates are
// dropped; the first occurrence keeps its position.
func UniqueTokens(records []dispatch.Recipient) []string {
	seen := make(map[string]struct{}, len(records))
	tokens := make([]string, 0, len(records))
	for _, r := range records {
		if !dispatch.IsValidToken(r.Token) {
			continue
		}
		t := r.Token.(string)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	return tokens
}

// BatchCount is ceil(n / size).
func BatchCount(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
