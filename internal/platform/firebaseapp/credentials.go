package firebaseapp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Credentials holds the service account in one of its accepted encodings.
// ServiceAccountB64 wins when both are set. With neither set the SDK falls
// back to Application Default Credentials.
type Credentials struct {
	ServiceAccountB64  string
	ServiceAccountJSON string
}

// serviceAccount is the part of the key file we read ourselves.
type serviceAccount struct {
	ProjectID string `json:"project_id"`
}

// Resolve returns the raw service account JSON, its project id and which
// setting it came from. A nil slice means no explicit credentials.
func (c Credentials) Resolve() ([]byte, string, string, error) {
	var raw []byte
	var source string

	switch {
	case strings.TrimSpace(c.ServiceAccountB64) != "":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.ServiceAccountB64))
		if err != nil {
			return nil, "", "", fmt.Errorf("service account is not valid base64: %w", err)
		}
		raw, source = decoded, "base64"
	case strings.TrimSpace(c.ServiceAccountJSON) != "":
		raw, source = []byte(c.ServiceAccountJSON), "json"
	default:
		return nil, "", "", nil
	}

	var sa serviceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, "", "", fmt.Errorf("service account (%s) is not valid JSON: %w", source, err)
	}
	return raw, sa.ProjectID, source, nil
}
