package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	notification "github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Keys the service always sets in the data payload. Auxiliary data with the
// same key overrides them.
const (
	DataKeyTitle       = "title"
	DataKeyBody        = "body"
	DataKeyType        = "type"
	DataKeyClickAction = "click_action"
	DataKeyTimestamp   = "timestamp"

	DefaultDataType    = "info"
	DefaultClickAction = "OPEN_APP"
)

// wireRequest mirrors the inbound JSON body.
type wireRequest struct {
	Token  string         `json:"token"`
	Tokens []string       `json:"tokens"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data"`
	Topic  string         `json:"topic"`
	// Only a literal true selects the broadcast; any other value is ignored.
	All    any            `json:"all"`
}

// DecodeRequest reads and validates a notification request.
//
// Numbers in the auxiliary data are kept as json.Number until CoerceData
// formats them. Title and body are checked before the audience.
func DecodeRequest(r io.Reader) (*Request, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var wire wireRequest
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return wire.toRequest()
}

func (w wireRequest) toRequest() (*Request, error) {
	if w.Title == "" || w.Body == "" {
		return nil, ErrMissingContent
	}
	audience, err := w.audience()
	if err != nil {
		return nil, err
	}
	return &Request{
		Title:    w.Title,
		Body:     w.Body,
		Data:     w.Data,
		Audience: audience,
	}, nil
}

// audience applies the selector precedence: all, then topic, then tokens,
// then token. Lower-priority selectors are ignored when a higher one is set.
func (w wireRequest) audience() (Audience, error) {
	all, _ := w.All.(bool)
	switch {
	case all:
		return Audience{Kind: AudienceAll}, nil
	case w.Topic != "":
		return Audience{Kind: AudienceTopic, Topic: w.Topic}, nil
	case len(w.Tokens) > 0:
		return Audience{Kind: AudienceTokens, Tokens: w.Tokens}, nil
	case w.Token != "":
		return Audience{Kind: AudienceToken, Token: w.Token}, nil
	}
	return Audience{}, ErrNoAudience
}

// CoerceData converts auxiliary data to the string-only map the delivery
// backend requires.
//
//   - strings are kept as is
//   - numbers become plain decimal text, so 1e3 is "1000" and 1.50 is "1.5"
//   - booleans become "true" or "false"
//   - nil entries are dropped
//   - arrays and objects become compact JSON text
func CoerceData(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := coerceValue(v); ok {
			out[k] = s
		}
	}
	return out
}

func coerceValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return formatNumber(t), true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), true
	}
	return string(b), true
}

// formatNumber renders n without exponent or trailing zeros. Integers
// beyond int64 keep their digits as written.
func formatNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	text := n.String()
	if strings.TrimLeft(strings.TrimPrefix(text, "-"), "0123456789") == "" {
		return text
	}
	f, err := n.Float64()
	if err != nil {
		return text
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NewMessage shapes the payload for a request.
func NewMessage(req *Request, now time.Time) Message {
	data := map[string]string{
		DataKeyTitle:       req.Title,
		DataKeyBody:        req.Body,
		DataKeyType:        DefaultDataType,
		DataKeyClickAction: DefaultClickAction,
		DataKeyTimestamp:   strconv.FormatInt(now.UnixMilli(), 10),
	}
	for k, v := range CoerceData(req.Data) {
		data[k] = v
	}

	return Message{
		Content: notification.NotificationContent{
			Title: req.Title,
			Body:  req.Body,
		},
		Data: data,
	}
}
