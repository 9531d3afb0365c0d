// Package policy holds the sensitivity rules applied to every envelope before
// it is queued or transmitted.
package policy

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vincentbai/behaviortrace/internal/models"
)

const (
	// Redacted replaces any masked value too short to reveal a prefix and suffix.
	Redacted = "****"

	maskFiller    = "****"
	maskKeep      = 4
	maskMinLength = 8
)

// Policy is a fixed rule set. The zero value blocks and masks nothing.
type Policy struct {
	blocked map[string]bool
	masked  map[string]bool
}

// New builds a policy from field-name lists. Matching is case-insensitive.
func New(blocked, masked []string) *Policy {
	p := &Policy{
		blocked: make(map[string]bool, len(blocked)),
		masked:  make(map[string]bool, len(masked)),
	}
	for _, k := range blocked {
		p.blocked[strings.ToLower(k)] = true
	}
	for _, k := range masked {
		p.masked[strings.ToLower(k)] = true
	}
	return p
}

// Default is the policy used by the tracker.
func Default() *Policy {
	return New(
		[]string{"password", "pwd", "cvv", "pin"},
		[]string{"cardNumber", "card_number", "bankCard", "idCard"},
	)
}

func (p *Policy) Blocked(key string) bool { return p.blocked[strings.ToLower(key)] }
func (p *Policy) Masked(key string) bool  { return p.masked[strings.ToLower(key)] }

// Sanitize returns a copy of env with blocked payload keys removed and masked
// payload keys redacted. env is not modified. Sanitize is idempotent.
func (p *Policy) Sanitize(env models.Envelope) models.Envelope {
	out := env
	out.Payload = make(map[string]any, len(env.Payload))
	for key, value := range env.Payload {
		switch {
		case p.Blocked(key):
			continue
		case p.Masked(key):
			out.Payload[key] = Mask(value)
		default:
			out.Payload[key] = value
		}
	}
	return out
}

// Mask keeps the first and last four characters of v's string form. Values
// shorter than eight characters, and nil, become Redacted.
func Mask(v any) string {
	if v == nil {
		return Redacted
	}
	r := []rune(maskText(v))
	if len(r) < maskMinLength {
		return Redacted
	}
	return string(r[:maskKeep]) + maskFiller + string(r[len(r)-maskKeep:])
}

// maskText renders v the way it was typed. JSON numbers decode as float64,
// and whole values must keep their digits rather than exponent form.
func maskText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
