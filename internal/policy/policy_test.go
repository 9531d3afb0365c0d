package policy

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/vincentbai/behaviortrace/internal/models"
)

func envelopeWith(payload map[string]any) models.Envelope {
	return models.Envelope{EventID: "e-1", EventType: models.EventInput, Payload: payload}
}

func TestMask(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"card number", "6222021234567890", "6222****7890"},
		{"exactly eight", "12345678", "1234****5678"},
		{"too short", "1234567", Redacted},
		{"empty", "", Redacted},
		{"nil", nil, Redacted},
		{"number", 6222021234567890, "6222****7890"},
		{"decoded number", float64(6222021234567890), "6222****7890"},
		{"json number", json.Number("6222021234567890"), "6222****7890"},
		{"already masked", "6222****7890", "6222****7890"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mask(tt.value); got != tt.want {
				t.Errorf("Mask(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestSanitizeBlocksAndMasks(t *testing.T) {
	p := Default()
	in := envelopeWith(map[string]any{
		"Password":        "hunter2",
		"cvv":             "123",
		"cardNumber":      "6222021234567890",
		"IDCARD":          "110101199003074512",
		"transfer_amount": 500,
	})

	out := p.Sanitize(in)

	for _, blocked := range []string{"Password", "cvv"} {
		if _, ok := out.Payload[blocked]; ok {
			t.Errorf("Expected %q to be dropped", blocked)
		}
	}
	if out.Payload["cardNumber"] != "6222****7890" {
		t.Errorf("cardNumber = %v", out.Payload["cardNumber"])
	}
	if out.Payload["IDCARD"] != "1101****4512" {
		t.Errorf("IDCARD = %v", out.Payload["IDCARD"])
	}
	if out.Payload["transfer_amount"] != 500 {
		t.Errorf("transfer_amount = %v", out.Payload["transfer_amount"])
	}

	// input untouched
	if in.Payload["Password"] != "hunter2" || in.Payload["cardNumber"] != "6222021234567890" {
		t.Error("Sanitize must not mutate its input")
	}
}

func TestSanitizeMasksDecodedNumbers(t *testing.T) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(`{"cardNumber":6222021234567890,"amount":500}`), &payload); err != nil {
		t.Fatalf("Failed to unmarshal payload: %v", err)
	}

	out := Default().Sanitize(envelopeWith(payload))

	if out.Payload["cardNumber"] != "6222****7890" {
		t.Errorf("cardNumber = %v, want 6222****7890", out.Payload["cardNumber"])
	}
	if out.Payload["amount"] != float64(500) {
		t.Errorf("amount = %v", out.Payload["amount"])
	}
}

func randomPayload(r *rand.Rand) map[string]any {
	keys := []string{"password", "PIN", "pwd", "cardNumber", "card_number", "bankCard", "idCard", "amount", "page", "note"}
	payload := map[string]any{}
	for i := 0; i < r.Intn(len(keys)+1); i++ {
		key := keys[r.Intn(len(keys))]
		switch r.Intn(3) {
		case 0:
			payload[key] = strings.Repeat(fmt.Sprint(r.Intn(10)), r.Intn(20))
		case 1:
			payload[key] = r.Intn(1 << 30)
		default:
			payload[key] = nil
		}
	}
	return payload
}

func TestSanitizeIdempotent(t *testing.T) {
	p := Default()
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		once := p.Sanitize(envelopeWith(randomPayload(r)))
		twice := p.Sanitize(once)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("Sanitize not idempotent:\n once=%v\ntwice=%v", once.Payload, twice.Payload)
		}
	}
}

func TestSanitizeBlockedAbsent(t *testing.T) {
	p := Default()
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		payload := randomPayload(r)
		payload["password"] = "secret"
		out := p.Sanitize(envelopeWith(payload))
		for key := range out.Payload {
			if p.Blocked(key) {
				t.Fatalf("blocked key %q survived sanitization", key)
			}
		}
	}
}

func TestMaskNeverRevealsMiddle(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ0123456789"
	for i := 0; i < 500; i++ {
		n := 8 + r.Intn(24)
		b := make([]byte, n)
		for j := range b {
			b[j] = alphabet[r.Intn(len(alphabet))]
		}
		s := string(b)
		got := Mask(s)
		want := s[:4] + "****" + s[n-4:]
		if got != want {
			t.Fatalf("Mask(%q) = %q, want %q", s, got, want)
		}
		if middle := s[4 : n-4]; len(middle) > 0 && strings.Contains(got[4:len(got)-4], middle) {
			t.Fatalf("Mask(%q) leaked middle %q", s, middle)
		}
	}
}

func TestZeroPolicyPassesThrough(t *testing.T) {
	var p Policy
	out := p.Sanitize(envelopeWith(map[string]any{"password": "x"}))
	if out.Payload["password"] != "x" {
		t.Error("zero policy should not block anything")
	}
}
