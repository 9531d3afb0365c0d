package tracker

import (
	"testing"

	"github.com/vincentbai/behaviortrace/internal/clock"
	"github.com/vincentbai/behaviortrace/internal/models"
)

func TestPageKey(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", "home"},
		{"/", "home"},
		{"/index.html", "home"},
		{"/?tab=1", "home"},
		{"/transfer", "transfer"},
		{"/transfer/", "transfer"},
		{"/funds/detail?code=000001#nav", "funds/detail"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := PageKey(tt.path); got != tt.want {
				t.Errorf("PageKey(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	clk := clock.NewFake(testStart)
	page := PageLocatorFunc(func() (string, string) { return "/transfer?step=2", "https://bank.example/" })
	env := func() models.Context { return models.Context{Language: "zh-CN"} }
	n := NewNormalizer(clk, page, env)

	user := "u-42"
	data := map[string]any{"amount": 10}
	e := n.Normalize(models.Custom{Type: models.EventInput, Data: data}, "sess_1", &user)

	if e.EventID == "" {
		t.Error("Expected an event id")
	}
	if e.EventType != models.EventInput || e.SessionID != "sess_1" {
		t.Errorf("envelope = %+v", e)
	}
	if e.Timestamp != testStart.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", e.Timestamp, testStart.UnixMilli())
	}
	if e.Page != "transfer" || e.PageURL != "/transfer?step=2" {
		t.Errorf("Page = %q, PageURL = %q", e.Page, e.PageURL)
	}
	if e.Referrer == nil || *e.Referrer != "https://bank.example/" {
		t.Errorf("Referrer = %v", e.Referrer)
	}
	if e.Context.Language != "zh-CN" {
		t.Errorf("Context = %+v", e.Context)
	}

	data["amount"] = 99
	user = "someone-else"
	if e.Payload["amount"] != 10 {
		t.Error("payload shares the caller's map")
	}
	if *e.UserID != "u-42" {
		t.Error("user id shares the caller's pointer")
	}

	if other := n.Normalize(models.Click{}, "sess_1", nil); other.EventID == e.EventID {
		t.Error("event ids must be unique")
	}
}

func TestNormalizeWithoutLocator(t *testing.T) {
	n := NewNormalizer(nil, nil, nil)
	e := n.Normalize(models.Heartbeat{IdleTime: 5}, "s", nil)

	if e.Page != "home" || e.PageURL != "/" {
		t.Errorf("Page = %q, PageURL = %q", e.Page, e.PageURL)
	}
	if e.UserID != nil || e.Referrer != nil {
		t.Error("Expected null user id and referrer")
	}
	if e.Context.UserAgent == "" {
		t.Error("Expected the default environment")
	}
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		eventType models.EventType
		explicit  bool
		want      Route
	}{
		{models.EventTransferSubmit, false, Realtime},
		{models.EventFundView, false, Realtime},
		{models.EventNewsRead, false, Realtime},
		{models.EventAIMessage, false, Realtime},
		{models.EventRequestBillAnalysis, false, Realtime},
		{models.EventRequestTransferAnalysis, false, Realtime},
		{models.EventClick, false, Batched},
		{models.EventHeartbeat, false, Batched},
		{models.EventClick, true, Realtime},
	}

	for _, tt := range tests {
		if got := RouteFor(tt.eventType, tt.explicit); got != tt.want {
			t.Errorf("RouteFor(%s, %v) = %s, want %s", tt.eventType, tt.explicit, got, tt.want)
		}
	}
}

func TestQueue(t *testing.T) {
	q := NewQueue(3)
	if evicted := q.Push(events("a", "b")...); evicted != 0 {
		t.Errorf("evicted = %d, want 0", evicted)
	}
	if evicted := q.Push(events("c", "d", "e")...); evicted != 2 {
		t.Errorf("evicted = %d, want 2", evicted)
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	got := q.Take(2)
	if len(got) != 2 || got[0].EventID != "c" || got[1].EventID != "d" {
		t.Errorf("Take(2) = %v", got)
	}
	if rest := q.Take(10); len(rest) != 1 || rest[0].EventID != "e" {
		t.Errorf("Take(10) = %v", rest)
	}
	if q.Take(1) != nil {
		t.Error("Take on an empty queue should return nil")
	}
}
