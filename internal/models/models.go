package models

type EventType string

const (
	// page lifecycle
	EventPageView  EventType = "page_view"
	EventPageLeave EventType = "page_leave"
	EventPageFocus EventType = "page_focus"
	EventPageBlur  EventType = "page_blur"
	EventHeartbeat EventType = "heartbeat"

	// generic interaction
	EventClick  EventType = "click"
	EventInput  EventType = "input"
	EventScroll EventType = "scroll"

	// funds
	EventFundSearch EventType = "fund_search"
	EventFundView   EventType = "fund_view"
	EventFundFilter EventType = "fund_filter"
	EventFundSort   EventType = "fund_sort"

	// news
	EventNewsSearch   EventType = "news_search"
	EventNewsRead     EventType = "news_read"
	EventNewsCategory EventType = "news_category"

	// transfers
	EventTransferStart  EventType = "transfer_start"
	EventTransferInput  EventType = "transfer_input"
	EventTransferSelect EventType = "transfer_select"
	EventTransferSubmit EventType = "transfer_submit"

	// bills
	EventBillView   EventType = "bill_view"
	EventBillFilter EventType = "bill_filter"

	// assistant
	EventAIOpen       EventType = "ai_open"
	EventAIMessage    EventType = "ai_message"
	EventAISuggestion EventType = "ai_suggestion"

	// explicit analysis requests
	EventRequestBillAnalysis     EventType = "request_bill_analysis"
	EventRequestTransferAnalysis EventType = "request_transfer_analysis"
)

var eventTypes = map[EventType]bool{
	EventPageView: true, EventPageLeave: true, EventPageFocus: true, EventPageBlur: true, EventHeartbeat: true,
	EventClick: true, EventInput: true, EventScroll: true,
	EventFundSearch: true, EventFundView: true, EventFundFilter: true, EventFundSort: true,
	EventNewsSearch: true, EventNewsRead: true, EventNewsCategory: true,
	EventTransferStart: true, EventTransferInput: true, EventTransferSelect: true, EventTransferSubmit: true,
	EventBillView: true, EventBillFilter: true,
	EventAIOpen: true, EventAIMessage: true, EventAISuggestion: true,
	EventRequestBillAnalysis: true, EventRequestTransferAnalysis: true,
}

// Valid reports whether t is a member of the closed event enumeration.
func (t EventType) Valid() bool {
	return eventTypes[t]
}

// EventTypes returns every known event type.
func EventTypes() []EventType {
	out := make([]EventType, 0, len(eventTypes))
	for t := range eventTypes {
		out = append(out, t)
	}
	return out
}

type Context struct {
	ScreenWidth    int    `json:"screen_width"`
	ScreenHeight   int    `json:"screen_height"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
	UserAgent      string `json:"user_agent"`
	Language       string `json:"language"`
	Timezone       string `json:"timezone"`
	Platform       string `json:"platform"`
}

// Envelope is the canonical shape of one tracked event. Envelopes that leave
// the process have been through policy.Sanitize exactly once.
type Envelope struct {
	EventID   string         `json:"event_id"`
	EventType EventType      `json:"event_type"`
	Timestamp int64          `json:"timestamp"` // client capture time, unix ms
	UserID    *string        `json:"user_id"`   // nullable
	SessionID string         `json:"session_id"`
	Page      string         `json:"page"`
	PageURL   string         `json:"page_url"`
	Referrer  *string        `json:"referrer"` // nullable
	Payload   map[string]any `json:"payload"`
	Context   Context        `json:"context"`
}

type SessionRecord struct {
	SessionID      string `json:"session_id"`
	CreatedAt      int64  `json:"created_at"`
	LastActivityAt int64  `json:"last_activity_at"`
}

// PersistedBatch is the durable form of a failed delivery. Attempt counters
// are deliberately absent.
type PersistedBatch struct {
	BatchID string     `json:"batch_id"`
	Events  []Envelope `json:"events"`
}
