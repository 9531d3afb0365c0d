package models

// Payload is one variant of the tracked-event union. Each variant names its
// event type and flattens itself into the envelope's payload map; the map
// keys of sensitive fields are the ones the sensitivity policy matches on.
type Payload interface {
	EventType() EventType
	Fields() map[string]any
}

type PageView struct {
	Page      string
	Referrer  string
	EntryTime int64
	Extra     map[string]any
}

func (PageView) EventType() EventType { return EventPageView }

func (p PageView) Fields() map[string]any {
	f := merge(p.Extra, map[string]any{"page": p.Page, "entry_time": p.EntryTime})
	if p.Referrer != "" {
		f["referrer"] = p.Referrer
	}
	return f
}

type PageLeave struct {
	Page      string
	Duration  int64 // ms spent on the page
	LeaveTime int64
}

func (PageLeave) EventType() EventType { return EventPageLeave }

func (p PageLeave) Fields() map[string]any {
	return map[string]any{"page": p.Page, "duration": p.Duration, "leave_time": p.LeaveTime}
}

// Visibility is page_blur when Hidden, page_focus otherwise.
type Visibility struct {
	Hidden bool
}

func (v Visibility) EventType() EventType {
	if v.Hidden {
		return EventPageBlur
	}
	return EventPageFocus
}

func (Visibility) Fields() map[string]any { return map[string]any{} }

type Heartbeat struct {
	IdleTime int64 // ms
}

func (Heartbeat) EventType() EventType { return EventHeartbeat }

func (h Heartbeat) Fields() map[string]any {
	return map[string]any{"idle_time": h.IdleTime}
}

type Click struct {
	ElementID   string
	ElementType string
	ElementText string
	Extra       map[string]any
}

func (Click) EventType() EventType { return EventClick }

func (c Click) Fields() map[string]any {
	f := merge(c.Extra, map[string]any{"element_id": c.ElementID, "element_text": truncate(c.ElementText, 50)})
	if c.ElementType != "" {
		f["element_type"] = c.ElementType
	}
	return f
}

type FundView struct {
	FundCode string
	FundName string
	Extra    map[string]any
}

func (FundView) EventType() EventType { return EventFundView }

func (f FundView) Fields() map[string]any {
	return merge(f.Extra, map[string]any{"fund_code": f.FundCode, "fund_name": f.FundName})
}

type NewsRead struct {
	NewsID   string
	Title    string
	Category string
}

func (NewsRead) EventType() EventType { return EventNewsRead }

func (n NewsRead) Fields() map[string]any {
	return map[string]any{"news_id": n.NewsID, "title": n.Title, "category": n.Category}
}

type TransferSubmit struct {
	CardNumber     string  // masked
	PayeeName      string
	TransferAmount float64
	Extra          map[string]any
}

func (TransferSubmit) EventType() EventType { return EventTransferSubmit }

func (t TransferSubmit) Fields() map[string]any {
	return merge(t.Extra, map[string]any{
		"cardNumber":      t.CardNumber,
		"payee_name":      t.PayeeName,
		"transfer_amount": t.TransferAmount,
	})
}

// Custom carries any event type without a dedicated variant.
type Custom struct {
	Type EventType
	Data map[string]any
}

func (c Custom) EventType() EventType { return c.Type }

func (c Custom) Fields() map[string]any { return merge(c.Data, nil) }

// merge copies extra then overlays fixed; fixed keys win.
func merge(extra, fixed map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+len(fixed))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range fixed {
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
