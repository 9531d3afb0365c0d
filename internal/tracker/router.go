package tracker

import "github.com/vincentbai/behaviortrace/internal/models"

type Route int

const (
	Batched Route = iota
	Realtime
)

func (r Route) String() string {
	if r == Realtime {
		return "realtime"
	}
	return "batched"
}

// realtimeEvents are submissions and read confirmations that skip the queue.
var realtimeEvents = map[models.EventType]bool{
	models.EventTransferSubmit:          true,
	models.EventFundView:                true,
	models.EventNewsRead:                true,
	models.EventAIMessage:               true,
	models.EventRequestBillAnalysis:     true,
	models.EventRequestTransferAnalysis: true,
}

// RouteFor decides how an event is delivered. An explicit realtime request
// always wins.
func RouteFor(t models.EventType, explicitRealtime bool) Route {
	if explicitRealtime || realtimeEvents[t] {
		return Realtime
	}
	return Batched
}
