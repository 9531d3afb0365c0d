package server

import (
	"context"
	"time"

	"github.com/vincentbai/behaviortrace/internal/database"
	"github.com/vincentbai/behaviortrace/internal/models"
)

// Suggester produces the directive returned alongside a stored batch. A nil
// suggestion means nothing to show.
type Suggester interface {
	Suggest(ctx context.Context, userID string) (*models.Suggestion, error)
}

type SuggesterFunc func(ctx context.Context, userID string) (*models.Suggestion, error)

func (f SuggesterFunc) Suggest(ctx context.Context, userID string) (*models.Suggestion, error) {
	return f(ctx, userID)
}

const (
	historyWindow = 7 * 24 * time.Hour
	historyLimit  = 200
)

var welcomeSuggestion = models.Suggestion{
	Command:    "bubble",
	Suggestion: "Welcome back! Take a look at today's popular funds to get a feel for the market.",
	Confidence: 0.75,
}

// cannedSuggestions rotate by history size. highlight entries are not
// displayable by the client bridge and exercise its command filter.
var cannedSuggestions = []models.Suggestion{
	{Command: "bubble", Suggestion: "Based on your recent browsing, hybrid and bond funds could steady your portfolio.", Confidence: 0.85},
	{Command: "highlight", Suggestion: "You have viewed several tech funds lately; new-energy funds have been performing well.", Confidence: 0.92},
	{Command: "bubble", Suggestion: "Your holdings lean toward equity funds. Consider adding bond funds to balance risk.", Confidence: 0.78},
	{Command: "bubble", Suggestion: "A regular investment plan can smooth out decisions made during market swings.", Confidence: 0.88},
	{Command: "highlight", Suggestion: "A fund you follow has done well recently. Consider adding it to your watch list.", Confidence: 0.90},
}

// HistorySuggester picks a canned suggestion from the size of the user's
// recent event history.
type HistorySuggester struct {
	db  *database.Database
	now func() time.Time
}

func NewHistorySuggester(db *database.Database, now func() time.Time) *HistorySuggester {
	if now == nil {
		now = time.Now
	}
	return &HistorySuggester{db: db, now: now}
}

func (h *HistorySuggester) Suggest(_ context.Context, userID string) (*models.Suggestion, error) {
	since := h.now().Add(-historyWindow).UnixMilli()
	events, err := h.db.RecentUserEvents(userID, since, historyLimit)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		s := welcomeSuggestion
		return &s, nil
	}
	s := cannedSuggestions[len(events)%len(cannedSuggestions)]
	return &s, nil
}
