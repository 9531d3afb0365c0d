package tracker

import (
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vincentbai/behaviortrace/internal/clock"
	"github.com/vincentbai/behaviortrace/internal/models"
)

const homePage = "home"

// PageLocator reports the current navigation location.
type PageLocator interface {
	Location() (path, referrer string)
}

// PageLocatorFunc adapts a function to PageLocator.
type PageLocatorFunc func() (path, referrer string)

func (f PageLocatorFunc) Location() (string, string) { return f() }

// EnvironmentProbe snapshots the client environment for the envelope context.
type EnvironmentProbe func() models.Context

// Normalizer builds envelopes. It never fails: missing collaborators resolve
// to defaults.
type Normalizer struct {
	clock clock.Clock
	page  PageLocator
	env   EnvironmentProbe
}

func NewNormalizer(clk clock.Clock, page PageLocator, env EnvironmentProbe) *Normalizer {
	if clk == nil {
		clk = clock.Real{}
	}
	if env == nil {
		env = DefaultEnvironment
	}
	return &Normalizer{clock: clk, page: page, env: env}
}

// Normalize wraps p in a new envelope. p's field map is copied, never shared.
func (n *Normalizer) Normalize(p models.Payload, sessionID string, userID *string) models.Envelope {
	path, referrer := "", ""
	if n.page != nil {
		path, referrer = n.page.Location()
	}

	env := models.Envelope{
		EventID:   uuid.NewString(),
		EventType: p.EventType(),
		Timestamp: n.clock.Now().UnixMilli(),
		SessionID: sessionID,
		Page:      PageKey(path),
		PageURL:   path,
		Payload:   map[string]any{},
		Context:   n.env(),
	}
	if env.PageURL == "" {
		env.PageURL = "/"
	}
	if userID != nil {
		u := *userID
		env.UserID = &u
	}
	if referrer != "" {
		env.Referrer = &referrer
	}
	for k, v := range p.Fields() {
		env.Payload[k] = v
	}
	return env
}

// PageKey maps a location path to its logical page key.
func PageKey(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "/" || path == "/index.html" {
		return homePage
	}
	key := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/")
	if key == "" {
		return homePage
	}
	return key
}

// DefaultEnvironment describes the host process when no richer probe exists.
func DefaultEnvironment() models.Context {
	return models.Context{
		UserAgent: "behaviortrace/" + models.ProtocolVersion,
		Language:  "en-US",
		Timezone:  time.Local.String(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
