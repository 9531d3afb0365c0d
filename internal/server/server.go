package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vincentbai/behaviortrace/internal/database"
	"github.com/vincentbai/behaviortrace/internal/models"
)

const (
	DefaultMaxEvents = 100
	maxBodyBytes     = 1 << 20
)

// trackSchema checks the shape of a track request. Per-event rules live in
// database.ValidateEvent so one bad event does not reject the batch.
var trackSchema = jsonschema.MustCompileString("track_request.json", `{
  "type": "object",
  "required": ["events"],
  "properties": {
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "event_id":   {"type": "string"},
          "event_type": {"type": "string"},
          "timestamp":  {"type": "integer"},
          "user_id":    {"type": ["string", "null"]},
          "session_id": {"type": ["string", "null"]},
          "referrer":   {"type": ["string", "null"]},
          "payload":    {"type": ["object", "null"]},
          "context":    {"type": ["object", "null"]}
        }
      }
    },
    "meta": {
      "type": "object",
      "properties": {
        "client_time": {"type": "integer"},
        "version":     {"type": "string"}
      }
    }
  }
}`)

type Server struct {
	db        *database.Database
	address   string
	server    *http.Server
	suggester Suggester
	maxEvents int
	logger    *slog.Logger
	registry  *prometheus.Registry
	now       func() time.Time

	requests *prometheus.CounterVec
	received prometheus.Counter
	inserted prometheus.Counter
}

type Option func(*Server)

func WithSuggester(s Suggester) Option      { return func(srv *Server) { srv.suggester = s } }
func WithMaxEvents(n int) Option            { return func(srv *Server) { srv.maxEvents = n } }
func WithLogger(l *slog.Logger) Option      { return func(srv *Server) { srv.logger = l } }
func WithClock(now func() time.Time) Option { return func(srv *Server) { srv.now = now } }

func NewServer(db *database.Database, address string, opts ...Option) *Server {
	s := &Server{
		db:        db,
		address:   address,
		maxEvents: DefaultMaxEvents,
		registry:  prometheus.NewRegistry(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.suggester == nil {
		s.suggester = NewHistorySuggester(db, s.now)
	}

	f := promauto.With(s.registry)
	s.requests = f.NewCounterVec(prometheus.CounterOpts{
		Name: "behaviortrace_collector_requests_total",
		Help: "Track requests by response status",
	}, []string{"status"})
	s.received = f.NewCounter(prometheus.CounterOpts{
		Name: "behaviortrace_collector_events_received_total",
		Help: "Events received in track requests",
	})
	s.inserted = f.NewCounter(prometheus.CounterOpts{
		Name: "behaviortrace_collector_events_inserted_total",
		Help: "Events newly stored",
	})
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleTrack(w http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, request.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	s.logger.Debug("track request", "bytes", humanize.Bytes(uint64(len(body))), "remote", request.RemoteAddr)

	if err := validateShape(body); err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	var batch models.TrackRequest
	if err := json.Unmarshal(body, &batch); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON format")
		return
	}
	if len(batch.Events) == 0 {
		s.fail(w, http.StatusBadRequest, "event list is empty")
		return
	}
	if len(batch.Events) > s.maxEvents {
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("at most %d events per request", s.maxEvents))
		return
	}
	s.received.Add(float64(len(batch.Events)))

	valid := database.FilterValid(batch.Events)
	if len(valid) == 0 {
		s.fail(w, http.StatusBadRequest, "no valid events")
		return
	}

	inserted, err := s.db.InsertEvents(valid)
	if err != nil {
		s.logger.Error("database error", "error", err)
		s.fail(w, http.StatusInternalServerError, "failed to store events")
		return
	}
	s.inserted.Add(float64(inserted))

	result := &models.TrackResult{
		Received:   len(batch.Events),
		Valid:      len(valid),
		Inserted:   inserted,
		ServerTime: s.now().UnixMilli(),
	}
	if userID := firstUserID(valid); userID != "" {
		suggestion, err := s.suggester.Suggest(request.Context(), userID)
		if err != nil {
			s.logger.Warn("suggestion failed", "user_id", userID, "error", err)
		} else {
			result.AISuggestion = suggestion
		}
	}

	s.logger.Info("events stored", "received", result.Received, "valid", result.Valid, "inserted", inserted)
	s.respond(w, http.StatusOK, models.TrackResponse{Success: true, Message: "events recorded", Data: result})
}

// validateShape checks body against trackSchema.
func validateShape(body []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return errors.New("invalid JSON format")
	}
	if err := trackSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			for len(ve.Causes) > 0 {
				ve = ve.Causes[0]
			}
			return fmt.Errorf("invalid request: %s at %q", ve.Message, ve.InstanceLocation)
		}
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func firstUserID(events []models.Envelope) string {
	for _, e := range events {
		if e.UserID != nil && *e.UserID != "" {
			return *e.UserID
		}
	}
	return ""
}

func (s *Server) fail(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, models.TrackResponse{Success: false, Message: message})
}

func (s *Server) respond(w http.ResponseWriter, status int, response models.TrackResponse) {
	s.requests.WithLabelValues(fmt.Sprint(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/api/behavior/track", s.handleTrack)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler { return s.setupRoutes() }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.address,
		Handler:      s.setupRoutes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("collector listening", "address", s.address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownContext, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownContext); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("server exited")
	return nil
}
