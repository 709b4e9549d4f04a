// Package notification records job lifecycle events for polling clients.
package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rnednur/felix-sub000/internal/models"
	"github.com/rnednur/felix-sub000/internal/repository"
	"github.com/rs/zerolog"
)

type Event struct {
	JobID    string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyResearchStarted(ctx context.Context, jobID, question string)
	NotifyResearchCompleted(ctx context.Context, jobID, question string, answered, total int)
	NotifyResearchFailed(ctx context.Context, jobID, question, reason string)
	NotifyResearchCancelled(ctx context.Context, jobID, question string)
	ListRecent(ctx context.Context, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) error
}

type service struct {
	repo   repository.NotificationRepository
	logger zerolog.Logger
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger) Service {
	return &service{
		repo:   repo,
		logger: logger.With().Str("component", "notification_service").Logger(),
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}
	notif, err := s.repo.Create(ctx, models.Notification{
		ID:        uuid.NewString(),
		JobID:     evt.JobID,
		EventType: evt.Event,
		Severity:  evt.Severity,
		Title:     title,
		Message:   strings.TrimSpace(evt.Message),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	return notif, nil
}

// The Notify helpers are fire-and-forget: a notification failure must
// never change the outcome of the job it describes.

func (s *service) NotifyResearchStarted(ctx context.Context, jobID, question string) {
	s.publishQuiet(ctx, Event{
		JobID:   jobID,
		Event:   models.NotificationEventResearchStarted,
		Title:   "Research started",
		Message: question,
	})
}

func (s *service) NotifyResearchCompleted(ctx context.Context, jobID, question string, answered, total int) {
	s.publishQuiet(ctx, Event{
		JobID:   jobID,
		Event:   models.NotificationEventResearchCompleted,
		Title:   "Research completed",
		Message: fmt.Sprintf("%s (answered %d of %d sub-questions)", question, answered, total),
	})
}

func (s *service) NotifyResearchFailed(ctx context.Context, jobID, question, reason string) {
	s.publishQuiet(ctx, Event{
		JobID:    jobID,
		Event:    models.NotificationEventResearchFailed,
		Severity: models.NotificationSeverityError,
		Title:    "Research failed",
		Message:  fmt.Sprintf("%s: %s", question, reason),
	})
}

func (s *service) NotifyResearchCancelled(ctx context.Context, jobID, question string) {
	s.publishQuiet(ctx, Event{
		JobID:   jobID,
		Event:   models.NotificationEventResearchCancelled,
		Title:   "Research cancelled",
		Message: question,
	})
}

func (s *service) publishQuiet(ctx context.Context, evt Event) {
	if _, err := s.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("job_id", evt.JobID).Msg("notification dropped")
	}
}

func (s *service) ListRecent(ctx context.Context, unreadOnly bool, limit int) ([]models.Notification, error) {
	return s.repo.List(ctx, unreadOnly, limit)
}

func (s *service) MarkRead(ctx context.Context, notificationID string) error {
	return s.repo.MarkRead(ctx, notificationID)
}
