package webmention

import (
	"context"

	"github.com/davecheney/mention/models"
)

// Hooks are the lifecycle events the host reports to the Service.
type Hooks interface {
	// OnPublished is called when an item is published or updated while
	// published.
	OnPublished(ctx context.Context, item *models.Item) error
	// OnTrashed is called when an item is moved to the trash.
	OnTrashed(ctx context.Context, item *models.Item) error
	// OnAnnotationCreated is called after an annotation is stored.
	OnAnnotationCreated(ctx context.Context, annotation *models.Annotation) error
	// OnAnnotationApproved is called when an annotation is approved.
	OnAnnotationApproved(ctx context.Context, annotation *models.Annotation) error
	// OnQueueSweepDue is called on the interval of the verification sweep.
	OnQueueSweepDue(ctx context.Context) error
}

var _ Hooks = (*Service)(nil)

func (s *Service) OnPublished(ctx context.Context, item *models.Item) error {
	_, err := s.ScheduleDelivery(ctx, item.Owner())
	return err
}

// OnTrashed sends again to every target the item was sent to so that
// receivers see the item is gone.
func (s *Service) OnTrashed(ctx context.Context, item *models.Item) error {
	_, err := s.Reschedule(ctx, item.Owner())
	return err
}

// OnAnnotationCreated schedules delivery for approved annotations.
// Unapproved annotations wait for OnAnnotationApproved.
func (s *Service) OnAnnotationCreated(ctx context.Context, annotation *models.Annotation) error {
	if !annotation.Approved {
		return nil
	}
	_, err := s.ScheduleDelivery(ctx, annotation.Owner())
	return err
}

func (s *Service) OnAnnotationApproved(ctx context.Context, annotation *models.Annotation) error {
	_, err := s.ScheduleDelivery(ctx, annotation.Owner())
	return err
}

func (s *Service) OnQueueSweepDue(ctx context.Context) error {
	_, err := s.Verify(ctx)
	return err
}
