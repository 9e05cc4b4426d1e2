package service

import (
	"context"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ContactRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Phone   string `json:"phone,omitempty" validate:"max=50"`
	Subject string `json:"subject,omitempty" validate:"max=200"`
	Message string `json:"message" validate:"required,max=5000"`
	Website string `json:"website,omitempty"`
}

// ContactService forwards contact and quote form messages to the notification service
type ContactService struct {
	notifier Notifier
	logger   *zap.Logger
}

func NewContactService(notifier Notifier) *ContactService {
	return &ContactService{notifier: notifier, logger: util.GetLogger()}
}

// Submit validates the message and queues it. The returned id identifies the
// message in notification logs.
func (s *ContactService) Submit(ctx context.Context, req *ContactRequest) (string, error) {
	_, span := util.StartSpan(ctx, "ContactService.Submit")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return "", err
	}

	id := uuid.NewString()
	queued := s.notifier.Enqueue(&models.ContactMessageEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeContactMessage),
		ContactID: id,
		Customer:  models.Recipient{Name: req.Name, Email: req.Email, Phone: req.Phone},
		Subject:   req.Subject,
		Message:   req.Message,
	})
	s.logger.Info("Contact message received", zap.String("contact_id", id), zap.Bool("queued", queued))
	return id, nil
}
