// internal/external/notifier.go
package external

import (
	"context"
	"errors"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"corretor-hub/internal/common/aws"
	"corretor-hub/internal/common/config"
	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/models"
)

var (
	errSMSDisabled   = errors.New("sms channel not configured")
	errEmailDisabled = errors.New("email channel not configured")
)

// NotificationSender is the outbound messaging port, used for both
// conversational replies and reminders.
type NotificationSender interface {
	Send(ctx context.Context, tenant *models.Tenant, contact, message string) error
}

// SNSService and SESService mirror the AWS client surface the notifier
// uses, kept narrow for mocking.
type SNSService interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

type SESService interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// AWSNotifier sends SMS through SNS and email through SES, routing on
// the shape of the contact.
type AWSNotifier struct {
	cfg    config.NotificationConfig
	sns    SNSService
	ses    SESService
	logger logger.Logger
}

func NewAWSNotifier(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (*AWSNotifier, error) {
	n := &AWSNotifier{
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
	if cfg.SMS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, commonerrors.NewExternalServiceError("sns", err)
		}
		n.sns = snsClient
	}
	if cfg.Email.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, commonerrors.NewExternalServiceError("ses", err)
		}
		n.ses = sesClient
	}
	return n, nil
}

// NewAWSNotifierWithServices injects preconstructed services, used by
// tests.
func NewAWSNotifierWithServices(cfg config.NotificationConfig, snsSvc SNSService, sesSvc SESService, log logger.Logger) *AWSNotifier {
	return &AWSNotifier{
		cfg:    cfg,
		sns:    snsSvc,
		ses:    sesSvc,
		logger: log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

func (n *AWSNotifier) Send(ctx context.Context, tenant *models.Tenant, contact, message string) error {
	if strings.Contains(contact, "@") {
		return n.sendEmail(ctx, tenant, contact, message)
	}
	return n.sendSMS(ctx, tenant, contact, message)
}

func (n *AWSNotifier) sendSMS(ctx context.Context, tenant *models.Tenant, phone, message string) error {
	if n.sns == nil {
		return commonerrors.NewDeliveryFailedError("sms", errSMSDisabled)
	}
	input := &sns.PublishInput{
		PhoneNumber: awssdk.String(phone),
		Message:     awssdk.String(message),
	}
	out, err := n.sns.Publish(ctx, input)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return commonerrors.NewExternalTimeoutError("sns")
		}
		return commonerrors.NewDeliveryFailedError("sms", err)
	}
	n.logger.Info("sms sent", map[string]interface{}{
		"tenantId":  tenant.ID,
		"messageId": awssdk.ToString(out.MessageId),
	})
	return nil
}

func (n *AWSNotifier) sendEmail(ctx context.Context, tenant *models.Tenant, email, message string) error {
	if n.ses == nil {
		return commonerrors.NewDeliveryFailedError("email", errEmailDisabled)
	}
	input := &ses.SendEmailInput{
		Source: awssdk.String(n.cfg.Email.FromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{email},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: awssdk.String(tenant.Name)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: awssdk.String(message)},
			},
		},
	}
	out, err := n.ses.SendEmail(ctx, input)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return commonerrors.NewExternalTimeoutError("ses")
		}
		return commonerrors.NewDeliveryFailedError("email", err)
	}
	n.logger.Info("email sent", map[string]interface{}{
		"tenantId":  tenant.ID,
		"messageId": awssdk.ToString(out.MessageId),
	})
	return nil
}
