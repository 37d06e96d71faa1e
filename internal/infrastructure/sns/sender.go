package sns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
	"github.com/go-otp-auth/internal/config"
)

// SMSSender delivers a text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type sender struct {
	client      publisher
	countryCode string
	senderID    string
}

// NewSender returns an SNS-backed sender, or a LogSender when cfg.SMSDryRun is set.
func NewSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (SMSSender, error) {
	if cfg.SMSDryRun {
		return &LogSender{logger: logger.With("component", "sms"), countryCode: cfg.SMSCountryCode}, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SNSRegion),
	}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	})
	return newSender(client, cfg.SMSCountryCode, cfg.SNSSenderID), nil
}

func newSender(client publisher, countryCode, senderID string) *sender {
	return &sender{client: client, countryCode: countryCode, senderID: senderID}
}

func (s *sender) SendSMS(ctx context.Context, to, message string) error {
	in := &sns.PublishInput{
		PhoneNumber: aws.String(toE164(s.countryCode, to)),
		Message:     aws.String(message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
		},
	}
	if s.senderID != "" {
		in.MessageAttributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType: aws.String("String"), StringValue: aws.String(s.senderID),
		}
	}
	if _, err := s.client.Publish(ctx, in); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("publish sms (%s): %w", apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("publish sms: %w", err)
	}
	return nil
}

// LogSender logs messages instead of sending them. Used with SMS_DRY_RUN.
type LogSender struct {
	logger      *slog.Logger
	countryCode string
}

func (s *LogSender) SendSMS(_ context.Context, to, message string) error {
	s.logger.Info("sms (dry run)", "to", toE164(s.countryCode, to), "message", message)
	return nil
}

// toE164 prefixes a national number with countryCode. Numbers that already
// carry a leading '+' are returned unchanged.
func toE164(countryCode, phone string) string {
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return countryCode + phone
}
