package sns

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, in)
	if out, _ := args.Get(0).(*sns.PublishOutput); out != nil {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestSendSMS_PublishesE164Number(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return aws.ToString(in.PhoneNumber) == "+919998887776" &&
			aws.ToString(in.Message) == "Your OTP is 123456. It is valid for 3 minutes." &&
			aws.ToString(in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue) == "ACME" &&
			aws.ToString(in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue) == "Transactional"
	})).Return(&sns.PublishOutput{MessageId: aws.String("m1")}, nil)

	s := newSender(pub, "+91", "ACME")
	err := s.SendSMS(context.Background(), "9998887776", "Your OTP is 123456. It is valid for 3 minutes.")

	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestSendSMS_NoSenderIDAttributeWhenUnset(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		_, ok := in.MessageAttributes["AWS.SNS.SMS.SenderID"]
		return !ok
	})).Return(&sns.PublishOutput{}, nil)

	require.NoError(t, newSender(pub, "+91", "").SendSMS(context.Background(), "9998887776", "hi"))
	pub.AssertExpectations(t)
}

func TestSendSMS_PublishError(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	err := newSender(pub, "+91", "").SendSMS(context.Background(), "9998887776", "hi")
	assert.ErrorContains(t, err, "publish sms: throttled")
}

func TestSendSMS_APIErrorCodeInMessage(t *testing.T) {
	pub := &mockPublisher{}
	apiErr := &smithy.GenericAPIError{Code: "InvalidParameter", Message: "bad number"}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil, apiErr)

	err := newSender(pub, "+91", "").SendSMS(context.Background(), "123", "hi")
	assert.ErrorContains(t, err, "publish sms (InvalidParameter)")
	assert.ErrorIs(t, err, apiErr)
}

func TestToE164(t *testing.T) {
	assert.Equal(t, "+919998887776", toE164("+91", "9998887776"))
	assert.Equal(t, "+15551234567", toE164("+91", "+15551234567"))
}
