package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "test@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.from.Name != defaultFromName {
		t.Errorf("expected default from name %q, got %q", defaultFromName, sender.from.Name)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{client: nil}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test",
		Body:    "Test body",
	})
	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test Subject",
		Body:    "Test body",
	})
	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	sender := newSESSender(fake, SESConfig{FromEmail: "codes@clinic.test"}, nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "patient@example.com",
		Subject: "Your code",
		Body:    "123456",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if got := aws.ToString(fake.input.FromEmailAddress); got != defaultFromName+" <codes@clinic.test>" {
		t.Errorf("unexpected from address %q", got)
	}
	if got := fake.input.Destination.ToAddresses; len(got) != 1 || got[0] != "patient@example.com" {
		t.Errorf("unexpected destination %v", got)
	}
	if fake.input.Content.Simple.Body.Text == nil || aws.ToString(fake.input.Content.Simple.Body.Text.Data) != "123456" {
		t.Error("expected text body to be set")
	}
	if fake.input.Content.Simple.Body.Html != nil {
		t.Error("expected no html body")
	}
	if fake.input.ConfigurationSetName != nil {
		t.Error("expected no configuration set")
	}
}

func TestSESSender_ConfigurationSet(t *testing.T) {
	fake := &fakeSES{}
	sender := newSESSender(fake, SESConfig{FromEmail: "codes@clinic.test", FromName: "Glow", ConfigurationSet: "codes"}, nil)

	if err := sender.Send(context.Background(), EmailMessage{To: "patient@example.com", Subject: "s", HTML: "<b>1</b>"}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if got := aws.ToString(fake.input.ConfigurationSetName); got != "codes" {
		t.Errorf("unexpected configuration set %q", got)
	}
	if got := aws.ToString(fake.input.FromEmailAddress); got != "Glow <codes@clinic.test>" {
		t.Errorf("unexpected from address %q", got)
	}
	if fake.input.Content.Simple.Body.Html == nil || fake.input.Content.Simple.Body.Text != nil {
		t.Error("expected html only body")
	}
}

func TestSESSender_SendError(t *testing.T) {
	boom := errors.New("throttled")
	sender := newSESSender(&fakeSES{err: boom}, SESConfig{FromEmail: "codes@clinic.test"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "patient@example.com", Body: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped SES error, got %v", err)
	}
}

func TestNewSESSender_NilClient(t *testing.T) {
	if NewSESSender(nil, SESConfig{}, nil) != nil {
		t.Error("expected nil sender without client")
	}
}
