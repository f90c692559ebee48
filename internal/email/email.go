// Package email sends invitation emails through Amazon SES.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// Mailer sends family invitation emails. When no from-address is configured
// the mailer runs disabled: sends become logged no-ops, so local development
// and tests never need AWS credentials.
type Mailer struct {
	client    *sesv2.Client
	fromEmail string
	fromName  string
	enabled   bool
	logger    *slog.Logger
}

// NewMailer creates a Mailer. Pass an empty fromEmail to get a disabled one.
func NewMailer(ctx context.Context, awsRegion, fromEmail, fromName string, logger *slog.Logger) (*Mailer, error) {
	if fromEmail == "" {
		logger.Info("email disabled: SES_FROM_EMAIL not configured")
		return &Mailer{enabled: false, logger: logger}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(awsRegion))
	if err != nil {
		return nil, fmt.Errorf("email: loading AWS config: %w", err)
	}

	logger.Info("email enabled",
		slog.String("from", fromEmail),
		slog.String("region", awsRegion),
	)
	return &Mailer{
		client:    sesv2.NewFromConfig(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
		enabled:   true,
		logger:    logger,
	}, nil
}

// Enabled reports whether sends actually go out.
func (m *Mailer) Enabled() bool {
	return m.enabled
}

// SendFamilyInvite emails an invitation link for joining a family.
func (m *Mailer) SendFamilyInvite(ctx context.Context, toEmail, inviterName, familyName, inviteLink string) error {
	if !m.enabled {
		m.logger.Info("skipping invite email (email disabled)",
			slog.String("to", toEmail),
			slog.String("family", familyName),
		)
		return nil
	}

	subject := fmt.Sprintf("%s invited you to join %s on Memora", inviterName, familyName)
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h2>You're invited to %s</h2>
		<p>%s is preserving their family's stories on Memora and wants you to be part of it.</p>
		<p><a href="%s" style="display: inline-block; padding: 12px 30px; background-color: #7c5cbf; color: white; text-decoration: none; border-radius: 5px;">Join the family</a></p>
		<p style="font-size: 12px; color: #666;">The link expires in 7 days. If you weren't expecting this invitation, you can ignore this email.</p>
	</div>
</body>
</html>`, familyName, inviterName, inviteLink)
	textBody := fmt.Sprintf(
		"%s invited you to join %s on Memora.\n\nJoin here (link expires in 7 days): %s\n",
		inviterName, familyName, inviteLink,
	)

	_, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail)),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody)},
					Text: &types.Content{Data: aws.String(textBody)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("email: sending invite to %s: %w", toEmail, err)
	}

	m.logger.Info("invite email sent", slog.String("to", toEmail))
	return nil
}
