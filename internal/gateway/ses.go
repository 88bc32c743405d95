package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/campaign-engine/internal/domain"
)

// SESGateway dispatches email through Amazon SESv2. Non-email channels are
// rejected as permanent failures; deployments that mix channels layer this
// behind a channel router.
type SESGateway struct {
	client *sesv2.Client
}

// NewSESGateway builds an SESv2-backed gateway for the given region.
func NewSESGateway(ctx context.Context, region string) (*SESGateway, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESGateway{client: sesv2.NewFromConfig(cfg)}, nil
}

// NewSESGatewayFromClient wraps an existing client (used in tests).
func NewSESGatewayFromClient(client *sesv2.Client) *SESGateway {
	return &SESGateway{client: client}
}

// Send performs a single SES send attempt.
func (g *SESGateway) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Channel != domain.CampaignEmail {
		return nil, Permanent(fmt.Errorf("ses gateway cannot dispatch channel %s", req.Channel))
	}

	from := req.From
	if req.FromName != "" {
		from = fmt.Sprintf("%s <%s>", req.FromName, req.From)
	}

	out, err := g.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{req.Recipient},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(req.Subject)},
				Body: &sestypes.Body{
					Html: &sestypes.Content{Data: aws.String(req.Content)},
				},
			},
		},
	})
	if err != nil {
		return nil, classifySESError(err)
	}

	return &SendResult{DeliveryID: aws.ToString(out.MessageId)}, nil
}

// classifySESError sorts SES failures into the retry taxonomy. Rejections
// and account-level refusals are permanent; throttles and everything else
// from the service side retry.
func classifySESError(err error) error {
	var rejected *sestypes.MessageRejected
	if errors.As(err, &rejected) {
		return Permanent(err)
	}
	var suspended *sestypes.SendingPausedException
	if errors.As(err, &suspended) {
		return Permanent(err)
	}
	var badRequest *sestypes.BadRequestException
	if errors.As(err, &badRequest) {
		return Permanent(err)
	}
	return Transient(err)
}
