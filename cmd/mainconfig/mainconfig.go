// Package mainconfig builds the AWS clients the API and the outbox relay share:
// the DynamoDB ledger, the reconcile and event queues, and SES email.
package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/medspa-booking/internal/config"
)

// localStackKey is accepted by LocalStack for both key id and secret.
const localStackKey = "test"

// AWS is a loaded SDK config plus the optional endpoint every client is pointed at.
type AWS struct {
	Config   aws.Config
	endpoint string
}

// NeedsAWS reports whether the API has a backend that talks to AWS. The relay
// loads AWS only for EVENT_TRANSPORT=sqs.
func NeedsAWS(cfg *appconfig.Config) bool {
	return cfg.LedgerBackend == "dynamodb" || cfg.EmailProvider == "ses" || cfg.ReconcileQueueURL != ""
}

// LoadAWS resolves region and credentials. Static keys win over the default chain;
// with AWS_ENDPOINT_OVERRIDE set and no keys, LocalStack's test keys are used.
func LoadAWS(ctx context.Context, cfg *appconfig.Config) (*AWS, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.AWSEndpointOverride), "/")
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}

	keyID, secret := strings.TrimSpace(cfg.AWSAccessKeyID), strings.TrimSpace(cfg.AWSSecretAccessKey)
	if (keyID == "" || secret == "") && endpoint != "" {
		keyID, secret = localStackKey, localStackKey
	}
	if keyID != "" && secret != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("mainconfig: load aws config: %w", err)
	}
	return &AWS{Config: awsCfg, endpoint: endpoint}, nil
}

func (a *AWS) baseEndpoint() *string {
	if a.endpoint == "" {
		return nil
	}
	return aws.String(a.endpoint)
}

func (a *AWS) DynamoDB() *dynamodb.Client {
	return dynamodb.NewFromConfig(a.Config, func(o *dynamodb.Options) {
		o.BaseEndpoint = a.baseEndpoint()
	})
}

func (a *AWS) SQS() *sqs.Client {
	return sqs.NewFromConfig(a.Config, func(o *sqs.Options) {
		o.BaseEndpoint = a.baseEndpoint()
	})
}

func (a *AWS) SES() *sesv2.Client {
	return sesv2.NewFromConfig(a.Config, func(o *sesv2.Options) {
		o.BaseEndpoint = a.baseEndpoint()
	})
}
