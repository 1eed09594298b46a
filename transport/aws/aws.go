// Package aws provides the AWS SNS/SQS transport. Each topic maps to an SNS
// topic with an SQS queue of the same name subscribed to it; the reply hint
// travels as a message attribute.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/replybridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	Register()
}

// Register registers the AWS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// target is everything both sides need to reach SNS and SQS.
type target struct {
	awsCfg    aws.Config
	accountID string
	region    string
	endpoint  *url.URL
}

// Build creates a new AWS SNS/SQS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	tgt, err := resolveTarget(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	logger.Info("Resolved AWS target", watermill.LogFields{
		"account_id":      tgt.accountID,
		"region":          tgt.region,
		"custom_endpoint": tgt.endpoint != nil,
	})

	topicResolver, err := TopicResolverFactory(tgt.accountID, tgt.region)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create sns topic resolver: %w", err)
	}

	publisher, err := PublisherFactory(sns.PublisherConfig{
		TopicResolver: topicResolver,
		AWSConfig:     tgt.awsCfg,
		OptFns:        tgt.snsOptions(),
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		sns.SubscriberConfig{
			AWSConfig:            tgt.awsCfg,
			OptFns:               tgt.snsOptions(),
			TopicResolver:        topicResolver,
			GenerateSqsQueueName: queueNameFromTopic,
		},
		sqs.SubscriberConfig{
			AWSConfig: tgt.awsCfg,
			OptFns:    tgt.sqsOptions(),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

func resolveTarget(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (target, error) {
	endpoint, err := parseEndpoint(cfg.GetAWSEndpoint())
	if err != nil {
		return target{}, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region := cfg.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		logger.Debug("Using static AWS credentials from config", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(key, secret)))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return target{}, fmt.Errorf("load aws config: %w", err)
	}
	if region := cfg.GetAWSRegion(); region != "" {
		awsCfg.Region = region
	}

	return target{
		awsCfg:    awsCfg,
		accountID: resolveAccountID(cfg.GetAWSAccountID(), endpoint != nil, logger),
		region:    awsCfg.Region,
		endpoint:  endpoint,
	}, nil
}

// resolveAccountID falls back to the LocalStack account when a custom
// endpoint is configured and the account id is missing or malformed.
func resolveAccountID(raw string, customEndpoint bool, logger watermill.LoggerAdapter) string {
	accountID := strings.Trim(raw, "\"' ")
	if !customEndpoint {
		return accountID
	}
	if len(accountID) != awsAccountIDLength {
		logger.Info("Using LocalStack account id", watermill.LogFields{"configured": accountID})
		return localstackAccountID
	}
	return accountID
}

func parseEndpoint(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse aws endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("aws endpoint %q must be an absolute url", raw)
	}
	return u, nil
}

func (t target) snsOptions() []func(*amazonsns.Options) {
	if t.endpoint == nil {
		return nil
	}
	return []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *t.endpoint},
		}),
	}
}

func (t target) sqsOptions() []func(*amazonsqs.Options) {
	if t.endpoint == nil {
		return nil
	}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *t.endpoint},
		}),
	}
}

func queueNameFromTopic(ctx context.Context, topicArn sns.TopicArn) (string, error) {
	topic, err := sns.ExtractTopicNameFromTopicArn(topicArn)
	if err != nil {
		return "", err
	}
	return string(topic), nil
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			Source:          "replybridge-config",
		}, nil
	})
}
