package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// s3Sink stores each change event as its own JSON object under
// <prefix><model>/<event id>.json.
type s3Sink struct {
	ctx    context.Context
	logger logger.Logger
	bucket string
	prefix string
	s3     *awss3.Client
}

var _ internal.Sink = (*s3Sink)(nil)
var _ internal.SinkHelp = (*s3Sink)(nil)

// getBucketInfo splits a sink url into an endpoint-override host, the bucket
// and a normalized key prefix. s3://bucket uses the default AWS endpoint
// while s3://host:port/bucket/prefix overrides it (minio, localstack).
func getBucketInfo(u *url.URL) (string, string, string) {
	if u.Path == "" {
		return "", u.Host, ""
	}
	bucket := u.Path[1:] // trim off the forward slash
	var prefix string
	if tok := strings.SplitN(bucket, "/", 2); len(tok) > 1 {
		bucket = tok[0]
		prefix = tok[1]
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
	}
	return u.Host, bucket, prefix
}

// Start the sink. This is called once at the beginning of the sink's lifecycle.
func (p *s3Sink) Start(config internal.SinkConfig) error {
	p.ctx = config.Context
	p.logger = config.Logger.WithPrefix("[s3]")

	u, err := url.Parse(config.URL)
	if err != nil {
		return fmt.Errorf("unable to parse url: %w", err)
	}

	var host string
	host, p.bucket, p.prefix = getBucketInfo(u)

	region := os.Getenv("AWS_REGION")
	if u.Query().Get("region") != "" {
		region = u.Query().Get("region")
	} else if region == "" {
		region = "us-west-2"
	}

	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if host != "" {
			endpoint := "https://" + host
			if util.IsLocalhost(host) {
				endpoint = "http://" + host
			}
			return aws.Endpoint{
				PartitionID:   "aws",
				URL:           endpoint,
				SigningRegion: region,
				SigningMethod: "v4",
			}, nil
		}
		// returning EndpointNotFoundError will allow the service to fallback to its default resolution
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
	}
	if id := u.Query().Get("access-key-id"); id != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, u.Query().Get("secret-access-key"), ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(config.Context, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	p.s3 = awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.UsePathStyle = true
	})

	return nil
}

// Process stores the event immediately; there is nothing to batch.
func (p *s3Sink) Process(event internal.ChangeEvent) (bool, error) {
	key := fmt.Sprintf("%s%s/%s.json", p.prefix, event.Model, event.ID)
	buf := []byte(util.JSONStringify(event))
	if _, err := p.s3.PutObject(p.ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String("application/json"),
		Body:          bytes.NewReader(buf),
		ContentLength: aws.Int64(int64(len(buf))),
	}); err != nil {
		return false, fmt.Errorf("error storing s3 object to %s:%s: %w", p.bucket, key, err)
	}
	p.logger.Trace("stored %s:%s", p.bucket, key)
	return false, nil
}

// Flush is a no-op since every event is stored on Process.
func (p *s3Sink) Flush() error {
	return nil
}

// Stop the sink. This is called once at the end of the sink's lifecycle.
func (p *s3Sink) Stop() error {
	return nil
}

// Name is a unique name for the sink.
func (p *s3Sink) Name() string {
	return "AWS S3"
}

// Description is the description of the sink.
func (p *s3Sink) Description() string {
	return "Stores change events in an AWS S3 compatible bucket, one object per event."
}

// ExampleURL should return an example URL for configuring the sink.
func (p *s3Sink) ExampleURL() string {
	return "s3://bucket/folder"
}

// Help should return detailed help documentation for the sink.
func (p *s3Sink) Help() string {
	var help strings.Builder
	help.WriteString(util.GenerateHelpSection("AWS", "If using AWS, no special configuration is required and you can use the standard AWS environment variables to configure the access key, secret and region.\n"))
	help.WriteString("\n")
	help.WriteString(util.GenerateHelpSection("Minio", "To use minio, provide the host in the url along with static credentials:\ns3://localhost:9000/bucket?access-key-id=minioadmin&secret-access-key=minioadmin.\n"))
	help.WriteString("\n")
	help.WriteString(util.GenerateHelpSection("LocalStack", "To use localstack for testing, use the following url pattern: s3://localhost:4566/bucket.\n"))
	return help.String()
}

func init() {
	internal.RegisterSink("s3", &s3Sink{})
}
