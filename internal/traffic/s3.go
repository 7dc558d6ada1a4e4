package traffic

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"changeguard/internal/domain"
)

var _ domain.TrafficSource = (*S3Source)(nil)

// S3Source reads a JSON lines object from S3-compatible storage.
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Source creates a source for an s3://bucket/key location.
func NewS3Source(location string, opts S3Options) (*S3Source, error) {
	bucket, key, err := parseS3Path(location)
	if err != nil {
		return nil, domain.ErrValidation("%v", err)
	}

	o := s3.Options{
		Region:       opts.Region,
		UsePathStyle: opts.PathStyle,
	}
	if opts.KeyID != "" {
		o.Credentials = credentials.NewStaticCredentialsProvider(opts.KeyID, opts.Secret, "")
	}
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		o.BaseEndpoint = aws.String(endpoint)
	}

	return &S3Source{client: s3.New(o), bucket: bucket, key: key}, nil
}

// Load fetches and decodes the object. Any failure to fetch it is reported
// as unavailable; a malformed object is an error.
func (s *S3Source) Load(ctx context.Context) ([]domain.TrafficRecord, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %v: %w", s.bucket, s.key, err, domain.ErrTrafficUnavailable)
	}
	defer out.Body.Close() //nolint:errcheck

	return decodeJSONLines(out.Body)
}

// parseS3Path extracts bucket and key from an "s3://bucket/path/to/file" URI.
func parseS3Path(s3Path string) (bucket, key string, err error) {
	u, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", s3Path, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, s3Path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("S3 path %q needs a bucket and a key", s3Path)
	}
	return bucket, key, nil
}
