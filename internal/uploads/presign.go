package uploads

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const DefaultExpiry = 15 * time.Minute

var ErrNotConfigured = errors.New("upload bucket is not configured")

// PresignedUpload is handed to the browser so it can PUT a PDF straight to
// the bucket.
type PresignedUpload struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Presigner mints presigned PUT URLs. A nil *Presigner is valid and reports
// ErrNotConfigured.
type Presigner struct {
	client *s3.PresignClient
	bucket string
	expiry time.Duration
}

// NewPresigner loads the default AWS credential chain for region. An empty
// bucket disables uploads and returns nil.
func NewPresigner(ctx context.Context, region, bucket string) (*Presigner, error) {
	if bucket == "" {
		log.Printf("upload bucket not set, presigned uploads disabled")
		return nil, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	log.Printf("presigned uploads enabled: bucket=%s, region=%s", bucket, region)
	return NewPresignerFromConfig(cfg, bucket, DefaultExpiry), nil
}

func NewPresignerFromConfig(cfg aws.Config, bucket string, expiry time.Duration) *Presigner {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Presigner{
		client: s3.NewPresignClient(s3.NewFromConfig(cfg)),
		bucket: bucket,
		expiry: expiry,
	}
}

// PresignPDF returns a URL for uploading filename under the session's prefix.
func (p *Presigner) PresignPDF(ctx context.Context, sessionID, filename string) (*PresignedUpload, error) {
	if p == nil {
		return nil, ErrNotConfigured
	}
	if !strings.EqualFold(path.Ext(filename), ".pdf") {
		return nil, fmt.Errorf("only .pdf uploads are accepted, got %q", filename)
	}

	key := fmt.Sprintf("pdf/%s/%s.pdf", sessionID, uuid.NewString())
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/pdf"),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}
	return &PresignedUpload{
		URL:       req.URL,
		Method:    req.Method,
		Key:       key,
		ExpiresAt: time.Now().Add(p.expiry).UTC(),
	}, nil
}
