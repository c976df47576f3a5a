// Package storage archives raw verified webhook payloads to S3. The database
// keeps the payload too; the archive is a cheap, append-only audit trail that
// survives row cleanup and is safe to hand to a provider during disputes.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	s3Client *s3.Client
	bucket   string
)

func InitStorage(bucketName, region string) error {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %v", err)
	}

	s3Client = s3.NewFromConfig(cfg)
	bucket = bucketName
	return nil
}

// Enabled reports whether archiving is configured.
func Enabled() bool {
	return s3Client != nil && bucket != ""
}

// ArchiveWebhookPayload writes one payload under
// <gateway>/<year>/<month>/<event id>.json and returns the object key.
func ArchiveWebhookPayload(gatewayName, eventID string, payload []byte) (string, error) {
	if !Enabled() {
		return "", fmt.Errorf("webhook archive storage not configured")
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%d/%02d/%s.json", gatewayName, now.Year(), now.Month(), eventID)

	_, err := s3Client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("could not upload to S3: %v", err)
	}

	return key, nil
}
