package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Archiver implements domain.SnapshotArchiver: snapshots pruned from the hot
// store are shipped to object storage as JSON, one object per snapshot, keyed
// by date so they line up with daily analysis jobs.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArchiver creates an Archiver writing under the given key prefix.
func NewArchiver(c *Client, prefix string) *Archiver {
	return &Archiver{
		client: c.S3(),
		bucket: c.Bucket(),
		prefix: prefix,
	}
}

// Archive uploads one snapshot. The key embeds the UTC date and snapshot id:
// <prefix>/2026/01/02/<id>.json.
func (a *Archiver) Archive(ctx context.Context, snap domain.StateSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot %s: %w", snap.ID, err)
	}

	key := fmt.Sprintf("%s/%s/%s.json", a.prefix, snap.Timestamp.UTC().Format("2006/01/02"), snap.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: archive snapshot %s: %w", snap.ID, err)
	}
	return nil
}
