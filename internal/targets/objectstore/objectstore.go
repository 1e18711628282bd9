// Package objectstore archives summaries in an S3 compatible bucket.
package objectstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jo-hoe/condenser/internal/common"
	appcfg "github.com/jo-hoe/condenser/internal/config"
	"github.com/jo-hoe/condenser/internal/targets"
)

const defaultRegion = "us-east-1"

type Target struct {
	name   string
	cfg    appcfg.ObjectStoreTargetConfig
	client *minio.Client
}

var _ targets.Target = (*Target)(nil)

func New(name string, cfg appcfg.ObjectStoreTargetConfig) (*Target, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("object store endpoint and bucket must not be empty")
	}
	if cfg.Region == "" {
		// a fixed region avoids a bucket location lookup per upload
		cfg.Region = defaultRegion
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Target{name: name, cfg: cfg, client: client}, nil
}

func (t *Target) Name() string { return t.name }

// EnsureBucket creates the bucket when it does not exist yet.
func (t *Target) EnsureBucket(ctx context.Context) error {
	ok, err := t.client.BucketExists(ctx, t.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if ok {
		return nil
	}
	if err := t.client.MakeBucket(ctx, t.cfg.Bucket, minio.MakeBucketOptions{Region: t.cfg.Region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", t.cfg.Bucket, err)
	}
	return nil
}

// Post uploads the summary; re-publishing overwrites the object.
func (t *Target) Post(ctx context.Context, req targets.TargetRequest) (targets.TargetResult, error) {
	key, err := targets.ObjectPath(t.cfg.BasePath, t.cfg.ObjectTemplate, req)
	if err != nil {
		return targets.TargetResult{}, err
	}
	body := strings.NewReader(req.Markdown)
	info, err := t.client.PutObject(ctx, t.cfg.Bucket, key, body, int64(body.Len()), minio.PutObjectOptions{
		ContentType: common.ContentTypeMarkdown,
		UserMetadata: map[string]string{
			"item-id": req.ItemID,
			"job-id":  req.JobID,
		},
	})
	if err != nil {
		return targets.TargetResult{}, fmt.Errorf("put object %s: %w", key, err)
	}
	return targets.TargetResult{
		TargetName: t.name,
		Location:   fmt.Sprintf("s3:%s/%s", t.cfg.Bucket, key),
		Commit:     strings.Trim(info.ETag, `"`),
	}, nil
}
