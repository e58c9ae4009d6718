// Package publish is the object-store publisher (C8): it recursively
// uploads a work directory tree to an S3-compatible bucket with bounded
// concurrency. Objects carry no per-object ACL; they are public-read through
// the bucket policy applied when the publisher creates the bucket.
package publish

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const batchSize = 5

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/MP2T",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".mpd":  "application/dash+xml",
	".vtt":  "text/vtt",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".json": "application/json",
}

func contentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ProgressFunc is invoked as files complete; done/total lets the caller
// derive a coarse progress percentage.
type ProgressFunc func(done, total int)

// Publisher pushes local directories to one bucket.
type Publisher struct {
	client   *minio.Client
	bucket   string
	endpoint string
	logger   *zap.Logger
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool, logger *zap.Logger) (*Publisher, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("publish: new client: %w", err)
	}

	p := &Publisher{client: client, bucket: bucket, endpoint: endpoint, logger: logger}
	if err := p.ensureBucket(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("publish: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("publish: make bucket: %w", err)
	}
	if err := p.client.SetBucketPolicy(ctx, p.bucket, publicReadPolicy(p.bucket)); err != nil {
		return fmt.Errorf("publish: set bucket policy: %w", err)
	}
	p.logger.Info("created bucket", zap.String("bucket", p.bucket))
	return nil
}

// publicReadPolicy grants anonymous GetObject on every key in the bucket,
// the object-store equivalent of the per-object public-read ACL callers
// otherwise expect from the artifacts this component publishes.
func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{
	"Version": "2012-10-17",
	"Statement": [{
		"Effect": "Allow",
		"Principal": {"AWS": ["*"]},
		"Action": ["s3:GetObject"],
		"Resource": ["arn:aws:s3:::%s/*"]
	}]
}`, bucket)
}

// PublishTree walks localDir recursively and uploads every regular file
// under keyPrefix, five PUTs at a time, reporting progress as it goes.
func (p *Publisher) PublishTree(ctx context.Context, localDir, keyPrefix string, onProgress ProgressFunc) error {
	files, err := collectFiles(localDir)
	if err != nil {
		return fmt.Errorf("publish: walk: %w", err)
	}

	total := len(files)
	var done int
	var doneMu sync.Mutex

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := files[start:end]

		var wg sync.WaitGroup
		errs := make([]error, len(batch))
		for i, f := range batch {
			wg.Add(1)
			go func(i int, f fileEntry) {
				defer wg.Done()
				key := keyPrefix + "/" + f.relPath
				_, err := p.client.FPutObject(ctx, p.bucket, key, f.absPath, minio.PutObjectOptions{
					ContentType: contentTypeFor(f.relPath),
				})
				if err != nil {
					errs[i] = fmt.Errorf("upload %s: %w", f.relPath, err)
					return
				}
				doneMu.Lock()
				done++
				if onProgress != nil && total > 10 && done%5 == 0 {
					onProgress(done, total)
				}
				doneMu.Unlock()
			}(i, f)
		}
		wg.Wait()

		for _, e := range errs {
			if e != nil {
				return fmt.Errorf("publish: %w", e)
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	if onProgress != nil {
		onProgress(total, total)
	}
	return nil
}

type fileEntry struct {
	absPath string
	relPath string
}

func collectFiles(root string) ([]fileEntry, error) {
	var out []fileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, fileEntry{absPath: path, relPath: filepath.ToSlash(rel)})
		return nil
	})
	return out, err
}

// PublicURL is the URL the session manager and transcoder both predict
// before publication happens.
func (p *Publisher) PublicURL(keyPrefix, name string) string {
	return fmt.Sprintf("%s.%s/%s/%s", p.bucket, p.endpoint, keyPrefix, name)
}
