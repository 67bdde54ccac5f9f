// Package archive mirrors the on-disk store tree into an S3 bucket on a
// fixed cadence, giving the cache a cold copy that survives host loss.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "mafin/config"
	"mafin/logger"
)

// Uploader periodically walks the storage root and uploads every CSV
// that changed since its last upload.
type Uploader struct {
	cfg    appconfig.ArchiveConfig
	root   string
	client *s3.Client

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	// modification times at last successful upload, keyed by relative path
	uploaded map[string]time.Time

	filesUploaded int64
	bytesUploaded int64
	errorsCount   int64
}

// NewUploader configures the AWS SDK and validates credentials. Static
// credentials from the configuration win over the default chain.
func NewUploader(cfg appconfig.ArchiveConfig, root string) (*Uploader, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	u := &Uploader{
		cfg:      cfg,
		root:     root,
		client:   s3.NewFromConfig(awsConfig),
		wg:       &sync.WaitGroup{},
		log:      log,
		uploaded: make(map[string]time.Time),
	}

	log.WithComponent("archive_uploader").WithFields(logger.Fields{
		"bucket":   cfg.Bucket,
		"region":   cfg.Region,
		"interval": cfg.Interval.String(),
	}).Debug("archive uploader initialized")

	return u, nil
}

// Start launches the periodic mirror loop.
func (u *Uploader) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return fmt.Errorf("archive uploader already running")
	}
	u.running = true
	u.ctx = ctx
	u.mu.Unlock()

	log := u.log.WithComponent("archive_uploader")
	log.Info("archive uploader started")

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		ticker := time.NewTicker(u.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info("archive uploader stopped")
				return
			case <-ticker.C:
				u.sweep(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the mirror loop to exit.
func (u *Uploader) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	u.mu.Unlock()
	u.wg.Wait()
}

// sweep walks the store tree once and uploads every changed CSV.
func (u *Uploader) sweep(ctx context.Context) {
	log := u.log.WithComponent("archive_uploader")
	start := time.Now()
	var uploaded, skipped int

	err := filepath.WalkDir(u.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".csv") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(u.root, path)
		if err != nil {
			return nil
		}
		if last, ok := u.uploaded[rel]; ok && !info.ModTime().After(last) {
			skipped++
			return nil
		}

		if err := u.upload(ctx, path, rel); err != nil {
			atomic.AddInt64(&u.errorsCount, 1)
			log.WithError(err).WithFields(logger.Fields{"path": rel}).Warn("upload failed")
			return nil
		}
		u.uploaded[rel] = info.ModTime()
		uploaded++
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("archive sweep failed")
		return
	}

	logger.LogPerformanceEntry(log, "archive_uploader", "sweep", time.Since(start), logger.Fields{
		"uploaded": uploaded,
		"skipped":  skipped,
	})
}

// upload puts one file under the configured prefix, preserving the
// store tree layout in the object key.
func (u *Uploader) upload(ctx context.Context, path, rel string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}

	key := filepath.ToSlash(rel)
	if u.cfg.Prefix != "" {
		key = strings.TrimSuffix(u.cfg.Prefix, "/") + "/" + key
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.cfg.Bucket, key, err)
	}

	atomic.AddInt64(&u.filesUploaded, 1)
	atomic.AddInt64(&u.bytesUploaded, int64(len(data)))
	return nil
}

// Stats returns the lifetime upload counters.
func (u *Uploader) Stats() (files, bytes, errors int64) {
	return atomic.LoadInt64(&u.filesUploaded),
		atomic.LoadInt64(&u.bytesUploaded),
		atomic.LoadInt64(&u.errorsCount)
}
