package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client wraps AWS S3 operations for S3-compatible storage (R2)
type S3Client struct {
	client     *s3.Client
	bucket     string
	bucketPath string
	uploader   *manager.Uploader
}

// NewS3Client creates a new S3 client
func NewS3Client(cfg S3Config) (*S3Client, error) {
	logger := slog.With("endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	logger.Info("initializing S3 client")

	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if service == s3.ServiceID && cfg.Endpoint != "" {
			return aws.Endpoint{
				URL:           cfg.Endpoint,
				SigningRegion: cfg.Region,
			}, nil
		}
		return aws.Endpoint{}, &smithy.GenericAPIError{Code: "UnknownEndpoint"}
	})

	// MaxIdleConnsPerHost must match or exceed the worker count so
	// connections are reused instead of constantly reopened
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        150,
			MaxIdleConnsPerHost: 150,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: 5 * time.Minute,
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithHTTPClient(httpClient),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion(cfg.Region),
		config.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Client{
		client:     s3Client,
		bucket:     cfg.Bucket,
		bucketPath: cfg.BucketPath,
		uploader:   manager.NewUploader(s3Client),
	}, nil
}

// UploadTiles pushes every prepared tile to the bucket as
// <bucketPath>/z/x/y.pbf using parallel workers.
func (s *S3Client) UploadTiles(ctx context.Context, db *Database) (int64, error) {
	logger := slog.With("bucket", s.bucket, "prefix", s.bucketPath)
	logger.Info("starting parallel tile upload")

	type tileToUpload struct {
		key  string
		data []byte
	}

	txn, err := db.BeginRead()
	if err != nil {
		return 0, err
	}
	defer txn.Discard()

	var tiles []tileToUpload
	c := txn.Cursor(PartTiles)
	for ok := c.First(); ok; ok = c.Next() {
		t, err := tileKeyToTile(c.Key())
		if err != nil {
			c.Close()
			return 0, err
		}
		tiles = append(tiles, tileToUpload{
			key:  fmt.Sprintf("%s/%d/%d/%d.pbf", s.bucketPath, t.Z, t.X, t.Y),
			data: append([]byte(nil), c.Value()...),
		})
	}
	c.Close()

	logger.Info("found tiles to upload", "count", len(tiles))

	const numWorkers = 100
	var totalBytes int64
	var tileCount int
	var mu sync.Mutex
	var wg sync.WaitGroup

	workChan := make(chan tileToUpload, numWorkers*2)
	errChan := make(chan error, 1)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range workChan {
				_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
					Bucket:      aws.String(s.bucket),
					Key:         aws.String(tile.key),
					Body:        bytes.NewReader(tile.data),
					ContentType: aws.String("application/vnd.mapbox-vector-tile"),
					ACL:         types.ObjectCannedACLPublicRead,
				})
				if err != nil {
					select {
					case errChan <- fmt.Errorf("failed to upload %s: %w", tile.key, err):
					default:
					}
					return
				}

				mu.Lock()
				totalBytes += int64(len(tile.data))
				tileCount++
				currentCount := tileCount
				currentBytes := totalBytes
				mu.Unlock()

				if currentCount%1000 == 0 {
					logger.Info("upload progress",
						"tiles_uploaded", currentCount, "bytes_uploaded", currentBytes)
				}
			}
		}()
	}

	go func() {
		for _, tile := range tiles {
			select {
			case <-ctx.Done():
				close(workChan)
				return
			case workChan <- tile:
			}
		}
		close(workChan)
	}()

	wg.Wait()

	select {
	case err := <-errChan:
		return totalBytes, err
	default:
	}

	logger.Info("tile upload completed", "tiles", tileCount, "bytes", totalBytes)
	return totalBytes, nil
}
