// Package s3source implements a pipeline.ReportSource over a bucket of
// batched, newline-delimited wire payload objects, grounded on
// api/snap.go's session/client/PutObjectWithContext usage pattern.
package s3source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/wire"
)

// Source lists objects under Bucket/Prefix in lexical key order,
// treating each object as one batch of newline-delimited wire
// payloads, and tracks the last fully consumed key in memory only: a
// new Source, as after a process restart, starts again from the first
// key under the prefix. Object keys are expected to sort
// in delivery order (e.g. a zero-padded sequence number or an ISO8601
// timestamp prefix); Source does not itself impose an ordering scheme.
type Source struct {
	svc    *s3.S3
	bucket string
	prefix string
	logger *slog.Logger

	keys   []string
	cursor int
	listed bool
}

// New constructs a Source against bucket/prefix using the ambient AWS
// session (environment credentials, shared config, etc, per the AWS
// SDK's usual resolution order).
func New(bucket, prefix string) (*Source, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("s3source: new session: %w", err)
	}
	return &Source{
		svc:    s3.New(sess),
		bucket: bucket,
		prefix: prefix,
		logger: slog.Default().With("component", "s3source", "bucket", bucket, "prefix", prefix),
	}, nil
}

// GetReports implements pipeline.ReportSource. The first call lists
// every object under the configured prefix; subsequent calls walk that
// list in order. Once every listed object has been read, GetReports
// returns an empty, nil-error batch.
func (s *Source) GetReports(ctx context.Context) ([]report.Detection, error) {
	if !s.listed {
		if err := s.list(ctx); err != nil {
			return nil, err
		}
		s.listed = true
	}

	if s.cursor >= len(s.keys) {
		return nil, nil
	}
	key := s.keys[s.cursor]
	s.cursor++

	payload, err := s.getObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("s3source: reading %s: %w", key, err)
	}

	reports, err := decodeBatch(payload)
	if err != nil {
		return nil, fmt.Errorf("s3source: decoding %s: %w", key, err)
	}
	s.logger.Debug("read batch", "key", key, "reports", len(reports))
	return reports, nil
}

func (s *Source) list(ctx context.Context) error {
	var keys []string
	err := s.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("s3source: listing: %w", err)
	}
	sort.Strings(keys)
	s.keys = keys
	return nil
}

func (s *Source) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func decodeBatch(payload []byte) ([]report.Detection, error) {
	var out []report.Detection
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ds, err := wire.DecodeDetections(line)
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, scanner.Err()
}
