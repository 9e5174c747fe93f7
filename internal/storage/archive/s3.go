package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"agent-resurrection/internal/checkpoint"
	arperrors "agent-resurrection/pkg/errors"
)

// S3Store S3 归档层：键 <prefix><agent>/<sequence 补零 20 位>.json，条件写入 If-None-Match: * 保证不覆盖
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig S3Store 配置
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // 可选，MinIO / LocalStack 等
	Prefix   string
}

// NewS3Store 创建 S3 归档层
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, arperrors.Wrap(arperrors.ErrInvalidArg, "s3 archive: empty bucket")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3StoreWithClient 使用已有客户端
func NewS3StoreWithClient(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) agentPrefix(agentID string) string {
	return s.prefix + escapeID(agentID) + "/"
}

func (s *S3Store) key(agentID string, sequence uint64) string {
	return fmt.Sprintf("%s%020d.json", s.agentPrefix(agentID), sequence)
}

// Locate 实现 Store
func (s *S3Store) Locate(agentID string, sequence uint64) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key(agentID, sequence))
}

// Append 实现 Store
func (s *S3Store) Append(ctx context.Context, rec *checkpoint.Record) (bool, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(rec.AgentID, rec.Sequence)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			"agent-id":   rec.AgentID,
			"state-hash": rec.StateHash,
		},
	})
	if err == nil {
		return true, nil
	}
	if !isPreconditionFailed(err) {
		return false, fmt.Errorf("s3 put failed: %w", err)
	}
	existing, gerr := s.Get(ctx, rec.AgentID, rec.Sequence)
	if gerr != nil {
		return false, gerr
	}
	return false, resolveExisting(existing, rec)
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return false
}

// Get 实现 Store
func (s *S3Store) Get(ctx context.Context, agentID string, sequence uint64) (*checkpoint.Record, error) {
	key := s.key(agentID, sequence)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, notFound(agentID, sequence)
		}
		return nil, fmt.Errorf("s3 get failed for %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	return decodeRecord(data, key)
}

// sequences 列出 agent 前缀下全部序号（升序）
func (s *S3Store) sequences(ctx context.Context, agentID string) ([]uint64, error) {
	prefix := s.agentPrefix(agentID)
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var seqs []uint64
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(obj.Key), prefix), ".json")
			seq, err := strconv.ParseUint(name, 10, 64)
			if err != nil {
				continue
			}
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Latest 实现 Store
func (s *S3Store) Latest(ctx context.Context, agentID string) (*checkpoint.Record, error) {
	seqs, err := s.sequences(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, noHistory(agentID)
	}
	return s.Get(ctx, agentID, seqs[len(seqs)-1])
}

// List 实现 Store
func (s *S3Store) List(ctx context.Context, agentID string) ([]*checkpoint.Record, error) {
	seqs, err := s.sequences(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]*checkpoint.Record, 0, len(seqs))
	for _, seq := range seqs {
		rec, err := s.Get(ctx, agentID, seq)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Revoke 实现 Store
func (s *S3Store) Revoke(ctx context.Context, agentID string, sequence uint64) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(agentID, sequence)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}

// Close 实现 Store
func (s *S3Store) Close() error {
	return nil
}
