package blob

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store implements Store on an S3 bucket.
type S3Store struct {
	bucket string
	prefix string
	client S3API
}

// NewS3 creates an S3Store using the default AWS credential chain.
func NewS3(ctx context.Context, region, bucket, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "blob: load aws config")
	}
	return &S3Store{
		bucket: bucket,
		prefix: prefix,
		client: s3.NewFromConfig(cfg),
	}, nil
}

// NewS3WithClient wraps an existing client. Used by tests.
func NewS3WithClient(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{bucket: bucket, prefix: prefix, client: client}
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Store) Put(ctx context.Context, recordID, label, filename string, data []byte) (string, error) {
	key := Key(recordID, label, filename)

	mimeType := mime.TypeByExtension(filepath.Ext(filename))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", eris.Wrapf(err, "blob: s3 put %s", key)
	}
	return key, nil
}

func (s *S3Store) List(ctx context.Context, recordID string) ([]string, error) {
	var paths []string
	var token *string
	prefix := s.objectKey(recordID + "/")
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "blob: s3 list %s", recordID)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = key[len(s.prefix)+1:]
			}
			paths = append(paths, key)
		}
		if out.NextContinuationToken == nil {
			return paths, nil
		}
		token = out.NextContinuationToken
	}
}

func (s *S3Store) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(path)),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "blob: s3 get %s", path)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: s3 read %s", path)
	}
	return data, nil
}
