// Package templatestore locates the official budget book spreadsheet template.
package templatestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrNoTemplate means no template is configured or none of the candidates exist.
var ErrNoTemplate = errors.New("budget book template not found")

// DefaultNames are searched in the template directory when no explicit path is set.
var DefaultNames = []string{"2026년 본예산서.xlsx", "tmp_budget_2026.xlsx"}

// Template is a loaded template file. Location is a path or an s3:// URL for reporting.
type Template struct {
	Location string
	Data     []byte
}

// Source loads the template. Implementations return ErrNoTemplate when there is nothing to load.
type Source interface {
	Load(ctx context.Context) (*Template, error)
}

// Filesystem resolves Path (relative paths against Dir) and falls back to DefaultNames in Dir.
type Filesystem struct {
	Path string
	Dir  string
}

func (f *Filesystem) candidates() []string {
	dir := f.Dir
	if dir == "" {
		dir = "."
	}
	var out []string
	if p := strings.TrimSpace(f.Path); p != "" {
		if strings.HasPrefix(p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		out = append(out, p)
	}
	for _, name := range DefaultNames {
		out = append(out, filepath.Join(dir, name))
	}
	return out
}

func (f *Filesystem) Load(_ context.Context) (*Template, error) {
	for _, p := range f.candidates() {
		data, err := os.ReadFile(p)
		if err == nil {
			return &Template{Location: p, Data: data}, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, ErrNoTemplate
}

// S3Config selects one template object.
type S3Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string
}

// S3 reads the template from an S3-compatible bucket.
type S3 struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3 builds an S3 source from the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, fmt.Errorf("s3 template bucket and key required")
	}
	region := cfg.Region
	if region == "" {
		region = "ap-northeast-2"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		for _, fn := range optFns {
			fn(o)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, key: cfg.Key}, nil
}

func (s *S3) Load(ctx context.Context) (*Template, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &s.key})
	if err != nil {
		return nil, fmt.Errorf("get template s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, err
	}
	return &Template{Location: "s3://" + s.bucket + "/" + s.key, Data: buf.Bytes()}, nil
}

// Chain tries each source in order and returns the first template found.
type Chain []Source

func (c Chain) Load(ctx context.Context) (*Template, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		t, err := src.Load(ctx)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrNoTemplate) {
			return nil, err
		}
	}
	return nil, ErrNoTemplate
}
