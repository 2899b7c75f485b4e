// Package minio is the object storage client used to archive degradation
// reports as JSON documents.
//
// [Client] wraps minio-go v7 with OpenTelemetry spans and [sserr] error
// codes. [ObjectStore] is the seam tests mock; *minio.Client satisfies it.
package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-isolation/pkg/clients/minio"

// ObjectStore is the subset of *minio.Client the archive calls.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// Client is safe for concurrent use.
type Client struct {
	store  ObjectStore
	cfg    Config
	tracer trace.Tracer
}

// NewClient validates cfg, builds a minio-go client and probes the bucket.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "minio: failed to create client")
	}
	if _, err := mc.BucketExists(ctx, cfg.Bucket); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}
	return NewFromStore(mc, cfg), nil
}

// NewFromStore wraps an existing store.
func NewFromStore(store ObjectStore, cfg Config) *Client {
	return &Client{store: store, cfg: cfg, tracer: otel.Tracer(tracerName)}
}

// Bucket returns the archive bucket.
func (c *Client) Bucket() string { return c.cfg.Bucket }

// EnsureBucket creates the archive bucket when it does not exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "EnsureBucket", "HEAD "+c.cfg.Bucket)
	exists, err := c.store.BucketExists(ctx, c.cfg.Bucket)
	if err == nil && !exists {
		err = c.store.MakeBucket(ctx, c.cfg.Bucket, minio.MakeBucketOptions{Region: c.cfg.Region})
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: ensure bucket failed")
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func (c *Client) PutJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "minio: failed to encode object")
	}
	ctx, span := c.startSpan(ctx, "PutObject", fmt.Sprintf("PUT %s/%s", c.cfg.Bucket, key))
	_, err = c.store.PutObject(ctx, c.cfg.Bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: put object failed")
	}
	return nil
}

// GetJSON decodes the object under key into v. A missing key is NF_001.
func (c *Client) GetJSON(ctx context.Context, key string, v any) error {
	ctx, span := c.startSpan(ctx, "GetObject", fmt.Sprintf("GET %s/%s", c.cfg.Bucket, key))
	obj, err := c.store.GetObject(ctx, c.cfg.Bucket, key, minio.GetObjectOptions{})
	if err == nil {
		defer obj.Close()
		err = json.NewDecoder(obj).Decode(v)
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: get object failed")
	}
	return nil
}

// Keys lists object keys under prefix in lexical order.
func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "ListObjects", fmt.Sprintf("LIST %s prefix=%s", c.cfg.Bucket, prefix))
	var (
		keys []string
		err  error
	)
	for info := range c.store.ListObjects(ctx, c.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			err = info.Err
			break
		}
		keys = append(keys, info.Key)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "minio: list objects failed")
	}
	return keys, nil
}

// Health probes the archive bucket, bounded by DefaultHealthTimeout when
// ctx has no deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "HEAD "+c.cfg.Bucket)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	_, err := c.store.BucketExists(ctx, c.cfg.Bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, op, statement string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "minio."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "minio"),
			attribute.String("db.name", c.cfg.Bucket),
			attribute.String("db.statement", truncateStatement(statement)),
		),
	)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError maps NoSuchKey to NF_001, deadlines to TIMEOUT_002 and the rest
// to INT_002.
func wrapError(err error, message string) error {
	switch {
	case minio.ToErrorResponse(err).Code == "NoSuchKey":
		return sserr.Wrap(err, sserr.CodeNotFound, message)
	case errors.Is(err, context.DeadlineExceeded):
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	default:
		return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
	}
}
