package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig describes an S3-compatible bucket
type MinioConfig struct {
	Access   string
	Secret   string
	Bucket   string
	Endpoint string
	Region   string
	// objects are stored under Prefix
	Prefix string
	// use http instead of https
	Insecure bool
	// if set, HTTP requests are traced to it
	RequestTrace io.Writer
}

// Minio stores documents as objects in a bucket
type Minio struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

var _ Backend = &Minio{}

func ctx() context.Context {
	return context.Background()
}

// NewMinio connects to the endpoint and checks that the bucket exists
func NewMinio(config *MinioConfig) (*Minio, error) {
	if config == nil {
		return nil, errors.New("must provide config")
	}
	c := config
	if c.Access == "" || c.Secret == "" || c.Bucket == "" || c.Endpoint == "" {
		return nil, errors.New("must provide Access, Secret, Bucket and Endpoint in config")
	}
	mc, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Access, c.Secret, ""),
		Region: c.Region,
		Secure: !c.Insecure,
	})
	if err != nil {
		return nil, err
	}
	if c.RequestTrace != nil {
		mc.TraceOn(c.RequestTrace)
	}
	found, err := mc.BucketExists(ctx(), c.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bucket '%s' doesn't exist", c.Bucket)
	}
	return &Minio{
		Client: mc,
		Bucket: c.Bucket,
		Prefix: c.Prefix,
	}, nil
}

func (m *Minio) key(p string) (string, error) {
	p, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return path.Join(m.Prefix, p), nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// Open downloads a snapshot of the object
func (m *Minio) Open(p string) (io.ReadSeekCloser, error) {
	d, err := m.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return newBytesReader(d), nil
}

func (m *Minio) ReadFile(p string) ([]byte, error) {
	key, err := m.key(p)
	if err != nil {
		return nil, err
	}
	obj, err := m.Client.GetObject(ctx(), m.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	d, err := io.ReadAll(obj)
	if isNoSuchKey(err) {
		return nil, notExist("get", p)
	}
	return d, err
}

func (m *Minio) WriteFile(p string, data []byte) error {
	key, err := m.key(p)
	if err != nil {
		return err
	}
	opts := minio.PutObjectOptions{
		ContentType: "application/xml",
	}
	r := bytes.NewReader(data)
	_, err = m.Client.PutObject(ctx(), m.Bucket, key, r, int64(len(data)), opts)
	return err
}

func (m *Minio) Exists(p string) (bool, error) {
	key, err := m.key(p)
	if err != nil {
		return false, err
	}
	_, err = m.Client.StatObject(ctx(), m.Bucket, key, minio.StatObjectOptions{})
	if isNoSuchKey(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
