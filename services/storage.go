package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"tls_portal_go/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// StorageProvider stores document objects
type StorageProvider interface {
	UploadReader(ctx context.Context, reader io.Reader, key string, contentType string, size int64) (*StorageResult, error)
	Delete(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (io.ReadCloser, string, error) // reader, content-type
	GetSignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
}

// StorageResult describes a stored object
type StorageResult struct {
	Key      string
	FileSize int64
	MimeType string
}

// NewStorage returns R2 storage when fully configured and reachable, local storage otherwise
func NewStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) StorageProvider {
	if !cfg.StorageConfigured() {
		log.Info("Storage established (local filesystem)", zap.String("path", cfg.UploadDir))
		return NewLocalStorage(cfg.UploadDir, cfg.AppURL)
	}

	r2, err := NewR2Storage(cfg)
	if err != nil {
		log.Warn("Failed to initialize R2 storage, falling back to local", zap.Error(err))
		return NewLocalStorage(cfg.UploadDir, cfg.AppURL)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := r2.client.HeadBucket(pingCtx, &s3.HeadBucketInput{Bucket: aws.String(cfg.R2BucketName)}); err != nil {
		log.Warn("R2 bucket check failed, falling back to local", zap.Error(err))
		return NewLocalStorage(cfg.UploadDir, cfg.AppURL)
	}

	log.Info("Storage established (Cloudflare R2)", zap.String("bucket", cfg.R2BucketName))
	return r2
}

// R2Storage implements StorageProvider for Cloudflare R2
type R2Storage struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

func NewR2Storage(cfg *config.Config) (*R2Storage, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID)

	creds := credentials.NewStaticCredentialsProvider(cfg.R2AccessKeyID, cfg.R2SecretAccessKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &R2Storage{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.R2BucketName,
	}, nil
}

func (r *R2Storage) UploadReader(ctx context.Context, reader io.Reader, key string, contentType string, size int64) (*StorageResult, error) {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to R2: %w", err)
	}
	return &StorageResult{Key: key, FileSize: size, MimeType: contentType}, nil
}

func (r *R2Storage) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from R2: %w", err)
	}
	return nil
}

func (r *R2Storage) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get object from R2: %w", err)
	}
	contentType := "application/octet-stream"
	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	return result.Body, contentType, nil
}

func (r *R2Storage) GetSignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiration))
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return req.URL, nil
}

// LocalStorage implements StorageProvider on the local filesystem
type LocalStorage struct {
	baseDir string
	baseURL string
}

func NewLocalStorage(baseDir, baseURL string) *LocalStorage {
	return &LocalStorage{baseDir: baseDir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// path resolves key inside baseDir, rejecting traversal
func (l *LocalStorage) path(key string) (string, error) {
	full := filepath.Join(l.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	return full, nil
}

func (l *LocalStorage) UploadReader(ctx context.Context, reader io.Reader, key string, contentType string, size int64) (*StorageResult, error) {
	fullPath, err := l.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dst, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, reader)
	if err != nil {
		os.Remove(fullPath)
		return nil, fmt.Errorf("failed to save file: %w", err)
	}
	return &StorageResult{Key: key, FileSize: written, MimeType: contentType}, nil
}

func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	fullPath, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	fullPath, err := l.path(key)
	if err != nil {
		return nil, "", err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	return file, contentTypeForExt(filepath.Ext(key)), nil
}

// GetSignedURL for local storage points at the authenticated download route
func (l *LocalStorage) GetSignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	if _, err := l.path(key); err != nil {
		return "", err
	}
	return l.baseURL + "/files/" + key, nil
}

var allowedDocumentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".txt":  "text/plain",
}

func contentTypeForExt(ext string) string {
	if ct, ok := allowedDocumentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFileName keeps a storage-safe version of an uploaded file name
func SanitizeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeFileChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return "file"
	}
	if len(base) > 120 {
		ext := filepath.Ext(base)
		base = base[:120-len(ext)] + ext
	}
	return base
}

// DocumentStorageKey is tenants/<t>/clients/<c>/documents/<docId>/<filename>
func DocumentStorageKey(tenantID, clientID, documentID, fileName string) string {
	return fmt.Sprintf("tenants/%s/clients/%s/documents/%s/%s", tenantID, clientID, documentID, SanitizeFileName(fileName))
}
