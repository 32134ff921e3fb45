package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"talkmate-chat/internal/models"
)

// MaxAttachmentSize bounds a single uploaded attachment.
const MaxAttachmentSize = 25 * 1024 * 1024

const thumbnailMaxDim = 320

var ErrAttachmentTooLarge = errors.New("attachment exceeds the maximum allowed size")
var ErrUnsupportedFileType = errors.New("unsupported file type")

var imageExtensions = map[string]bool{
	".png":  true,
	".jpeg": true,
	".jpg":  true,
	".gif":  true,
	".webp": true,
}

// Storage stores attachment binaries and returns public URLs.
type Storage interface {
	Put(ctx context.Context, key string, contentType string, body io.Reader) (string, error)
}

// S3Storage stores binaries in an S3 bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
	region string
}

// NewS3Storage builds an S3-backed Storage.
func NewS3Storage(ctx context.Context, region, bucket, accessKey, secretKey string) (*S3Storage, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Storage{client: s3.NewFromConfig(cfg), bucket: bucket, region: region}, nil
}

// Put uploads the object and returns its public URL.
func (s *S3Storage) Put(ctx context.Context, key string, contentType string, body io.Reader) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}

// Service turns uploaded multipart files into stored attachments.
type Service struct {
	storage Storage
}

// NewService constructs a media Service.
func NewService(storage Storage) *Service {
	return &Service{storage: storage}
}

// IsImage reports whether the filename looks like an image attachment.
func IsImage(filename string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ProcessAttachment uploads one attachment and, for images, a thumbnail.
func (s *Service) ProcessAttachment(ctx context.Context, fh *multipart.FileHeader) (models.Attachment, error) {
	if fh.Size > MaxAttachmentSize {
		return models.Attachment{}, ErrAttachmentTooLarge
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		return models.Attachment{}, ErrUnsupportedFileType
	}

	file, err := fh.Open()
	if err != nil {
		return models.Attachment{}, fmt.Errorf("open attachment: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("read attachment: %w", err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := uniqueKey(ext)
	url, err := s.storage.Put(ctx, key, contentType, bytes.NewReader(data))
	if err != nil {
		return models.Attachment{}, err
	}

	attachment := models.Attachment{
		Kind:        models.AttachmentFile,
		Name:        fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		URL:         url,
	}

	if IsImage(fh.Filename) {
		attachment.Kind = models.AttachmentImage
		thumbURL, err := s.uploadThumbnail(ctx, key, data)
		if err != nil {
			// The original upload succeeded; a missing thumbnail only
			// degrades previews.
			return attachment, nil
		}
		attachment.ThumbnailURL = thumbURL
	}

	return attachment, nil
}

func (s *Service) uploadThumbnail(ctx context.Context, originalKey string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fit(img, thumbnailMaxDim, thumbnailMaxDim, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	key := "thumbs/" + strings.TrimSuffix(filepath.Base(originalKey), filepath.Ext(originalKey)) + ".jpg"
	return s.storage.Put(ctx, key, "image/jpeg", &buf)
}

func uniqueKey(ext string) string {
	return "attachments/" + uuid.NewString() + ext
}
