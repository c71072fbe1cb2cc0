package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/maynagashev/assetkeeper/internal/content"
	"github.com/maynagashev/assetkeeper/internal/logger"
)

const contentTypeOctetStream = "application/octet-stream"

// MinioStore реализует BlobStore поверх MinIO.
type MinioStore struct {
	client     *minio.Client
	bucketName string
	log        *logger.Logger
}

var _ BlobStore = (*MinioStore)(nil)

// MinioConfig содержит параметры для подключения к MinIO.
type MinioConfig struct {
	Endpoint        string // Адрес MinIO (например, "localhost:9000")
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Region          string
}

// NewMinioStore создает клиент MinIO и при необходимости создает бакет.
func NewMinioStore(ctx context.Context, cfg MinioConfig, log *logger.Logger) (*MinioStore, error) {
	log = log.Component("minio")
	log.Info().Str("endpoint", cfg.Endpoint).Msg("Инициализация клиента MinIO")

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	exists, err := minioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки существования бакета '%s': %w", cfg.BucketName, err)
	}
	if !exists {
		log.Info().Str("bucket", cfg.BucketName).Msg("Бакет не найден, создаём")
		err = minioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("ошибка создания бакета '%s': %w", cfg.BucketName, err)
		}
	}

	log.Info().Str("bucket", cfg.BucketName).Msg("Клиент MinIO инициализирован")
	return &MinioStore{
		client:     minioClient,
		bucketName: cfg.BucketName,
		log:        log,
	}, nil
}

// Put сохраняет объект под ключом, выведенным из хеша. Существующий объект повторно не загружается.
func (s *MinioStore) Put(ctx context.Context, hash string, data []byte) (string, error) {
	key, err := content.ObjectKey(hash)
	if err != nil {
		return "", err
	}

	_, err = s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err == nil {
		s.log.Debug().Str("key", key).Msg("Объект уже загружен")
		return key, nil
	}
	if !isNoSuchKey(err) {
		return "", fmt.Errorf("ошибка проверки объекта '%s' в MinIO: %w", key, err)
	}

	info, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentTypeOctetStream,
			UserMetadata: map[string]string{"content-hash": hash},
		})
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Ошибка загрузки объекта")
		return "", fmt.Errorf("ошибка загрузки объекта в MinIO: %w", err)
	}

	s.log.Debug().Str("key", key).Int64("size", info.Size).Str("etag", info.ETag).Msg("Объект загружен")
	return key, nil
}

// Get читает объект целиком.
func (s *MinioStore) Get(ctx context.Context, path string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucketName, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapGetError(path, err)
	}
	defer object.Close()

	// GetObject ленивый: отсутствие ключа обнаруживается только при чтении.
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.mapGetError(path, err)
	}
	return data, nil
}

func (s *MinioStore) mapGetError(path string, err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}
	s.log.Error().Err(err).Str("key", path).Msg("Ошибка получения объекта")
	return fmt.Errorf("ошибка получения объекта из MinIO: %w", err)
}

func isNoSuchKey(err error) bool {
	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		return minioErr.Code == "NoSuchKey"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
