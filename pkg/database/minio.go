package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound object key 不存在
var ErrObjectNotFound = errors.New("object not found")

// MinIOClientRepo object store gateway，pipeline 只依賴這個介面
type MinIOClientRepo interface {
	UploadFile(ctx context.Context, objectName, filePath, contentType string) error
	PutObject(ctx context.Context, objectName string, data []byte, contentType string) error
	DownloadFile(ctx context.Context, objectName, destPath string) (int64, error)
	RemoveObject(ctx context.Context, objectName string) error
	PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	Ping(ctx context.Context) error
}

// MinIOClient definition minio client
type MinIOClient struct {
	Client     *minio.Client
	BucketName string
}

// NewMinIOConnection create a new minio connection have retry
func NewMinIOConnection(d MinIOConnection) (*MinIOClient, error) {
	var mc *MinIOClient
	var err error

	for i := 1; i <= d.RetryCount; i++ {
		mc, err = NewMinioClient(d.Endpoint, d.User, d.Password, d.BucketName, d.UseSSL)
		if err == nil {
			log.Printf("minIO[%s] 連線成功 (嘗試 %d 次)", d.Endpoint, i)
			return mc, nil
		}

		log.Printf("minIO[%s] 連線失敗 (嘗試 %d/%d): %v", d.Endpoint, i, d.RetryCount, err)
		time.Sleep(d.RetryInterval * time.Second)
	}

	return mc, err
}

// NewMinioClient create a new minio
func NewMinioClient(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinIOClient, error) {
	minioClient, err := minio.New(endpoint,
		&minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: useSSL,
		})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 失敗: %w", err)
	}

	ctx := context.Background()
	// 檢查 bucket 是否存在
	exists, err := minioClient.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("檢查 bucket [%s] 失敗: %w", bucketName, err)
	}

	// 如果 bucket 不存在，嘗試建立
	if !exists {
		if err = minioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("建立 bucket [%s] 失敗: %w", bucketName, err)
		}
		log.Printf("Bucket [%s] 建立成功", bucketName)
	}

	return &MinIOClient{
		Client:     minioClient,
		BucketName: bucketName,
	}, nil
}

// UploadFile minio upload file func
func (m *MinIOClient) UploadFile(ctx context.Context, objectName, filePath, contentType string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("開啟檔案失敗: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("讀取檔案資訊失敗: %w", err)
	}

	_, err = m.Client.PutObject(ctx, m.BucketName, objectName, file, info.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("上傳物件 [%s] 失敗: %w", objectName, err)
	}
	return nil
}

// PutObject 上傳記憶體中的內容（字幕等小檔案）
func (m *MinIOClient) PutObject(ctx context.Context, objectName string, data []byte, contentType string) error {
	_, err := m.Client.PutObject(ctx, m.BucketName, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("上傳物件 [%s] 失敗: %w", objectName, err)
	}
	return nil
}

// DownloadFile minio download file func，回傳寫入的 byte 數
func (m *MinIOClient) DownloadFile(ctx context.Context, objectName, destPath string) (int64, error) {
	obj, err := m.Client.GetObject(ctx, m.BucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("取得物件 [%s] 失敗: %w", objectName, classifyMinIOErr(err))
	}
	defer obj.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("建立檔案失敗: %w", err)
	}
	defer destFile.Close()

	n, err := io.Copy(destFile, obj)
	if err != nil {
		_ = os.Remove(destPath)
		return n, fmt.Errorf("下載物件 [%s] 失敗: %w", objectName, classifyMinIOErr(err))
	}
	return n, nil
}

// RemoveObject 刪除物件，不存在視為成功
func (m *MinIOClient) RemoveObject(ctx context.Context, objectName string) error {
	if err := m.Client.RemoveObject(ctx, m.BucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		if errors.Is(classifyMinIOErr(err), ErrObjectNotFound) {
			return nil
		}
		return fmt.Errorf("刪除物件 [%s] 失敗: %w", objectName, err)
	}
	return nil
}

// PresignGetURL 生成一個 Presigned URL 用來獲取指定的 object
func (m *MinIOClient) PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	reqParams := make(url.Values)
	presignedURL, err := m.Client.PresignedGetObject(ctx, m.BucketName, objectName, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("生成 Presigned URL 失敗: %w", err)
	}
	return presignedURL.String(), nil
}

// Ping health check，確認 bucket 可存取
func (m *MinIOClient) Ping(ctx context.Context) error {
	exists, err := m.Client.BucketExists(ctx, m.BucketName)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket [%s] 不存在", m.BucketName)
	}
	return nil
}

func classifyMinIOErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
