package services

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"purrcast/internal/apperr"
)

// StoredObject is what a storage provider reports after a successful write.
type StoredObject struct {
	SecureURL   string
	BytesStored int
}

// StorageProvider writes one object under key.
type StorageProvider interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (StoredObject, error)
}

// BlobUploader stores normalized images under a content-derived key and only
// reports success once the provider confirms the full object.
type BlobUploader struct {
	provider StorageProvider
	timeout  time.Duration
	log      logrus.FieldLogger
}

func NewBlobUploader(provider StorageProvider, timeout time.Duration, log logrus.FieldLogger) *BlobUploader {
	return &BlobUploader{
		provider: provider,
		timeout:  timeout,
		log:      log.WithField("component", "blob_uploader"),
	}
}

// ContentKey returns the object key for data: hex blake2b-256 plus ".png".
func ContentKey(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]) + ".png"
}

func (u *BlobUploader) Upload(ctx context.Context, data []byte, contentType string) (StoredObject, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	key := ContentKey(data)
	obj, err := u.provider.Upload(ctx, key, data, contentType)
	switch {
	case err != nil:
	case obj.SecureURL == "":
		err = errors.New("provider returned an empty url")
	case obj.BytesStored != len(data):
		err = fmt.Errorf("provider stored %d of %d bytes", obj.BytesStored, len(data))
	}
	if err != nil {
		u.log.WithError(err).WithField("key", key).Warn("image upload failed")
		return StoredObject{}, apperr.Unavailable("We couldn't save your image right now. Please try again later.",
			fmt.Errorf("%w: %v", apperr.ErrStorageUploadFailed, err))
	}
	return obj, nil
}

// CloudinaryProvider uploads through Cloudinary's signed upload API.
type CloudinaryProvider struct {
	apiBase   string
	cloudName string
	apiKey    string
	apiSecret string
	client    *http.Client
	now       func() time.Time
}

func NewCloudinaryProvider(cloudName, apiKey, apiSecret string) *CloudinaryProvider {
	return &CloudinaryProvider{
		apiBase:   "https://api.cloudinary.com/v1_1",
		cloudName: cloudName,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{},
		now:       time.Now,
	}
}

// CloudinaryResponse Cloudinary API 响应结构
type CloudinaryResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Bytes     int    `json:"bytes"`
	Format    string `json:"format"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *CloudinaryProvider) Upload(ctx context.Context, key string, data []byte, contentType string) (StoredObject, error) {
	publicID := strings.TrimSuffix(key, ".png")
	timestamp := strconv.FormatInt(p.now().Unix(), 10)

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)
	fields := [][2]string{
		{"file", "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)},
		{"public_id", publicID},
		{"timestamp", timestamp},
		{"api_key", p.apiKey},
		{"signature", p.sign(map[string]string{"public_id": publicID, "timestamp": timestamp})},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return StoredObject{}, fmt.Errorf("write %s field: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return StoredObject{}, fmt.Errorf("close multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/image/upload", p.apiBase, p.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &requestBody)
	if err != nil {
		return StoredObject{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return StoredObject{}, fmt.Errorf("cloudinary request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return StoredObject{}, fmt.Errorf("read cloudinary response: %w", err)
	}

	var parsed CloudinaryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return StoredObject{}, fmt.Errorf("decode cloudinary response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := ""
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return StoredObject{}, fmt.Errorf("cloudinary returned status %d: %s", resp.StatusCode, msg)
	}
	return StoredObject{SecureURL: parsed.SecureURL, BytesStored: parsed.Bytes}, nil
}

// sign computes the upload signature: sorted "k=v" pairs joined by "&",
// followed by the API secret, hashed with SHA-1.
func (p *CloudinaryProvider) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "&") + p.apiSecret))
	return hex.EncodeToString(sum[:])
}

// S3Provider writes objects to a bucket that is served from publicURL.
type S3Provider struct {
	bucket    string
	publicURL string
	uploader  s3manageriface.UploaderAPI
	svc       s3iface.S3API
}

func NewS3Provider(bucket, region, publicURL string) (*S3Provider, error) {
	// AWS client session
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Provider{
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		uploader:  s3manager.NewUploader(sess),
		svc:       s3.New(sess),
	}, nil
}

func (p *S3Provider) Upload(ctx context.Context, key string, data []byte, contentType string) (StoredObject, error) {
	_, err := p.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		ACL:         aws.String("public-read"),
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return StoredObject{}, fmt.Errorf("s3 upload: %w", err)
	}

	head, err := p.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return StoredObject{}, fmt.Errorf("s3 head object: %w", err)
	}

	return StoredObject{
		SecureURL:   p.publicURL + "/" + key,
		BytesStored: int(aws.Int64Value(head.ContentLength)),
	}, nil
}
