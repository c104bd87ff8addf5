package provider

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/aws"
	coserrors "github.com/mokuroreader/corestore/cmn/errors"
	"github.com/mokuroreader/corestore/model"
	"github.com/pkg/errors"
)

// KeyShareProvider is the MEGA-like key-share variant: uploads are
// credentialed (managed multipart uploader), downloads happen via
// short-lived, minted share links rather than a persistent session token.
// Backed by an S3-compatible bucket plus presigned GET URLs standing in
// for "share links".
type KeyShareProvider struct {
	name     string
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
}

var _ Provider = (*KeyShareProvider)(nil)

func NewKeyShareProvider(name, bucket string, client *s3.Client) *KeyShareProvider {
	return &KeyShareProvider{
		name:     name,
		bucket:   bucket,
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
	}
}

func (KeyShareProvider) Kind() Kind      { return KindKeyShare }
func (p *KeyShareProvider) Name() string { return p.name }

func (p *KeyShareProvider) IsAuthenticated() bool { return p.client != nil }

func (p *KeyShareProvider) GetStatus(ctx context.Context) (Status, error) {
	if p.client == nil {
		return Status{NeedsAttention: true, StatusMessage: "not configured"}, nil
	}
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err != nil {
		return Status{NeedsAttention: true, StatusMessage: err.Error()}, nil
	}
	return Status{Authenticated: true, HasStoredCredentials: true}, nil
}

func (p *KeyShareProvider) Login(ctx context.Context) error  { return nil }
func (p *KeyShareProvider) Logout(ctx context.Context) error { return nil }

func (p *KeyShareProvider) ListCloudVolumes(ctx context.Context) ([]model.RemoteFileMetadata, error) {
	var out []model.RemoteFileMetadata
	prefix := appFolderName + "/"
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "keyshare: list objects")
		}
		for _, obj := range page.Contents {
			path := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			var modTime time.Time
			if obj.LastModified != nil {
				modTime = *obj.LastModified
			}
			out = append(out, model.RemoteFileMetadata{
				Provider: p.name, FileID: aws.ToString(obj.Key), Path: path,
				ModifiedTime: modTime, Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return out, nil
}

func (p *KeyShareProvider) UploadFile(ctx context.Context, path string, blob []byte, description string) (string, error) {
	key := appFolderName + "/" + path
	meta := map[string]string{}
	if description != "" {
		meta["description"] = description
	}
	_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket), Key: aws.String(key),
		Body: newBytesReader(blob), Metadata: meta,
	})
	if err != nil {
		return "", errors.Wrap(err, "keyshare: upload")
	}
	return key, nil
}

func (p *KeyShareProvider) DownloadFile(ctx context.Context, meta model.RemoteFileMetadata, onProgress func(loaded, total int64)) ([]byte, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(meta.FileID)})
	if err != nil {
		return nil, coserrors.Wrap(coserrors.KindTransient, err, "keyshare: get object")
	}
	defer out.Body.Close()
	sink := &BufferSink{}
	if _, err := io.Copy(progressWriter{sink, onProgress, meta.Size}, out.Body); err != nil {
		return nil, coserrors.Wrap(coserrors.KindTruncation, err, "keyshare: read body")
	}
	return sink.Bytes(), nil
}

func (p *KeyShareProvider) DeleteFile(ctx context.Context, meta model.RemoteFileMetadata) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(meta.FileID)})
	if err != nil && !isNotFoundErr(err) {
		return errors.Wrap(err, "keyshare: delete")
	}
	return nil
}

func (p *KeyShareProvider) DeleteSeriesFolder(ctx context.Context, seriesTitle string) error {
	prefix := appFolderName + "/" + seriesTitle + "/"
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket), Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return errors.Wrap(err, "keyshare: list for series delete")
		}
		for _, obj := range page.Contents {
			if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: obj.Key}); err != nil && !isNotFoundErr(err) {
				return errors.Wrap(err, "keyshare: delete series object")
			}
		}
	}
	return nil
}

func (p *KeyShareProvider) GetStorageQuota(ctx context.Context) (Quota, bool, error) {
	return Quota{}, false, nil // S3-compatible buckets don't expose a quota API generically
}

func (p *KeyShareProvider) SupportsWorkerDownload() bool  { return true }
func (p *KeyShareProvider) UploadConcurrencyLimit() int   { return 2 }
func (p *KeyShareProvider) DownloadConcurrencyLimit() int { return 4 }

func (p *KeyShareProvider) GetWorkerUploadCredentials(ctx context.Context) (WorkerCredentials, error) {
	req, err := p.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket), Key: aws.String(appFolderName + "/.upload-staging"),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return WorkerCredentials{}, errors.Wrap(err, "keyshare: presign upload")
	}
	return WorkerCredentials{URL: req.URL, Method: req.Method, Headers: flattenHeader(req.SignedHeader), ExpiresAt: time.Now().Add(15 * time.Minute)}, nil
}

// flattenHeader collapses the SDK's multi-value header map to the single-
// value form workers consume; presigned requests never carry repeated keys.
func flattenHeader(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// GetWorkerDownloadCredentials mints a presigned GET URL (the "share
// link") scoped to fileID, paired with CleanupWorkerDownload
// below (a no-op here since presigned URLs expire on their own, but a real
// MEGA-backed implementation would revoke an actual share link).
func (p *KeyShareProvider) GetWorkerDownloadCredentials(ctx context.Context, fileID string) (WorkerCredentials, error) {
	expiry := 15 * time.Minute
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket), Key: aws.String(fileID),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return WorkerCredentials{}, errors.Wrap(err, "keyshare: presign download")
	}
	return WorkerCredentials{URL: req.URL, Method: req.Method, Headers: flattenHeader(req.SignedHeader), ExpiresAt: time.Now().Add(expiry)}, nil
}

func (p *KeyShareProvider) CleanupWorkerDownload(ctx context.Context, fileID string) error { return nil }

func (p *KeyShareProvider) PrepareUploadTarget(ctx context.Context, seriesTitle string) (map[string]string, error) {
	return nil, nil // S3-style keys need no pre-created "folder"
}

func (p *KeyShareProvider) GetFolderOperations() (FolderOperations, bool) { return nil, false }
