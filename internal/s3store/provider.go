package s3store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tonimelisma/savesync/internal/cloud"
	"github.com/tonimelisma/savesync/internal/rest"
)

// Provider is the S3 cloud.Provider. It signs requests with the SDK and
// needs no interactive authorization.
type Provider struct {
	name     string
	client   *s3.Client
	creds    aws.CredentialsProvider
	static   bool
	bucket   string
	cfg      Config
	maxKeys  int32
	observer rest.Observer
	logger   *slog.Logger
}

var _ cloud.Provider = (*Provider)(nil)

// New validates cfg and builds the S3 client.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = defaultName
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &cloud.OpError{Op: "New", Provider: name, Name: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle

		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Most S3-compatible stores reject the SDK's default trailing checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	return &Provider{
		name:     name,
		client:   client,
		creds:    awsCfg.Credentials,
		static:   cfg.AccessKeyID != "",
		bucket:   cfg.Bucket,
		cfg:      cfg,
		maxKeys:  clampMaxKeys(cfg.MaxKeys),
		observer: cfg.Observer,
		logger:   logger,
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	// Failures surface to the caller; the sync loop decides when to try again.
	opts := []func(*config.LoadOptions) error{config.WithRetryMaxAttempts(1)}

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	// The SDK only layers AWS_CA_BUNDLE onto its own buildable client.
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, config.WithHTTPClient(awshttp.NewBuildableClient().
			WithDialerOptions(func(d *net.Dialer) { d.Timeout = cfg.ConnectTimeout })))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("s3store: loading aws config: %w", err)
	}

	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

// Name returns the provider instance name.
func (p *Provider) Name() string { return p.name }

// NeedAuthorization is false: keys are configured, not consented.
func (p *Provider) NeedAuthorization() bool { return false }

// HaveDefaultCredentials reports whether static keys were configured.
func (p *Provider) HaveDefaultCredentials() bool { return p.static }

// ReadyForRequest reports whether any credential source is available.
func (p *Provider) ReadyForRequest() bool { return p.creds != nil }

// Authenticate resolves credentials through the configured chain.
func (p *Provider) Authenticate(ctx context.Context) error {
	if p.creds == nil {
		return p.opError("Authenticate", "", cloud.ErrNotReady)
	}

	if _, err := p.creds.Retrieve(ctx); err != nil {
		return p.opError("Authenticate", "", fmt.Errorf("%w: %w", cloud.ErrAuth, err))
	}

	return nil
}

// Authorize has nothing to do for static credentials.
func (p *Provider) Authorize(_ context.Context, callback func(success bool)) cloud.AuthorizationStatus {
	if p.creds == nil {
		return cloud.AuthFailed
	}

	return cloud.AuthComplete
}

// ListFiles appends the objects and sub-prefixes directly under folder,
// following ListObjectsV2 continuation tokens.
func (p *Provider) ListFiles(ctx context.Context, folder *cloud.Item) error {
	prefix := folder.ID

	err := cloud.ListInto(ctx, folder, func(ctx context.Context, token string) (cloud.Page, error) {
		input := &s3.ListObjectsV2Input{
			Bucket:    aws.String(p.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
			MaxKeys:   aws.Int32(p.maxKeys),
		}

		if token != "" {
			input.ContinuationToken = aws.String(token)
		}

		out, err := p.client.ListObjectsV2(ctx, input)
		p.observe("list", err)

		if err != nil {
			return cloud.Page{}, classify(err)
		}

		now := time.Now()
		items := make([]*cloud.Item, 0, len(out.CommonPrefixes)+len(out.Contents))

		for _, cp := range out.CommonPrefixes {
			key := aws.ToString(cp.Prefix)

			item := cloud.NewFolder(key, path.Base(strings.TrimSuffix(key, "/")))
			item.LastSyncTime = now
			items = append(items, item)
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue // folder marker
			}

			items = append(items, fileItem(key, aws.ToInt64(obj.Size), aws.ToString(obj.ETag), now))
		}

		page := cloud.Page{Items: items}
		if aws.ToBool(out.IsTruncated) {
			page.NextToken = aws.ToString(out.NextContinuationToken)
		}

		return page, nil
	})

	return p.opError("ListFiles", folder.Name, err)
}

// GetFolderMetadata resolves a role folder. The folder exists when any
// object, including its marker, carries the prefix.
func (p *Provider) GetFolderMetadata(ctx context.Context, name string) (*cloud.Item, error) {
	prefix := p.cfg.prefix(name)

	out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	p.observe("get-folder", err)

	if err != nil {
		return nil, p.opError("GetFolderMetadata", name, classify(err))
	}

	if aws.ToInt32(out.KeyCount) == 0 && len(out.Contents) == 0 {
		return nil, p.opError("GetFolderMetadata", name, fmt.Errorf("%w: prefix %q", cloud.ErrNotFound, prefix))
	}

	item := cloud.NewFolder(prefix, name)
	item.LastSyncTime = time.Now()

	return item, nil
}

// GetFileMetadata re-fetches file by key.
func (p *Provider) GetFileMetadata(ctx context.Context, file *cloud.Item) (*cloud.Item, error) {
	item, err := p.head(ctx, file.ID)
	if err != nil {
		return nil, p.opError("GetFileMetadata", file.Name, err)
	}

	return item, nil
}

// GetFileMetadataByName resolves name directly under folder.
func (p *Provider) GetFileMetadataByName(ctx context.Context, folder *cloud.Item, name string) (*cloud.Item, error) {
	item, err := p.head(ctx, folder.ID+name)
	if err != nil {
		return nil, p.opError("GetFileMetadataByName", name, err)
	}

	return item, nil
}

func (p *Provider) head(ctx context.Context, key string) (*cloud.Item, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	p.observe("head", err)

	if err != nil {
		return nil, classify(err)
	}

	return fileItem(key, aws.ToInt64(out.ContentLength), aws.ToString(out.ETag), time.Now()), nil
}

// CreateFolder writes the zero-byte marker object for a role folder.
func (p *Provider) CreateFolder(ctx context.Context, name string) (*cloud.Item, error) {
	prefix := p.cfg.prefix(name)

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(prefix),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	p.observe("create-folder", err)

	if err != nil {
		return nil, p.opError("CreateFolder", name, classify(err))
	}

	p.logger.Info("created folder",
		slog.String("provider", p.name),
		slog.String("name", name),
		slog.String("prefix", prefix),
	)

	item := cloud.NewFolder(prefix, name)
	item.LastSyncTime = time.Now()

	return item, nil
}

// DeleteFile removes the object.
func (p *Provider) DeleteFile(ctx context.Context, file *cloud.Item) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(file.ID),
	})
	p.observe("delete", err)

	if err != nil {
		return p.opError("DeleteFile", file.Name, classify(err))
	}

	return nil
}

// DownloadFile streams the object into localPath atomically.
func (p *Provider) DownloadFile(ctx context.Context, file *cloud.Item, localPath string) error {
	if file.IsFolder() {
		return p.opError("DownloadFile", file.Name, fmt.Errorf("%w: cannot download a folder", cloud.ErrInvalidTree))
	}

	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(file.ID),
	})
	p.observe("download", err)

	if err != nil {
		return p.opError("DownloadFile", file.Name, classify(err))
	}
	defer out.Body.Close()

	if err := rest.WriteFileAtomic(localPath, out.Body); err != nil {
		return p.opError("DownloadFile", file.Name, fmt.Errorf("%w: %w", cloud.ErrTransport, err))
	}

	p.logger.Debug("download complete",
		slog.String("provider", p.name),
		slog.String("key", file.ID),
		slog.String("path", localPath),
	)

	return nil
}

// UploadFile puts localPath at file's key, or at dir's prefix plus the
// file name for a new file.
func (p *Provider) UploadFile(ctx context.Context, dir, file *cloud.Item, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return p.opError("UploadFile", file.Name, fmt.Errorf("s3store: opening %s: %w", localPath, err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return p.opError("UploadFile", file.Name, fmt.Errorf("s3store: stat %s: %w", localPath, err))
	}

	key := file.ID
	if key == "" {
		key = dir.ID + file.Name
	}

	out, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	p.observe("upload", err)

	if err != nil {
		return p.opError("UploadFile", file.Name, classify(err))
	}

	file.ID = key
	file.Update(fileItem(key, info.Size(), aws.ToString(out.ETag), time.Now()))

	p.logger.Info("uploaded file",
		slog.String("provider", p.name),
		slog.String("name", file.Name),
		slog.String("key", key),
		slog.Int64("size", info.Size()),
	)

	return nil
}

// fileItem builds a file item from object metadata. A single-part ETag is
// the content MD5; a multipart ETag ("<md5>-<parts>") is no content hash.
func fileItem(key string, size int64, etag string, now time.Time) *cloud.Item {
	data := cloud.FileData{Size: size}

	if tag := cleanETag(etag); tag != "" && !strings.Contains(tag, "-") {
		data.HashType, data.HashValue = cloud.HashMD5, strings.ToLower(tag)
	}

	item := cloud.NewFile(key, path.Base(key), data)
	item.LastSyncTime = now

	return item
}

func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

func (p *Provider) observe(op string, err error) {
	if p.observer != nil {
		p.observer.ObserveRequest(p.name, op, statusOf(err))
	}
}

func (p *Provider) opError(op, name string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrConfig) {
		return err
	}

	return &cloud.OpError{Op: op, Provider: p.name, Name: name, Err: err}
}
