// Package drive uploads recap exports to Google Drive.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2/google"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/zydorg/kemunify/pkg/logger"
	"github.com/zydorg/kemunify/pkg/metrics"
)

const (
	// DefaultFolderName receives every upload unless configured otherwise.
	DefaultFolderName = "Rekap Sampah Bank Kemuning"

	folderMimeType = "application/vnd.google-apps.folder"
	sheetMimeType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	ErrNoAccount = errors.New("no signed-in account to upload as")
	ErrDisabled  = errors.New("drive uploads are disabled")
)

// Uploaded describes a file stored on Drive.
type Uploaded struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WebViewLink string `json:"web_view_link"`
}

// FileService is the subset of the Drive API the uploader needs.
type FileService interface {
	// FindFolder returns the id of a non-trashed folder called name, or "".
	FindFolder(ctx context.Context, name string) (string, error)
	CreateFolder(ctx context.Context, name string) (string, error)
	Create(ctx context.Context, name, mimeType, parent string, content io.Reader) (Uploaded, error)
}

// ServiceFactory returns a FileService acting on behalf of account.
type ServiceFactory func(ctx context.Context, account string) (FileService, error)

// Uploader puts export files into a Drive folder, creating it on first use.
type Uploader struct {
	folder  string
	factory ServiceFactory
	logger  logger.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithFolderName overrides DefaultFolderName.
func WithFolderName(name string) Option {
	return func(u *Uploader) {
		if name != "" {
			u.folder = name
		}
	}
}

// WithLogger sets the uploader logger.
func WithLogger(l logger.Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.logger = l
		}
	}
}

// NewUploader creates an Uploader using factory for API access.
func NewUploader(factory ServiceFactory, opts ...Option) *Uploader {
	u := &Uploader{folder: DefaultFolderName, factory: factory}
	for _, opt := range opts {
		opt(u)
	}
	if u.logger == nil {
		u.logger = logger.Get()
	}
	u.logger = u.logger.Named("drive")
	return u
}

// Upload stores the file at path in the Drive folder as account.
func (u *Uploader) Upload(ctx context.Context, path, account string) (Uploaded, error) {
	res, err := u.upload(ctx, path, account)
	if err != nil {
		metrics.RecordUpload("failed")
		metrics.RecordErrorByComponent("drive", "upload")
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			u.logger.Error(ctx, "google api error",
				logger.Int("code", gerr.Code), logger.String("message", gerr.Message), logger.String("file", path))
		} else {
			u.logger.Error(ctx, "upload failed", logger.String("file", path), logger.Error(err))
		}
		return Uploaded{}, err
	}
	metrics.RecordUpload("ok")
	u.logger.Info(ctx, "file uploaded", logger.String("id", res.ID), logger.String("name", res.Name))
	return res, nil
}

func (u *Uploader) upload(ctx context.Context, path, account string) (Uploaded, error) {
	if account == "" {
		return Uploaded{}, ErrNoAccount
	}
	if u.factory == nil {
		return Uploaded{}, ErrDisabled
	}
	svc, err := u.factory(ctx, account)
	if err != nil {
		return Uploaded{}, fmt.Errorf("drive service: %w", err)
	}

	folderID, err := u.folderID(ctx, svc)
	if err != nil {
		return Uploaded{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Uploaded{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	res, err := svc.Create(ctx, filepath.Base(path), sheetMimeType, folderID, f)
	if err != nil {
		return Uploaded{}, fmt.Errorf("create file: %w", err)
	}
	return res, nil
}

func (u *Uploader) folderID(ctx context.Context, svc FileService) (string, error) {
	id, err := svc.FindFolder(ctx, u.folder)
	if err != nil {
		return "", fmt.Errorf("find folder: %w", err)
	}
	if id != "" {
		return id, nil
	}
	id, err = svc.CreateFolder(ctx, u.folder)
	if err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	u.logger.Info(ctx, "drive folder created", logger.String("folder", u.folder), logger.String("id", id))
	return id, nil
}

// FolderQuery builds the Drive search for a folder by exact name.
func FolderQuery(name string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(name)
	return fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escaped, folderMimeType)
}

// googleFiles implements FileService on the Drive v3 API.
type googleFiles struct {
	srv *gdrive.Service
}

// NewServiceFactory returns a factory that impersonates the signed-in
// account with a service-account key that has domain-wide delegation.
func NewServiceFactory(credentialsJSON []byte, opts ...option.ClientOption) (ServiceFactory, error) {
	if _, err := google.JWTConfigFromJSON(credentialsJSON, gdrive.DriveFileScope); err != nil {
		return nil, fmt.Errorf("parse drive credentials: %w", err)
	}
	return func(ctx context.Context, account string) (FileService, error) {
		conf, err := google.JWTConfigFromJSON(credentialsJSON, gdrive.DriveFileScope)
		if err != nil {
			return nil, err
		}
		conf.Subject = account
		all := append([]option.ClientOption{option.WithTokenSource(conf.TokenSource(ctx))}, opts...)
		srv, err := gdrive.NewService(ctx, all...)
		if err != nil {
			return nil, err
		}
		return &googleFiles{srv: srv}, nil
	}, nil
}

func (g *googleFiles) FindFolder(ctx context.Context, name string) (string, error) {
	res, err := g.srv.Files.List().
		Q(FolderQuery(name)).
		Spaces("drive").
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	if len(res.Files) == 0 {
		return "", nil
	}
	return res.Files[0].Id, nil
}

func (g *googleFiles) CreateFolder(ctx context.Context, name string) (string, error) {
	f, err := g.srv.Files.Create(&gdrive.File{Name: name, MimeType: folderMimeType}).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (g *googleFiles) Create(ctx context.Context, name, mimeType, parent string, content io.Reader) (Uploaded, error) {
	f, err := g.srv.Files.Create(&gdrive.File{Name: name, Parents: []string{parent}}).
		Media(content, googleapi.ContentType(mimeType)).
		Fields("id, name, webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return Uploaded{}, err
	}
	return Uploaded{ID: f.Id, Name: f.Name, WebViewLink: f.WebViewLink}, nil
}
