package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	coserrors "github.com/mokuroreader/corestore/cmn/errors"
	"github.com/mokuroreader/corestore/model"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// appFolderName is the known top-level app folder, and the
// folder-deduplicator's canonical-root notification target.
const appFolderName = "MokuroReader"

const mimeFolder = "application/vnd.google-apps.folder"

// CapMapProvider is the Google-Drive-like capability-map provider
// variant: fileId-addressed, mutable parents, tolerates duplicate sibling
// folders (hence needs the dedup package).
type CapMapProvider struct {
	name  string
	token string // OAuth access token; empty until Login
	svc   func(ctx context.Context) (*drive.Service, error)

	appFolderID string
}

var _ Provider = (*CapMapProvider)(nil)
var _ FolderOperations = capMapFolderOps{}

// capMapFolderOps presents a CapMapProvider as FolderOperations, whose
// DeleteFile takes a bare file id instead of a RemoteFileMetadata.
type capMapFolderOps struct{ *CapMapProvider }

func (o capMapFolderOps) DeleteFile(ctx context.Context, fileID string) error {
	return o.CapMapProvider.DeleteFile(ctx, model.RemoteFileMetadata{FileID: fileID})
}

// NewCapMapProvider builds a provider bound to a token source. tokenSource
// returns the current OAuth access token (refreshed out-of-band); it is
// called lazily so credentials are fetched at the last moment before use.
func NewCapMapProvider(name string, tokenSource func(ctx context.Context) (string, error)) *CapMapProvider {
	p := &CapMapProvider{name: name}
	p.svc = func(ctx context.Context) (*drive.Service, error) {
		tok, err := tokenSource(ctx)
		if err != nil {
			return nil, coserrors.Wrap(coserrors.KindAuth, err, "capmap: token source")
		}
		p.token = tok
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})
		return drive.NewService(ctx, option.WithTokenSource(src))
	}
	return p
}

func (CapMapProvider) Kind() Kind    { return KindCapabilityMap }
func (p *CapMapProvider) Name() string { return p.name }

func (p *CapMapProvider) IsAuthenticated() bool { return p.token != "" }

func (p *CapMapProvider) GetStatus(ctx context.Context) (Status, error) {
	_, err := p.svc(ctx)
	if err != nil {
		return Status{NeedsAttention: true, StatusMessage: err.Error()}, nil
	}
	return Status{Authenticated: true, HasStoredCredentials: p.token != ""}, nil
}

func (p *CapMapProvider) Login(ctx context.Context) error {
	_, err := p.svc(ctx)
	return err
}

func (p *CapMapProvider) Logout(ctx context.Context) error {
	p.token = ""
	return nil
}

// ListCloudVolumes lists every file under the app folder recursively,
// producing "Series/Volume.ext" paths.
func (p *CapMapProvider) ListCloudVolumes(ctx context.Context) ([]model.RemoteFileMetadata, error) {
	srv, err := p.svc(ctx)
	if err != nil {
		return nil, err
	}
	appID, err := p.ensureAppFolder(ctx, srv)
	if err != nil {
		return nil, err
	}

	folders, err := p.listAllFolders(ctx, srv)
	if err != nil {
		return nil, err
	}
	nameByID := map[string]string{appID: ""}
	for _, f := range folders {
		nameByID[f.ID] = f.Name
	}

	var out []model.RemoteFileMetadata
	q := fmt.Sprintf("trashed = false and mimeType != '%s'", mimeFolder)
	err = srv.Files.List().Q(q).
		Fields("nextPageToken, files(id,name,parents,modifiedTime,size,description)").
		Pages(ctx, func(r *drive.FileList) error {
			for _, f := range r.Files {
				parent := ""
				if len(f.Parents) > 0 {
					parent = f.Parents[0]
				}
				seriesName := nameByID[parent]
				path := f.Name
				if seriesName != "" {
					path = seriesName + "/" + f.Name
				}
				modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
				out = append(out, model.RemoteFileMetadata{
					Provider:     p.name,
					FileID:       f.Id,
					Path:         path,
					ModifiedTime: modTime,
					Size:         f.Size,
					Description:  f.Description,
				})
			}
			return nil
		})
	if err != nil {
		return nil, errors.Wrap(err, "capmap: list files")
	}
	return out, nil
}

func (p *CapMapProvider) listAllFolders(ctx context.Context, srv *drive.Service) ([]Folder, error) {
	var out []Folder
	q := fmt.Sprintf("trashed = false and mimeType = '%s'", mimeFolder)
	err := srv.Files.List().Q(q).
		Fields("nextPageToken, files(id,name,parents,createdTime)").
		Pages(ctx, func(r *drive.FileList) error {
			for _, f := range r.Files {
				parent := ""
				if len(f.Parents) > 0 {
					parent = f.Parents[0]
				}
				created, _ := time.Parse(time.RFC3339, f.CreatedTime)
				out = append(out, Folder{ID: f.Id, Name: f.Name, ParentID: parent, CreatedAt: created})
			}
			return nil
		})
	return out, errors.Wrap(err, "capmap: list folders")
}

// ensureAppFolder finds or creates the top-level app folder.
func (p *CapMapProvider) ensureAppFolder(ctx context.Context, srv *drive.Service) (string, error) {
	if p.appFolderID != "" {
		return p.appFolderID, nil
	}
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false and 'root' in parents", appFolderName, mimeFolder)
	r, err := srv.Files.List().Q(q).Fields("files(id,createdTime)").Do()
	if err != nil {
		return "", errors.Wrap(err, "capmap: find app folder")
	}
	if len(r.Files) > 0 {
		p.appFolderID = r.Files[0].Id
		return p.appFolderID, nil
	}
	created, err := srv.Files.Create(&drive.File{Name: appFolderName, MimeType: mimeFolder, Parents: []string{"root"}}).Do()
	if err != nil {
		return "", errors.Wrap(err, "capmap: create app folder")
	}
	p.appFolderID = created.Id
	return p.appFolderID, nil
}

// ensureSeriesFolder finds or creates (without deduplicating — that's the
// dedup package's job) a child folder under the app folder named seriesTitle, returning its
// id. PrepareUploadTarget callers serialise per (provider, seriesTitle) —
// the caller (queue/backup.go) owns that lock, not this method.
func (p *CapMapProvider) ensureSeriesFolder(ctx context.Context, srv *drive.Service, seriesTitle string) (string, error) {
	appID, err := p.ensureAppFolder(ctx, srv)
	if err != nil {
		return "", err
	}
	escaped := strings.ReplaceAll(seriesTitle, "'", "\\'")
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false and '%s' in parents", escaped, mimeFolder, appID)
	r, err := srv.Files.List().Q(q).Fields("files(id)").Do()
	if err != nil {
		return "", errors.Wrap(err, "capmap: find series folder")
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}
	created, err := srv.Files.Create(&drive.File{Name: seriesTitle, MimeType: mimeFolder, Parents: []string{appID}}).Do()
	if err != nil {
		return "", errors.Wrap(err, "capmap: create series folder")
	}
	return created.Id, nil
}

func (p *CapMapProvider) PrepareUploadTarget(ctx context.Context, seriesTitle string) (map[string]string, error) {
	srv, err := p.svc(ctx)
	if err != nil {
		return nil, err
	}
	folderID, err := p.ensureSeriesFolder(ctx, srv, seriesTitle)
	if err != nil {
		return nil, err
	}
	return map[string]string{"folderId": folderID}, nil
}

func (p *CapMapProvider) UploadFile(ctx context.Context, path string, blob []byte, description string) (string, error) {
	srv, err := p.svc(ctx)
	if err != nil {
		return "", err
	}
	seriesTitle, name := splitCloudPath(path)
	folderID, err := p.ensureSeriesFolder(ctx, srv, seriesTitle)
	if err != nil {
		return "", err
	}
	file := &drive.File{Name: name, Parents: []string{folderID}, Description: description}
	created, err := srv.Files.Create(file).Media(newBytesReader(blob)).Do()
	if err != nil {
		return "", errors.Wrap(err, "capmap: upload")
	}
	return created.Id, nil
}

func (p *CapMapProvider) DownloadFile(ctx context.Context, meta model.RemoteFileMetadata, onProgress func(loaded, total int64)) ([]byte, error) {
	srv, err := p.svc(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := srv.Files.Get(meta.FileID).Download()
	if err != nil {
		return nil, errors.Wrap(err, "capmap: download")
	}
	defer resp.Body.Close()
	sink := &BufferSink{}
	if _, err := io.Copy(progressWriter{sink, onProgress, meta.Size}, resp.Body); err != nil {
		return nil, coserrors.Wrap(coserrors.KindTransient, err, "capmap: read body")
	}
	return sink.Bytes(), nil
}

func (p *CapMapProvider) DeleteFile(ctx context.Context, meta model.RemoteFileMetadata) error {
	srv, err := p.svc(ctx)
	if err != nil {
		return err
	}
	if err := srv.Files.Delete(meta.FileID).Do(); err != nil && !isNotFoundErr(err) {
		return errors.Wrap(err, "capmap: delete")
	}
	return nil
}

func (p *CapMapProvider) DeleteSeriesFolder(ctx context.Context, seriesTitle string) error {
	srv, err := p.svc(ctx)
	if err != nil {
		return err
	}
	id, err := p.ensureSeriesFolder(ctx, srv, seriesTitle)
	if err != nil {
		return err
	}
	if err := srv.Files.Delete(id).Do(); err != nil && !isNotFoundErr(err) {
		return errors.Wrap(err, "capmap: delete series folder")
	}
	return nil
}

func (p *CapMapProvider) GetStorageQuota(ctx context.Context) (Quota, bool, error) {
	srv, err := p.svc(ctx)
	if err != nil {
		return Quota{}, false, err
	}
	about, err := srv.About.Get().Fields("storageQuota").Do()
	if err != nil {
		return Quota{}, false, errors.Wrap(err, "capmap: quota")
	}
	return Quota{Used: about.StorageQuota.Usage, Total: about.StorageQuota.Limit}, true, nil
}

func (p *CapMapProvider) SupportsWorkerDownload() bool   { return true }
func (p *CapMapProvider) UploadConcurrencyLimit() int    { return 3 }
func (p *CapMapProvider) DownloadConcurrencyLimit() int  { return 4 }

// GetWorkerUploadCredentials/GetWorkerDownloadCredentials mint a short-lived
// signed bundle a worker can use without round-tripping through
// the main thread's OAuth client. The access token itself is the
// credential; we wrap it in a JWT so the worker's copy is tamper-evident
// and self-describing an expiry.
func (p *CapMapProvider) GetWorkerUploadCredentials(ctx context.Context) (WorkerCredentials, error) {
	return p.signedCredentials(ctx, "")
}

func (p *CapMapProvider) GetWorkerDownloadCredentials(ctx context.Context, fileID string) (WorkerCredentials, error) {
	return p.signedCredentials(ctx, fileID)
}

func (p *CapMapProvider) signedCredentials(ctx context.Context, fileID string) (WorkerCredentials, error) {
	if _, err := p.svc(ctx); err != nil {
		return WorkerCredentials{}, err
	}
	expiresAt := time.Now().Add(10 * time.Minute)
	claims := jwt.RegisteredClaims{
		Subject:   fileID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(p.token))
	if err != nil {
		return WorkerCredentials{}, errors.Wrap(err, "capmap: sign worker credentials")
	}
	url := "https://www.googleapis.com/drive/v3/files"
	if fileID != "" {
		url += "/" + fileID + "?alt=media"
	}
	return WorkerCredentials{
		URL:       url,
		Headers:   map[string]string{"Authorization": "Bearer " + p.token, "X-Mokuro-Worker-Token": signed},
		Method:    "GET",
		ExpiresAt: expiresAt,
	}, nil
}

// CleanupWorkerDownload is a no-op for capability-map providers: no
// share-link was minted (the worker used the OAuth token directly), so
// there is nothing to revoke. Cleanup failures must be non-fatal, which a
// no-op trivially satisfies.
func (p *CapMapProvider) CleanupWorkerDownload(ctx context.Context, fileID string) error { return nil }

func (p *CapMapProvider) GetFolderOperations() (FolderOperations, bool) {
	return capMapFolderOps{p}, true
}

func (p *CapMapProvider) ListFolders(ctx context.Context) ([]Folder, error) {
	srv, err := p.svc(ctx)
	if err != nil {
		return nil, err
	}
	return p.listAllFolders(ctx, srv)
}

func (p *CapMapProvider) ListChildren(ctx context.Context, folderID string) ([]Child, error) {
	srv, err := p.svc(ctx)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("trashed = false and '%s' in parents", folderID)
	var out []Child
	err = srv.Files.List().Q(q).Fields("nextPageToken, files(id,name,mimeType)").
		Pages(ctx, func(r *drive.FileList) error {
			for _, f := range r.Files {
				out = append(out, Child{ID: f.Id, Name: f.Name, IsFolder: f.MimeType == mimeFolder})
			}
			return nil
		})
	return out, errors.Wrap(err, "capmap: list children")
}

func (p *CapMapProvider) MoveChild(ctx context.Context, childID, newParentID string) error {
	srv, err := p.svc(ctx)
	if err != nil {
		return err
	}
	f, err := srv.Files.Get(childID).Fields("parents").Do()
	if err != nil {
		return errors.Wrap(err, "capmap: get child parents")
	}
	_, err = srv.Files.Update(childID, &drive.File{}).
		AddParents(newParentID).
		RemoveParents(strings.Join(f.Parents, ",")).
		Do()
	return errors.Wrap(err, "capmap: move child")
}

func (p *CapMapProvider) DeleteFolder(ctx context.Context, folderID string) error {
	srv, err := p.svc(ctx)
	if err != nil {
		return err
	}
	if err := srv.Files.Delete(folderID).Do(); err != nil && !isNotFoundErr(err) {
		return errors.Wrap(err, "capmap: delete folder")
	}
	return nil
}

func splitCloudPath(path string) (series, name string) {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return "", path
}

func isNotFoundErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found") || strings.Contains(err.Error(), "404")
}
