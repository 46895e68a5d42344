// Package gdrive adapts Google Drive v3 to the RemoteClient capability.
// Synchronization roots are folders carrying the docsyncRoot app property.
package gdrive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"docsync/internal/client"
	"docsync/internal/logger"
	"docsync/internal/model"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
)

const (
	folderMime   = "application/vnd.google-apps.folder"
	nativePrefix = "application/vnd.google-apps."
	rootProperty = "docsyncRoot"
	myDrive      = "my-drive"

	fileFields   = "id, name, parents, mimeType, md5Checksum, modifiedTime, trashed, driveId"
	listFields   = "nextPageToken, files(" + fileFields + ")"
	changeFields = "nextPageToken, newStartPageToken, changes(fileId, removed, time, file(trashed))"
)

type Remote struct {
	svc        *drive.Service
	maxChanges int
}

func NewRemote(svc *drive.Service, maxChanges int) *Remote {
	return &Remote{svc: svc, maxChanges: maxChanges}
}

func toInfo(f *drive.File) *model.RemoteInfo {
	info := &model.RemoteInfo{
		Ref:       f.Id,
		Name:      f.Name,
		Folderish: f.MimeType == folderMime,
		Repo:      myDrive,
	}
	if len(f.Parents) > 0 {
		info.ParentRef = f.Parents[0]
	}
	if f.DriveId != "" {
		info.Repo = f.DriveId
	}
	if !info.Folderish {
		info.Digest = f.Md5Checksum
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		info.ModTime = t
	}
	return info
}

// native documents (Docs, Sheets...) have no binary content to mirror
func isNative(f *drive.File) bool {
	return f.MimeType != folderMime && strings.HasPrefix(f.MimeType, nativePrefix)
}

func (r *Remote) GetInfo(ctx context.Context, ref string, raiseIfMissing bool) (*model.RemoteInfo, error) {
	f, err := r.svc.Files.Get(ref).Fields(fileFields).SupportsAllDrives(true).Context(ctx).Do()
	err = mapErr("get "+ref, err)
	if err == nil && f.Trashed {
		err = fmt.Errorf("get %s: trashed: %w", ref, client.ErrNotFound)
	}
	if err != nil {
		if isNotFound(err) && !raiseIfMissing {
			return nil, nil
		}
		return nil, err
	}
	return toInfo(f), nil
}

func (r *Remote) GetChildrenInfo(ctx context.Context, ref string) ([]model.RemoteInfo, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", escape(ref))
	return r.list(ctx, q)
}

func (r *Remote) list(ctx context.Context, q string) ([]model.RemoteInfo, error) {
	var out []model.RemoteInfo
	err := r.svc.Files.List().
		Q(q).
		Fields(listFields).
		PageSize(1000).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(list *drive.FileList) error {
			for _, f := range list.Files {
				if isNative(f) {
					logger.Log.Debug("skipping native document",
						zap.String("remote_ref", f.Id),
						zap.String("name", f.Name),
						zap.String("mime_type", f.MimeType))
					continue
				}
				out = append(out, *toInfo(f))
			}
			return nil
		})
	if err != nil {
		return nil, mapErr("list", err)
	}
	return out, nil
}

func (r *Remote) GetContent(ctx context.Context, ref string) (io.ReadCloser, error) {
	resp, err := r.svc.Files.Get(ref).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, mapErr("download "+ref, err)
	}
	return resp.Body, nil
}

func (r *Remote) UpdateContent(ctx context.Context, ref string, rd io.Reader) error {
	_, err := r.svc.Files.Update(ref, &drive.File{}).
		Media(rd).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	return mapErr("upload "+ref, err)
}

func (r *Remote) MakeFile(ctx context.Context, parentRef, name string, rd io.Reader) (string, error) {
	call := r.svc.Files.Create(&drive.File{Name: name, Parents: []string{parentRef}}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx)
	if rd != nil {
		call = call.Media(rd)
	}
	created, err := call.Do()
	if err != nil {
		return "", mapErr("create "+name, err)
	}
	return created.Id, nil
}

func (r *Remote) MakeFolder(ctx context.Context, parentRef, name string) (string, error) {
	created, err := r.svc.Files.Create(&drive.File{Name: name, MimeType: folderMime, Parents: []string{parentRef}}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", mapErr("create folder "+name, err)
	}
	return created.Id, nil
}

// Delete moves the document to the trash.
func (r *Remote) Delete(ctx context.Context, ref string) error {
	_, err := r.svc.Files.Update(ref, &drive.File{Trashed: true}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	return mapErr("trash "+ref, err)
}

func (r *Remote) Move(ctx context.Context, ref, newParentRef string) error {
	f, err := r.svc.Files.Get(ref).Fields("parents").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return mapErr("get "+ref, err)
	}

	_, err = r.svc.Files.Update(ref, &drive.File{}).
		AddParents(newParentRef).
		RemoveParents(strings.Join(f.Parents, ",")).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	return mapErr("move "+ref, err)
}

func (r *Remote) Rename(ctx context.Context, ref, newName string) error {
	_, err := r.svc.Files.Update(ref, &drive.File{Name: newName}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	return mapErr("rename "+ref, err)
}

// GetChanges reads the change feed from cursor. An empty cursor starts a new
// feed. The roots argument is not sent to Drive; the root definitions of the
// summary are always recomputed from GetRoots.
func (r *Remote) GetChanges(ctx context.Context, cursor string, _ string) (*model.ChangeSummary, error) {
	roots, err := r.GetRoots(ctx)
	if err != nil {
		return nil, err
	}
	summary := &model.ChangeSummary{RootDefinitions: rootDefinitions(roots)}

	if cursor == "" {
		if summary.Cursor, err = r.startCursor(ctx); err != nil {
			return nil, err
		}
		return summary, nil
	}

	token := cursor
	for {
		list, err := r.svc.Changes.List(token).
			Fields(changeFields).
			PageSize(1000).
			IncludeRemoved(true).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx).
			Do()
		if err != nil {
			return nil, mapErr("list changes", err)
		}

		for _, c := range list.Changes {
			change := model.Change{
				Ref:     c.FileId,
				Removed: c.Removed || (c.File != nil && c.File.Trashed),
			}
			if t, err := time.Parse(time.RFC3339, c.Time); err == nil {
				change.EventTime = t
			}
			summary.Changes = append(summary.Changes, change)
		}

		if r.maxChanges > 0 && len(summary.Changes) > r.maxChanges {
			logger.Log.Info("change feed truncated",
				zap.Int("changes", len(summary.Changes)),
				zap.Int("max_changes", r.maxChanges))
			summary.Changes = nil
			summary.TooManyChanges = true
			if summary.Cursor, err = r.startCursor(ctx); err != nil {
				return nil, err
			}
			return summary, nil
		}

		if list.NextPageToken == "" {
			summary.Cursor = list.NewStartPageToken
			return summary, nil
		}
		token = list.NextPageToken
	}
}

func (r *Remote) startCursor(ctx context.Context) (string, error) {
	start, err := r.svc.Changes.GetStartPageToken().SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", mapErr("get start page token", err)
	}
	return start.StartPageToken, nil
}

func rootDefinitions(roots []model.RemoteInfo) string {
	refs := make([]string, 0, len(roots))
	for _, r := range roots {
		refs = append(refs, r.Ref)
	}
	sort.Strings(refs)
	return strings.Join(refs, ",")
}

func (r *Remote) GetRoots(ctx context.Context) ([]model.RemoteInfo, error) {
	q := fmt.Sprintf("appProperties has { key='%s' and value='true' } and mimeType='%s' and trashed=false", rootProperty, folderMime)
	return r.list(ctx, q)
}

func (r *Remote) RegisterAsRoot(ctx context.Context, ref string) error {
	return r.setRoot(ctx, ref, "true")
}

func (r *Remote) UnregisterAsRoot(ctx context.Context, ref string) error {
	return r.setRoot(ctx, ref, "false")
}

func (r *Remote) setRoot(ctx context.Context, ref, value string) error {
	_, err := r.svc.Files.Update(ref, &drive.File{AppProperties: map[string]string{rootProperty: value}}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	return mapErr("mark root "+ref, err)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

var _ client.RemoteClient = (*Remote)(nil)
