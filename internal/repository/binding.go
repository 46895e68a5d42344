package repository

import (
	"errors"
	"fmt"
	"time"

	"docsync/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrBindingGone reports an update addressed to a binding removed since
	// it was loaded.
	ErrBindingGone = errors.New("binding no longer exists")
	// ErrCredentialsChanged reports that the stored credentials are no longer
	// the ones the caller replaced.
	ErrCredentialsChanged = errors.New("binding credentials changed")
)

type BindingRepository struct {
	db *gorm.DB
}

func NewBindingRepository(db *gorm.DB) *BindingRepository {
	return &BindingRepository{db: db}
}

func (r *BindingRepository) Save(b *model.Binding) error {
	return wrap("save binding", r.db.Save(b).Error)
}

// SaveCheckpoint writes the change feed cursor and root definitions only.
func (r *BindingRepository) SaveCheckpoint(b *model.Binding) error {
	return r.update(b.LocalFolder, "save checkpoint", map[string]any{
		"last_sync_cursor":      b.LastSyncCursor,
		"last_root_definitions": b.LastRootDefinitions,
	})
}

func (r *BindingRepository) SaveMaintenance(b *model.Binding) error {
	return r.update(b.LocalFolder, "save maintenance", map[string]any{
		"maintenance_until":    timeOrNil(b.MaintenanceUntil),
		"next_maintenance_nag": timeOrNil(b.NextMaintenanceNag),
	})
}

func (r *BindingRepository) SaveQuota(b *model.Binding) error {
	return r.update(b.LocalFolder, "save quota", map[string]any{
		"quota_exceeded": b.QuotaExceeded,
		"next_quota_nag": timeOrNil(b.NextQuotaNag),
	})
}

func (r *BindingRepository) SaveCredentials(b *model.Binding) error {
	return r.update(b.LocalFolder, "save credentials", credentials(b))
}

// ReplaceCredentials stores the credentials of b only if the stored ones
// still match previous.
func (r *BindingRepository) ReplaceCredentials(previous, b *model.Binding) error {
	res := r.db.Model(&model.Binding{}).
		Where("local_folder = ? AND remote_token = ? AND remote_password = ?",
			b.LocalFolder, previous.RemoteToken, previous.RemotePassword).
		Updates(credentials(b))
	if res.Error != nil {
		return wrap("replace credentials", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := r.Get(b.LocalFolder)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: %s", ErrBindingGone, b.LocalFolder)
	}
	return fmt.Errorf("%w: %s", ErrCredentialsChanged, b.LocalFolder)
}

func (r *BindingRepository) update(localFolder, op string, cols map[string]any) error {
	res := r.db.Model(&model.Binding{}).Where("local_folder = ?", localFolder).Updates(cols)
	if res.Error != nil {
		return wrap(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrBindingGone, localFolder)
	}
	return nil
}

func credentials(b *model.Binding) map[string]any {
	return map[string]any{
		"remote_password": b.RemotePassword,
		"remote_token":    b.RemoteToken,
		"needs_sign_in":   b.NeedsSignIn,
	}
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (r *BindingRepository) Get(localFolder string) (*model.Binding, error) {
	var b model.Binding
	if err := r.db.Where("local_folder = ?", localFolder).First(&b).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, wrap("get binding", err)
	}

	return &b, nil
}

func (r *BindingRepository) GetAll() ([]model.Binding, error) {
	var bindings []model.Binding
	return bindings, wrap("list bindings", r.db.Order("local_folder").Find(&bindings).Error)
}

// Delete removes the binding with its roots, folders and pairs.
func (r *BindingRepository) Delete(localFolder string) error {
	return wrap("delete binding", r.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.Pair{}, &model.RootBinding{}, &model.SyncFolder{}, &model.Binding{}} {
			if err := tx.Where("local_folder = ?", localFolder).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	}))
}

type RootRepository struct {
	db *gorm.DB
}

func NewRootRepository(db *gorm.DB) *RootRepository {
	return &RootRepository{db: db}
}

func (r *RootRepository) Save(root *model.RootBinding) error {
	return wrap("save root", r.db.Save(root).Error)
}

func (r *RootRepository) Get(localRoot string) (*model.RootBinding, error) {
	var root model.RootBinding
	if err := r.db.Where("local_root = ?", localRoot).First(&root).Error; err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, wrap("get root", err)
	}

	return &root, nil
}

func (r *RootRepository) ByFolder(localFolder string) ([]model.RootBinding, error) {
	var roots []model.RootBinding
	err := r.db.Where("local_folder = ?", localFolder).Order("local_root").Find(&roots).Error
	return roots, wrap("list roots", err)
}

// Delete removes the root and every pair under it.
func (r *RootRepository) Delete(localRoot string) error {
	return wrap("delete root", r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("local_root = ?", localRoot).Delete(&model.Pair{}).Error; err != nil {
			return err
		}
		return tx.Where("local_root = ?", localRoot).Delete(&model.RootBinding{}).Error
	}))
}

type FolderRepository struct {
	db *gorm.DB
}

func NewFolderRepository(db *gorm.DB) *FolderRepository {
	return &FolderRepository{db: db}
}

// Upsert stores the folder keyed by its remote id within the binding.
func (r *FolderRepository) Upsert(f *model.SyncFolder) error {
	var existing model.SyncFolder
	err := r.db.Where("local_folder = ? AND remote_id = ?", f.LocalFolder, f.RemoteID).First(&existing).Error
	switch {
	case err == nil:
		f.ID = existing.ID
	case !notFound(err):
		return wrap("get sync folder", err)
	}

	return wrap("save sync folder", r.db.Save(f).Error)
}

func (r *FolderRepository) ByFolder(localFolder string) ([]model.SyncFolder, error) {
	var folders []model.SyncFolder
	err := r.db.Where("local_folder = ?", localFolder).Order("name").Find(&folders).Error
	return folders, wrap("list sync folders", err)
}

// SetBound flags exactly the given remote ids as checked roots.
func (r *FolderRepository) SetBound(localFolder string, remoteIDs []string) error {
	return wrap("update sync folders", r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.SyncFolder{}).
			Where("local_folder = ?", localFolder).
			Updates(map[string]any{"checked": false, "bound_as_root": false}).Error; err != nil {
			return err
		}
		if len(remoteIDs) == 0 {
			return nil
		}
		return tx.Model(&model.SyncFolder{}).
			Where("local_folder = ? AND remote_id IN ?", localFolder, remoteIDs).
			Updates(map[string]any{"checked": true, "bound_as_root": true}).Error
	}))
}
