package repository

import "gorm.io/gorm"

// Repositories bundles every repository over one state store.
type Repositories struct {
	Bindings *BindingRepository
	Roots    *RootRepository
	Folders  *FolderRepository
	Pairs    *PairRepository
	History  *HistoryRepository
	Notices  *NoticeRepository
}

func New(db *gorm.DB, historyKeep int) *Repositories {
	return &Repositories{
		Bindings: NewBindingRepository(db),
		Roots:    NewRootRepository(db),
		Folders:  NewFolderRepository(db),
		Pairs:    NewPairRepository(db),
		History:  NewHistoryRepository(db, historyKeep),
		Notices:  NewNoticeRepository(db),
	}
}
