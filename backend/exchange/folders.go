package exchange

import (
	"context"
	"errors"
	"strings"

	"exchangesync/internal/utils"
)

// ErrAllItemsFolderNotFound is returned when the mailbox has no AllItems search folder
var ErrAllItemsFolderNotFound = errors.New("AllItems search folder not found")

const (
	allItemsDisplayName = "allitems"
	// PR_ALL_FOLDERS value marking the search folder that spans the mailbox
	allFoldersSearchFolder = 2
)

// FolderCache persists the AllItems folder id between runs
type FolderCache interface {
	Load(key string) (string, bool)
	Store(key, id string) error
	Invalidate(key string) error
}

// folderCacheKey scopes cached ids to one mailbox on one server
func (b *ExchangeBackend) folderCacheKey() string {
	return strings.ToLower(b.client.username) + "@" + b.client.endpoint
}

// allItemsFolder finds the hidden search folder covering every mail folder.
// The id is kept for the lifetime of the backend and in the folder cache.
func (b *ExchangeBackend) allItemsFolder(ctx context.Context) (string, error) {
	b.folderMu.Lock()
	defer b.folderMu.Unlock()

	if b.allItemsFolderID != "" {
		return b.allItemsFolderID, nil
	}
	if b.folderCache != nil {
		if id, ok := b.folderCache.Load(b.folderCacheKey()); ok {
			b.allItemsFolderID = id
			return id, nil
		}
	}

	req := findFolderRequest{
		Traversal:   "Shallow",
		FolderShape: folderPropertySet.shape(),
		View:        indexedPageView{MaxEntriesReturned: b.maxResults, BasePoint: "Beginning"},
		Restriction: restrict(and(
			propertyEquals(PrAllFolders, allFoldersSearchFolder),
			fieldEquals("folder:DisplayName", allItemsDisplayName),
		)),
		ParentFolderIDs: parentFolderIDs{DistinguishedFolderID: &distinguishedFolderID{ID: "root"}},
	}

	msgs, err := b.client.call(ctx, "FindFolder", req)
	if err != nil {
		return "", err
	}
	msg, err := single("FindFolder", msgs)
	if err != nil {
		return "", err
	}
	if msg.RootFolder == nil {
		return "", ErrAllItemsFolderNotFound
	}
	for _, f := range msg.RootFolder.Folders.Folders {
		// restriction is case-insensitive on the server; be lenient here too
		if f.FolderID.ID != "" && (f.DisplayName == "" || strings.EqualFold(f.DisplayName, allItemsDisplayName)) {
			b.allItemsFolderID = f.FolderID.ID
			if b.folderCache != nil {
				if err := b.folderCache.Store(b.folderCacheKey(), f.FolderID.ID); err != nil {
					utils.WithError(err).Warn("Failed to cache AllItems folder id")
				}
			}
			return f.FolderID.ID, nil
		}
	}
	return "", ErrAllItemsFolderNotFound
}

// forgetAllItemsFolder drops the remembered folder id so the next call
// searches again
func (b *ExchangeBackend) forgetAllItemsFolder() {
	b.folderMu.Lock()
	defer b.folderMu.Unlock()

	b.allItemsFolderID = ""
	if b.folderCache != nil {
		if err := b.folderCache.Invalidate(b.folderCacheKey()); err != nil {
			utils.WithError(err).Warn("Failed to invalidate AllItems folder cache")
		}
	}
}
