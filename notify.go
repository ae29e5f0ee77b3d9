package snapstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/i5heu/snapstore/pkg/contentstore"
	"github.com/i5heu/snapstore/pkg/model"
	"github.com/i5heu/snapstore/pkg/source"
)

// TreeChange flags what happened to a content or media node.
type TreeChange uint8

const (
	// TreeRemove removes the node and its descendants.
	TreeRemove TreeChange = 1 << iota
	// TreeRefreshNode reloads the node alone.
	TreeRefreshNode
	// TreeRefreshBranch reloads the node and its descendants.
	TreeRefreshBranch
	// TreeRefreshAll reloads the whole tree. The payload id is ignored.
	TreeRefreshAll
)

// Has reports whether every flag of o is set.
func (c TreeChange) Has(o TreeChange) bool { return c&o == o }

func (c TreeChange) String() string {
	var names []string
	for _, f := range []struct {
		flag TreeChange
		name string
	}{
		{TreeRemove, "Remove"},
		{TreeRefreshNode, "RefreshNode"},
		{TreeRefreshBranch, "RefreshBranch"},
		{TreeRefreshAll, "RefreshAll"},
	} {
		if c.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "None"
	}
	return fmt.Sprint(names)
}

// TreePayload notifies a change of one content or media node.
type TreePayload struct {
	ID      int
	Changes TreeChange
}

// ContentTypeChange tells what happened to a content type.
type ContentTypeChange uint8

const (
	// ContentTypeCreate adds a type that no node uses yet.
	ContentTypeCreate ContentTypeChange = iota + 1
	// ContentTypeRefreshMain changes the structure of a type; its nodes are
	// reloaded from the source.
	ContentTypeRefreshMain
	// ContentTypeRefreshOther changes a type without touching the stored
	// payloads; its nodes are rebuilt in place.
	ContentTypeRefreshOther
	// ContentTypeRemove removes a type together with its nodes.
	ContentTypeRemove
)

// ContentTypePayload notifies a change of one content or media type.
type ContentTypePayload struct {
	ID       int
	ItemType model.ItemType
	Change   ContentTypeChange
}

// DataTypePayload notifies a change of one data type.
type DataTypePayload struct {
	ID      int
	Removed bool
}

// DomainChange tells what happened to a domain.
type DomainChange uint8

const (
	DomainRefresh DomainChange = iota + 1
	DomainRemove
	// DomainRefreshAll reloads every domain. The payload id is ignored.
	DomainRefreshAll
)

// DomainPayload notifies a change of one domain.
type DomainPayload struct {
	ID     int
	Change DomainChange
}

// loader reads the kits and types of one tree from the source.
type loader struct {
	itemType model.ItemType
	all      func(ctx context.Context) ([]model.ContentNodeKit, error)
	branch   func(ctx context.Context, id int) ([]model.ContentNodeKit, error)
	one      func(ctx context.Context, id int) (model.ContentNodeKit, error)
	byType   func(ctx context.Context, typeIDs []int) ([]model.ContentNodeKit, error)
}

func contentLoader(src source.Source) loader {
	return loader{
		itemType: model.ItemTypeContent,
		all:      src.GetAllContentSources,
		branch:   src.GetBranchContentSources,
		one:      src.GetContentSource,
		byType:   src.GetTypeContentSources,
	}
}

func mediaLoader(src source.Source) loader {
	return loader{
		itemType: model.ItemTypeMedia,
		all:      src.GetAllMediaSources,
		branch:   src.GetBranchMediaSources,
		one:      src.GetMediaSource,
		byType:   src.GetTypeMediaSources,
	}
}

// NotifyContent applies content changes in one transaction. It reports
// whether the draft and the published trees may have changed; a node is
// never compared with its previous version, so every applied refresh counts
// as a change to both.
func (s *Service) NotifyContent(ctx context.Context, payloads []TreePayload) (draftChanged, publishedChanged bool, err error) {
	content, _, _, err := s.stores()
	if err != nil {
		return false, false, err
	}
	var changed bool
	err = content.Update(ctx, func(ctx context.Context) error {
		var err error
		changed, err = s.notifyTreeLocked(ctx, content, contentLoader(s.src), payloads)
		return err
	})
	if err != nil {
		return false, false, err
	}
	return changed, changed, nil
}

// NotifyMedia applies media changes in one transaction and reports whether
// anything may have changed.
func (s *Service) NotifyMedia(ctx context.Context, payloads []TreePayload) (bool, error) {
	_, media, _, err := s.stores()
	if err != nil {
		return false, err
	}
	var changed bool
	err = media.Update(ctx, func(ctx context.Context) error {
		var err error
		changed, err = s.notifyTreeLocked(ctx, media, mediaLoader(s.src), payloads)
		return err
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *Service) notifyTreeLocked(ctx context.Context, store *contentstore.Store, l loader, payloads []TreePayload) (bool, error) { // A
	changed := false
	for _, p := range payloads {
		s.log.Debug("notified tree change", logKeyStore, store.Name(), logKeyID, p.ID, logKeyKind, p.Changes)

		switch {
		case p.Changes.Has(TreeRefreshAll):
			if err := s.loadFromSourceLocked(ctx, store, l, false); err != nil {
				return false, err
			}
			changed = true

		case p.Changes.Has(TreeRemove):
			if store.ClearLocked(p.ID) {
				changed = true
			}

		case p.Changes.Has(TreeRefreshBranch):
			kits, err := l.branch(ctx, p.ID)
			if err != nil {
				return false, fmt.Errorf("read %s branch %d: %w", store.Name(), p.ID, err)
			}
			if !store.SetBranchLocked(p.ID, kits) {
				s.log.Warn("skipped kits while refreshing branch", logKeyStore, store.Name(), logKeyID, p.ID)
			}
			changed = true

		case p.Changes.Has(TreeRefreshNode):
			kit, err := l.one(ctx, p.ID)
			if err != nil {
				return false, fmt.Errorf("read %s %d: %w", store.Name(), p.ID, err)
			}
			if kit.IsEmpty() {
				store.ClearLocked(p.ID)
			} else if _, err := store.SetLocked(kit); err != nil {
				return false, fmt.Errorf("set %s %d: %w", store.Name(), p.ID, err)
			}
			changed = true
		}
	}
	return changed, nil
}

// NotifyContentTypes applies content and media type changes. Each store is
// changed in its own transaction.
func (s *Service) NotifyContentTypes(ctx context.Context, payloads []ContentTypePayload) error {
	content, media, _, err := s.stores()
	if err != nil {
		return err
	}
	for _, p := range payloads {
		s.log.Debug("notified content type change", logKeyID, p.ID, "itemType", p.ItemType, logKeyKind, p.Change)
	}
	if err := s.refreshTypes(ctx, content, contentLoader(s.src), payloads); err != nil {
		return err
	}
	return s.refreshTypes(ctx, media, mediaLoader(s.src), payloads)
}

func (s *Service) refreshTypes(ctx context.Context, store *contentstore.Store, l loader, payloads []ContentTypePayload) error { // A
	var removed, refreshed, other, created []int
	for _, p := range payloads {
		if p.ItemType != l.itemType {
			continue
		}
		switch p.Change {
		case ContentTypeRemove:
			removed = append(removed, p.ID)
		case ContentTypeRefreshMain:
			refreshed = append(refreshed, p.ID)
		case ContentTypeRefreshOther:
			other = append(other, p.ID)
		case ContentTypeCreate:
			created = append(created, p.ID)
		}
	}
	if len(removed)+len(refreshed)+len(other)+len(created) == 0 {
		return nil
	}

	return store.Update(ctx, func(ctx context.Context) error {
		var (
			types []*model.ContentType
			kits  []model.ContentNodeKit
			err   error
		)
		if len(refreshed) > 0 {
			if types, err = s.src.GetContentTypes(ctx, l.itemType, refreshed...); err != nil {
				return fmt.Errorf("read %s types: %w", store.Name(), err)
			}
			if kits, err = l.byType(ctx, refreshed); err != nil {
				return fmt.Errorf("read %s sources by type: %w", store.Name(), err)
			}
		}
		if !store.UpdateContentTypesWithKitsLocked(removed, types, kits) {
			s.log.Warn("skipped kits while refreshing content types", logKeyStore, store.Name())
		}

		if len(other) > 0 {
			if types, err = s.src.GetContentTypes(ctx, l.itemType, other...); err != nil {
				return fmt.Errorf("read %s types: %w", store.Name(), err)
			}
			store.UpdateContentTypesLocked(types)
		}
		if len(created) > 0 {
			if types, err = s.src.GetContentTypes(ctx, l.itemType, created...); err != nil {
				return fmt.Errorf("read %s types: %w", store.Name(), err)
			}
			store.NewContentTypesLocked(types)
		}
		return nil
	})
}

// NotifyDataTypes rebuilds the content and media types that use the changed
// data types, and their nodes. Both stores are locked for the duration,
// content first.
func (s *Service) NotifyDataTypes(ctx context.Context, payloads []DataTypePayload) error {
	content, media, _, err := s.stores()
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		return nil
	}
	ids := make([]int, 0, len(payloads))
	for _, p := range payloads {
		status := "Refreshed"
		if p.Removed {
			status = "Removed"
		}
		s.log.Debug("notified data type change", logKeyID, p.ID, logKeyKind, status)
		ids = append(ids, p.ID)
	}

	types, err := s.src.GetContentTypesByDataType(ctx, ids...)
	if err != nil {
		return fmt.Errorf("read types by data type: %w", err)
	}
	lookup := func(itemType model.ItemType) func(id int) *model.ContentType {
		return func(id int) *model.ContentType {
			i := slices.IndexFunc(types, func(ct *model.ContentType) bool {
				return ct.ID == id && ct.ItemType == itemType
			})
			if i < 0 {
				return nil
			}
			return types[i]
		}
	}

	return content.Update(ctx, func(ctx context.Context) error {
		return media.Update(ctx, func(context.Context) error {
			content.UpdateDataTypesLocked(ids, lookup(model.ItemTypeContent))
			media.UpdateDataTypesLocked(ids, lookup(model.ItemTypeMedia))
			return nil
		})
	})
}

// NotifyDomains applies domain changes in one transaction. A refreshed
// domain that no longer exists, or has no root node or culture, is removed.
func (s *Service) NotifyDomains(ctx context.Context, payloads []DomainPayload) error {
	_, _, domains, err := s.stores()
	if err != nil {
		return err
	}
	return domains.Update(ctx, func(ctx context.Context) error {
		for _, p := range payloads {
			switch p.Change {
			case DomainRefreshAll:
				if err := s.loadDomainsLocked(ctx); err != nil {
					return err
				}
			case DomainRemove:
				domains.ClearLocked(p.ID)
			case DomainRefresh:
				d, ok, err := s.src.GetDomain(ctx, p.ID)
				if err != nil {
					return fmt.Errorf("read domain %d: %w", p.ID, err)
				}
				if ok && validDomain(d) {
					domains.SetLocked(d.ID, d)
				} else {
					domains.ClearLocked(p.ID)
				}
			}
		}
		return nil
	})
}
