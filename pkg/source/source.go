// Package source defines what the snapshot service reads from the
// authoritative content database, and provides a YAML fixture
// implementation of it.
//
// Every call returns fresh values. The stores take ownership of the kits and
// content types they are handed, so a source must never return the same
// pointer twice.
package source

import (
	"context"

	"github.com/i5heu/snapstore/pkg/model"
)

// ContentSource reads content and media kits. Kit lists are sorted by level,
// parent id and sort order, the order bulk loads require.
type ContentSource interface {
	GetAllContentSources(ctx context.Context) ([]model.ContentNodeKit, error)
	// GetBranchContentSources returns the node id and all its descendants.
	GetBranchContentSources(ctx context.Context, id int) ([]model.ContentNodeKit, error)
	// GetContentSource returns the kit of id, or an empty kit when the node
	// does not exist.
	GetContentSource(ctx context.Context, id int) (model.ContentNodeKit, error)
	// GetTypeContentSources returns the nodes of the given content types.
	GetTypeContentSources(ctx context.Context, typeIDs []int) ([]model.ContentNodeKit, error)

	GetAllMediaSources(ctx context.Context) ([]model.ContentNodeKit, error)
	GetBranchMediaSources(ctx context.Context, id int) ([]model.ContentNodeKit, error)
	GetMediaSource(ctx context.Context, id int) (model.ContentNodeKit, error)
	GetTypeMediaSources(ctx context.Context, typeIDs []int) ([]model.ContentNodeKit, error)
}

// ContentTypeSource reads content types.
type ContentTypeSource interface {
	// GetContentTypes returns the types of itemType with the given ids, or
	// all of them when no id is given. Unknown ids are left out.
	GetContentTypes(ctx context.Context, itemType model.ItemType, ids ...int) ([]*model.ContentType, error)
	// GetContentTypesByDataType returns the types that use any of the data
	// types.
	GetContentTypesByDataType(ctx context.Context, dataTypeIDs ...int) ([]*model.ContentType, error)
}

// DomainSource reads the domain bindings.
type DomainSource interface {
	GetAllDomains(ctx context.Context) ([]model.Domain, error)
	// GetDomain returns the domain id and whether it exists.
	GetDomain(ctx context.Context, id int) (model.Domain, bool, error)
}

// Source is everything the snapshot service reads.
type Source interface {
	ContentSource
	ContentTypeSource
	DomainSource
}
