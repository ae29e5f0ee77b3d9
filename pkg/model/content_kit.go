package model

import "errors"

var (
	ErrKitNoData      = errors.New("model: kit has neither draft nor published data")
	ErrKitUnreachable = errors.New("model: kit has no draft and its parent is not published")
)

// ContentNodeKit is the unit in which the write path hands content to a
// store: the node identity, its type id and its payloads. The node's tree
// pointers are ignored on input; the store computes them.
//
// The zero kit is empty. In the local mirror an empty kit is the tombstone
// for a removed node.
type ContentNodeKit struct {
	Node          *ContentNode
	ContentTypeID int
	DraftData     *ContentData
	PublishedData *ContentData
}

// IsEmpty reports whether the kit carries no node.
func (k ContentNodeKit) IsEmpty() bool {
	return k.Node == nil
}

// Build attaches the content type and payloads to the kit's node.
// canBePublished tells whether the node's parent is published.
func (k ContentNodeKit) Build(ct *ContentType, canBePublished bool) error {
	if k.DraftData == nil && k.PublishedData == nil {
		return ErrKitNoData
	}
	if k.DraftData == nil && !canBePublished {
		return ErrKitUnreachable
	}
	k.Node.build(ct, k.DraftData, k.PublishedData, canBePublished)
	return nil
}

// Less orders kits the way bulk loads expect them: by level, then parent,
// then sort order.
func (k ContentNodeKit) Less(o ContentNodeKit) bool {
	a, b := k.Node, o.Node
	if a.Level != b.Level {
		return a.Level < b.Level
	}
	if a.ParentID != b.ParentID {
		return a.ParentID < b.ParentID
	}
	return a.SortOrder < b.SortOrder
}

// CompareKits is Less as a three-way comparison for slices.SortFunc.
func CompareKits(a, b ContentNodeKit) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}
