package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NoID marks an absent child, sibling or parent pointer.
const NoID = -1

// ContentNode is one item of a content tree as held by a store.
//
// # Tree pointers
//
// Parent, child and sibling links are plain integer ids resolved through the
// store at a given generation, never Go pointers. Children of one parent form
// a doubly linked list ordered by SortOrder; the parent records the first
// and the last child. An id is present when it is greater than zero. A
// ParentID below zero puts the node at the root of the tree.
//
// # Versioning
//
// A node object is never changed once a newer generation has superseded it.
// The store clones a node before changing its pointers in a new generation,
// so older snapshots keep reading the object they pinned.
//
// # Views
//
// The draft and published views are built lazily on first access and shared
// by clones, since they only depend on the payloads and the content type.
type ContentNode struct {
	ID         int
	UID        uuid.UUID
	Level      int
	Path       string
	SortOrder  int
	ParentID   int
	CreateDate time.Time
	CreatorID  int

	FirstChildID  int
	LastChildID   int
	PrevSiblingID int
	NextSiblingID int

	contentType *ContentType
	draft       *lazyView
	published   *lazyView
}

// NewContentNode returns a node with no children or siblings. It carries
// identity only until a kit builds it.
func NewContentNode(id int, uid uuid.UUID, level int, path string, sortOrder, parentID int, createDate time.Time, creatorID int) *ContentNode { // A
	return &ContentNode{
		ID:            id,
		UID:           uid,
		Level:         level,
		Path:          path,
		SortOrder:     sortOrder,
		ParentID:      parentID,
		CreateDate:    createDate,
		CreatorID:     creatorID,
		FirstChildID:  NoID,
		LastChildID:   NoID,
		PrevSiblingID: NoID,
		NextSiblingID: NoID,
	}
}

// NewRootNode returns the synthetic root of a tree.
func NewRootNode() *ContentNode {
	return NewContentNode(NoID, uuid.Nil, 0, "-1", 0, NoID, time.Time{}, 0)
}

// ResetTree clears every tree pointer.
func (n *ContentNode) ResetTree() {
	n.FirstChildID = NoID
	n.LastChildID = NoID
	n.PrevSiblingID = NoID
	n.NextSiblingID = NoID
}

// IsRootLevel reports whether the node hangs off the synthetic root.
func (n *ContentNode) IsRootLevel() bool {
	return n.ParentID < 0
}

// HasChildren reports whether the node has at least one child.
func (n *ContentNode) HasChildren() bool {
	return n.FirstChildID > 0
}

// ContentType returns the type the node was built with, or nil for a node
// that was never built.
func (n *ContentNode) ContentType() *ContentType {
	return n.contentType
}

// ContentTypeID returns the id of the node's type, or 0.
func (n *ContentNode) ContentTypeID() int {
	if n.contentType == nil {
		return 0
	}
	return n.contentType.ID
}

// DraftData returns the draft payload, or nil.
func (n *ContentNode) DraftData() *ContentData {
	if n.draft == nil {
		return nil
	}
	return n.draft.data
}

// PublishedData returns the published payload, or nil. A published payload
// under an unpublished parent is not reachable and reads as nil.
func (n *ContentNode) PublishedData() *ContentData {
	if n.published == nil {
		return nil
	}
	return n.published.data
}

// DraftView returns the draft view of the node, or nil.
func (n *ContentNode) DraftView() *ContentView {
	if n.draft == nil {
		return nil
	}
	return n.draft.get()
}

// PublishedView returns the published view of the node, or nil.
func (n *ContentNode) PublishedView() *ContentView {
	if n.published == nil {
		return nil
	}
	return n.published.get()
}

// HasPublished reports whether the node has a reachable published version.
func (n *ContentNode) HasPublished() bool {
	return n.published != nil
}

// build attaches the type and payloads. The published payload is dropped
// when the parent is not published.
func (n *ContentNode) build(ct *ContentType, draft, published *ContentData, canBePublished bool) {
	n.contentType = ct
	n.draft = nil
	n.published = nil
	if draft != nil {
		n.draft = newLazyView(ct, draft, true)
	}
	if published != nil && canBePublished {
		n.published = newLazyView(ct, published, false)
	}
}

// Clone returns a copy of the node that shares its payloads and views.
func (n *ContentNode) Clone() *ContentNode {
	c := *n
	return &c
}

// WithContentType returns a copy of the node rebuilt against ct.
func (n *ContentNode) WithContentType(ct *ContentType) *ContentNode { // A
	c := n.Clone()
	c.build(ct, n.DraftData(), n.PublishedData(), n.published != nil)
	return c
}

// Kit turns the node back into a kit, the form the local mirror stores.
func (n *ContentNode) Kit() ContentNodeKit {
	node := NewContentNode(n.ID, n.UID, n.Level, n.Path, n.SortOrder, n.ParentID, n.CreateDate, n.CreatorID)
	return ContentNodeKit{
		Node:          node,
		ContentTypeID: n.ContentTypeID(),
		DraftData:     n.DraftData(),
		PublishedData: n.PublishedData(),
	}
}

type lazyView struct {
	once sync.Once
	ct   *ContentType
	data *ContentData
	prev bool
	view *ContentView
}

func newLazyView(ct *ContentType, data *ContentData, preview bool) *lazyView {
	return &lazyView{ct: ct, data: data, prev: preview}
}

func (l *lazyView) get() *ContentView {
	l.once.Do(func() {
		l.view = newContentView(l.ct, l.data, l.prev)
	})
	return l.view
}
