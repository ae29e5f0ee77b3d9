package model

import (
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func pageType() *ContentType {
	return &ContentType{
		ID:    1,
		Alias: "Page",
		PropertyTypes: []PropertyType{
			{Alias: "title", DataTypeID: 100, VariesByCulture: true},
			{Alias: "body", DataTypeID: 101},
		},
	}
}

func newKit(id, parentID, level, sortOrder int) ContentNodeKit {
	return ContentNodeKit{
		Node:          NewContentNode(id, uuid.New(), level, "", sortOrder, parentID, testTime, 0),
		ContentTypeID: 1,
		DraftData:     &ContentData{Name: "draft"},
	}
}

func TestKitBuild(t *testing.T) {
	ct := pageType()
	kit := newKit(1, NoID, 1, 0)
	kit.PublishedData = &ContentData{Name: "published", Published: true}

	require.NoError(t, kit.Build(ct, true))
	assert.Same(t, ct, kit.Node.ContentType())
	assert.Equal(t, 1, kit.Node.ContentTypeID())
	assert.True(t, kit.Node.HasPublished())
	assert.Equal(t, "published", kit.Node.PublishedData().Name)
	assert.Equal(t, "draft", kit.Node.DraftData().Name)

	hidden := newKit(2, 1, 2, 0)
	hidden.PublishedData = &ContentData{Name: "published", Published: true}
	require.NoError(t, hidden.Build(ct, false))
	assert.False(t, hidden.Node.HasPublished())
	assert.Nil(t, hidden.Node.PublishedView())

	unreachable := newKit(4, 1, 2, 0)
	unreachable.DraftData = nil
	unreachable.PublishedData = &ContentData{Name: "published", Published: true}
	assert.ErrorIs(t, unreachable.Build(ct, false), ErrKitUnreachable)
	assert.NoError(t, unreachable.Build(ct, true))

	empty := ContentNodeKit{Node: NewContentNode(3, uuid.New(), 1, "", 0, NoID, testTime, 0)}
	assert.ErrorIs(t, empty.Build(ct, true), ErrKitNoData)
	assert.True(t, ContentNodeKit{}.IsEmpty())
}

func TestCompareKits(t *testing.T) {
	kits := []ContentNodeKit{
		newKit(4, 2, 2, 1),
		newKit(3, 2, 2, 0),
		newKit(5, 1, 2, 0),
		newKit(2, NoID, 1, 1),
		newKit(1, NoID, 1, 0),
	}
	slices.SortStableFunc(kits, CompareKits)

	var ids []int
	for _, k := range kits {
		ids = append(ids, k.Node.ID)
	}
	assert.Equal(t, []int{1, 2, 5, 3, 4}, ids)
}

func TestNodeKitRoundTrip(t *testing.T) {
	kit := newKit(7, 3, 2, 4)
	kit.PublishedData = &ContentData{Name: "published"}
	require.NoError(t, kit.Build(pageType(), true))
	kit.Node.FirstChildID = 9
	kit.Node.NextSiblingID = 8

	back := kit.Node.Kit()
	assert.Equal(t, 7, back.Node.ID)
	assert.Equal(t, 3, back.Node.ParentID)
	assert.Equal(t, 4, back.Node.SortOrder)
	assert.Equal(t, 1, back.ContentTypeID)
	assert.Equal(t, NoID, back.Node.FirstChildID)
	assert.Equal(t, NoID, back.Node.NextSiblingID)
	assert.Same(t, kit.DraftData, back.DraftData)
	assert.Same(t, kit.PublishedData, back.PublishedData)
}

func TestWithContentTypeKeepsOriginal(t *testing.T) {
	old := pageType()
	kit := newKit(1, NoID, 1, 0)
	require.NoError(t, kit.Build(old, true))

	fresh := pageType()
	fresh.Alias = "Article"
	rebuilt := kit.Node.WithContentType(fresh)

	assert.Equal(t, "Page", kit.Node.ContentType().Alias)
	assert.Equal(t, "Article", rebuilt.ContentType().Alias)
	assert.Same(t, kit.Node.DraftData(), rebuilt.DraftData())
}

func TestContentViewValues(t *testing.T) {
	data := &ContentData{
		Name:       "Home",
		URLSegment: "home",
		Properties: map[string][]PropertyValue{
			"Title": {
				{Value: "Welcome"},
				{Culture: "de", Value: "Willkommen"},
			},
			"undeclared": {{Value: "x"}},
		},
		Cultures: map[string]CultureVariation{
			"de": {Name: "Startseite", URLSegment: "startseite"},
		},
	}
	kit := ContentNodeKit{
		Node:          NewContentNode(1, uuid.New(), 1, "-1,1", 0, NoID, testTime, 0),
		ContentTypeID: 1,
		DraftData:     data,
	}
	require.NoError(t, kit.Build(pageType(), true))

	view := kit.Node.DraftView()
	require.NotNil(t, view)
	assert.True(t, view.IsPreview())
	assert.Same(t, view, kit.Node.DraftView())

	v, ok := view.Value("title", "de", "")
	assert.True(t, ok)
	assert.Equal(t, "Willkommen", v)
	v, ok = view.Value("TITLE", "fr", "")
	assert.True(t, ok)
	assert.Equal(t, "Welcome", v)
	_, ok = view.Value("undeclared", "", "")
	assert.False(t, ok)
	_, ok = view.Value("body", "", "")
	assert.False(t, ok)

	assert.True(t, view.HasProperty("Body"))
	assert.False(t, view.HasProperty("undeclared"))
	assert.Equal(t, "Startseite", view.Name("de"))
	assert.Equal(t, "Home", view.Name("fr"))
	assert.Equal(t, "startseite", view.URLSegment("de"))
	assert.Equal(t, "home", view.URLSegment(""))
}

func TestContentTypeLookups(t *testing.T) {
	ct := pageType()
	p, ok := ct.PropertyType("TITLE")
	assert.True(t, ok)
	assert.Equal(t, 100, p.DataTypeID)
	_, ok = ct.PropertyType("missing")
	assert.False(t, ok)

	assert.True(t, ct.UsesDataType(5, 101))
	assert.False(t, ct.UsesDataType(5))
	assert.Equal(t, "Media", ItemTypeMedia.String())
	assert.Equal(t, "Unknown", ItemType(42).String())
}
