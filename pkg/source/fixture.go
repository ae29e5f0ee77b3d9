package source

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"github.com/i5heu/snapstore/pkg/model"
)

var (
	ErrDuplicateID     = errors.New("source: duplicate id")
	ErrUnknownItemType = errors.New("source: unknown item type")
)

// keySpace derives stable uids for fixture items that do not set a key.
var keySpace = uuid.MustParse("5f0c6b2e-2d4e-4a9b-9a53-3c1f0e7d8a41")

// Document is the YAML layout of a fixture file.
type Document struct {
	ContentTypes []TypeItem   `yaml:"contentTypes"`
	Content      []Item       `yaml:"content"`
	Media        []Item       `yaml:"media"`
	Domains      []DomainItem `yaml:"domains"`
}

type TypeItem struct {
	ID         int            `yaml:"id"`
	Key        string         `yaml:"key"`
	Alias      string         `yaml:"alias"`
	ItemType   string         `yaml:"itemType"`
	Properties []PropertyItem `yaml:"properties"`
}

type PropertyItem struct {
	Alias           string `yaml:"alias"`
	DataTypeID      int    `yaml:"dataTypeId"`
	Editor          string `yaml:"editor"`
	VariesByCulture bool   `yaml:"variesByCulture"`
	VariesBySegment bool   `yaml:"variesBySegment"`
}

// Item is one content or media node.
type Item struct {
	ID         int       `yaml:"id"`
	Key        string    `yaml:"key"`
	ParentID   int       `yaml:"parentId"`
	SortOrder  int       `yaml:"sortOrder"`
	Type       int       `yaml:"type"`
	CreateDate string    `yaml:"createDate"`
	CreatorID  int       `yaml:"creatorId"`
	Draft      *DataItem `yaml:"draft"`
	Published  *DataItem `yaml:"published"`
}

type DataItem struct {
	Name        string                 `yaml:"name"`
	URLSegment  string                 `yaml:"urlSegment"`
	VersionID   int                    `yaml:"versionId"`
	VersionDate string                 `yaml:"versionDate"`
	WriterID    int                    `yaml:"writerId"`
	TemplateID  int                    `yaml:"templateId"`
	Properties  map[string][]ValueItem `yaml:"properties"`
	Cultures    map[string]CultureItem `yaml:"cultures"`
}

type ValueItem struct {
	Culture string `yaml:"culture"`
	Segment string `yaml:"segment"`
	Value   string `yaml:"value"`
}

type CultureItem struct {
	Name       string `yaml:"name"`
	URLSegment string `yaml:"urlSegment"`
	Date       string `yaml:"date"`
	IsDraft    bool   `yaml:"isDraft"`
}

type DomainItem struct {
	ID        int    `yaml:"id"`
	ContentID int    `yaml:"contentId"`
	Name      string `yaml:"name"`
	Culture   string `yaml:"culture"`
	Wildcard  bool   `yaml:"wildcard"`
	SortOrder int    `yaml:"sortOrder"`
}

// Fixture is an in-memory Source read from a YAML document. It can be
// changed after loading, which lets tests and the command line simulate
// edits in the authoritative database.
type Fixture struct {
	mu      sync.RWMutex
	types   map[int]TypeItem
	content map[int]Item
	media   map[int]Item
	domains map[int]DomainItem
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a fixture document.
func ParseFixture(data []byte) (*Fixture, error) {
	var doc Document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return NewFixture(doc)
}

// NewFixture validates doc and returns a Fixture serving it.
func NewFixture(doc Document) (*Fixture, error) { // A
	f := &Fixture{
		types:   make(map[int]TypeItem, len(doc.ContentTypes)),
		content: make(map[int]Item, len(doc.Content)),
		media:   make(map[int]Item, len(doc.Media)),
		domains: make(map[int]DomainItem, len(doc.Domains)),
	}
	for _, t := range doc.ContentTypes {
		if _, ok := f.types[t.ID]; ok {
			return nil, fmt.Errorf("content type %d: %w", t.ID, ErrDuplicateID)
		}
		if _, err := t.contentType(); err != nil {
			return nil, err
		}
		f.types[t.ID] = t
	}
	for _, it := range doc.Content {
		if _, ok := f.content[it.ID]; ok {
			return nil, fmt.Errorf("content %d: %w", it.ID, ErrDuplicateID)
		}
		f.content[it.ID] = it
	}
	for _, it := range doc.Media {
		if _, ok := f.media[it.ID]; ok {
			return nil, fmt.Errorf("media %d: %w", it.ID, ErrDuplicateID)
		}
		f.media[it.ID] = it
	}
	for _, d := range doc.Domains {
		if _, ok := f.domains[d.ID]; ok {
			return nil, fmt.Errorf("domain %d: %w", d.ID, ErrDuplicateID)
		}
		f.domains[d.ID] = d
	}

	// check every date up front so reads cannot fail on them later
	for _, items := range []map[int]Item{f.content, f.media} {
		for _, it := range items {
			if _, err := it.kit(items); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// PutContent adds or replaces a content item.
func (f *Fixture) PutContent(it Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[it.ID] = it
}

// DeleteContent removes a content item. Descendants are left in place.
func (f *Fixture) DeleteContent(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.content, id)
}

// PutMedia adds or replaces a media item.
func (f *Fixture) PutMedia(it Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media[it.ID] = it
}

// DeleteMedia removes a media item.
func (f *Fixture) DeleteMedia(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.media, id)
}

// PutContentType adds or replaces a content type.
func (f *Fixture) PutContentType(t TypeItem) error {
	if _, err := t.contentType(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types[t.ID] = t
	return nil
}

// DeleteContentType removes a content type.
func (f *Fixture) DeleteContentType(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.types, id)
}

// PutDomain adds or replaces a domain.
func (f *Fixture) PutDomain(d DomainItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domains[d.ID] = d
}

// DeleteDomain removes a domain.
func (f *Fixture) DeleteDomain(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.domains, id)
}

func (f *Fixture) GetAllContentSources(ctx context.Context) ([]model.ContentNodeKit, error) {
	return f.all(ctx, f.content)
}

func (f *Fixture) GetBranchContentSources(ctx context.Context, id int) ([]model.ContentNodeKit, error) {
	return f.branch(ctx, f.content, id)
}

func (f *Fixture) GetContentSource(ctx context.Context, id int) (model.ContentNodeKit, error) {
	return f.one(ctx, f.content, id)
}

func (f *Fixture) GetTypeContentSources(ctx context.Context, typeIDs []int) ([]model.ContentNodeKit, error) {
	return f.byType(ctx, f.content, typeIDs)
}

func (f *Fixture) GetAllMediaSources(ctx context.Context) ([]model.ContentNodeKit, error) {
	return f.all(ctx, f.media)
}

func (f *Fixture) GetBranchMediaSources(ctx context.Context, id int) ([]model.ContentNodeKit, error) {
	return f.branch(ctx, f.media, id)
}

func (f *Fixture) GetMediaSource(ctx context.Context, id int) (model.ContentNodeKit, error) {
	return f.one(ctx, f.media, id)
}

func (f *Fixture) GetTypeMediaSources(ctx context.Context, typeIDs []int) ([]model.ContentNodeKit, error) {
	return f.byType(ctx, f.media, typeIDs)
}

func (f *Fixture) all(ctx context.Context, items map[int]Item) ([]model.ContentNodeKit, error) {
	return f.collect(ctx, items, func(Item) bool { return true })
}

func (f *Fixture) branch(ctx context.Context, items map[int]Item, id int) ([]model.ContentNodeKit, error) {
	return f.collect(ctx, items, func(it Item) bool {
		cur, ok := it, true
		for range len(items) {
			if !ok {
				break
			}
			if cur.ID == id {
				return true
			}
			cur, ok = items[cur.ParentID]
		}
		return false
	})
}

func (f *Fixture) byType(ctx context.Context, items map[int]Item, typeIDs []int) ([]model.ContentNodeKit, error) {
	return f.collect(ctx, items, func(it Item) bool {
		return slices.Contains(typeIDs, it.Type)
	})
}

// collect builds the kits of the items matching keep, sorted for bulk
// loading.
func (f *Fixture) collect(ctx context.Context, items map[int]Item, keep func(Item) bool) ([]model.ContentNodeKit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kits []model.ContentNodeKit
	for _, id := range slices.Sorted(maps.Keys(items)) {
		it := items[id]
		if !keep(it) {
			continue
		}
		kit, err := it.kit(items)
		if err != nil {
			return nil, err
		}
		kits = append(kits, kit)
	}
	slices.SortStableFunc(kits, model.CompareKits)
	return kits, nil
}

func (f *Fixture) one(ctx context.Context, items map[int]Item, id int) (model.ContentNodeKit, error) {
	if err := ctx.Err(); err != nil {
		return model.ContentNodeKit{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	it, ok := items[id]
	if !ok {
		return model.ContentNodeKit{}, nil
	}
	return it.kit(items)
}

func (f *Fixture) GetContentTypes(ctx context.Context, itemType model.ItemType, ids ...int) ([]*model.ContentType, error) {
	return f.contentTypes(ctx, func(ct *model.ContentType) bool {
		return ct.ItemType == itemType && (len(ids) == 0 || slices.Contains(ids, ct.ID))
	})
}

func (f *Fixture) GetContentTypesByDataType(ctx context.Context, dataTypeIDs ...int) ([]*model.ContentType, error) {
	return f.contentTypes(ctx, func(ct *model.ContentType) bool {
		return ct.UsesDataType(dataTypeIDs...)
	})
}

func (f *Fixture) contentTypes(ctx context.Context, keep func(*model.ContentType) bool) ([]*model.ContentType, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []*model.ContentType
	for _, id := range slices.Sorted(maps.Keys(f.types)) {
		ct, err := f.types[id].contentType()
		if err != nil {
			return nil, err
		}
		if keep(ct) {
			out = append(out, ct)
		}
	}
	return out, nil
}

func (f *Fixture) GetAllDomains(ctx context.Context) ([]model.Domain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]model.Domain, 0, len(f.domains))
	for _, id := range slices.Sorted(maps.Keys(f.domains)) {
		out = append(out, f.domains[id].domain())
	}
	return out, nil
}

func (f *Fixture) GetDomain(ctx context.Context, id int) (model.Domain, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Domain{}, false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	d, ok := f.domains[id]
	if !ok {
		return model.Domain{}, false, nil
	}
	return d.domain(), true, nil
}

func (d DomainItem) domain() model.Domain {
	return model.Domain{
		ID:         d.ID,
		ContentID:  d.ContentID,
		Name:       d.Name,
		Culture:    d.Culture,
		IsWildcard: d.Wildcard,
		SortOrder:  d.SortOrder,
	}
}

func parseItemType(name string) (model.ItemType, error) {
	switch strings.ToLower(name) {
	case "", "content":
		return model.ItemTypeContent, nil
	case "media":
		return model.ItemTypeMedia, nil
	case "member":
		return model.ItemTypeMember, nil
	case "element":
		return model.ItemTypeElement, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownItemType, name)
}

func parseKey(key, kind string, id int) (uuid.UUID, error) {
	if key == "" {
		return uuid.NewMD5(keySpace, []byte(kind+":"+strconv.Itoa(id))), nil
	}
	uid, err := uuid.Parse(key)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %d: key: %w", kind, id, err)
	}
	return uid, nil
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func (t TypeItem) contentType() (*model.ContentType, error) {
	itemType, err := parseItemType(t.ItemType)
	if err != nil {
		return nil, fmt.Errorf("content type %d: %w", t.ID, err)
	}
	key, err := parseKey(t.Key, "contentType", t.ID)
	if err != nil {
		return nil, err
	}
	ct := &model.ContentType{
		ID:       t.ID,
		Key:      key,
		Alias:    t.Alias,
		ItemType: itemType,
	}
	for _, p := range t.Properties {
		ct.PropertyTypes = append(ct.PropertyTypes, model.PropertyType{
			Alias:           p.Alias,
			DataTypeID:      p.DataTypeID,
			EditorAlias:     p.Editor,
			VariesByCulture: p.VariesByCulture,
			VariesBySegment: p.VariesBySegment,
		})
	}
	return ct, nil
}

// kit builds a fresh kit for it. Level and path follow the parent chain
// found in items; a missing ancestor ends the chain, which the store later
// rejects as a missing parent.
func (it Item) kit(items map[int]Item) (model.ContentNodeKit, error) { // A
	uid, err := parseKey(it.Key, "content", it.ID)
	if err != nil {
		return model.ContentNodeKit{}, err
	}
	created, err := parseTime(it.CreateDate)
	if err != nil {
		return model.ContentNodeKit{}, fmt.Errorf("content %d: createDate: %w", it.ID, err)
	}

	ids := []string{strconv.Itoa(it.ID)}
	seen := map[int]bool{it.ID: true}
	for parent := it.ParentID; parent > 0; {
		if seen[parent] {
			return model.ContentNodeKit{}, fmt.Errorf("content %d: parent cycle at %d", it.ID, parent)
		}
		seen[parent] = true
		ids = append(ids, strconv.Itoa(parent))
		p, ok := items[parent]
		if !ok {
			break
		}
		parent = p.ParentID
	}
	ids = append(ids, strconv.Itoa(model.NoID))
	slices.Reverse(ids)

	parentID := it.ParentID
	if parentID <= 0 {
		parentID = model.NoID
	}
	kit := model.ContentNodeKit{
		Node:          model.NewContentNode(it.ID, uid, len(ids)-1, strings.Join(ids, ","), it.SortOrder, parentID, created, it.CreatorID),
		ContentTypeID: it.Type,
	}
	if kit.DraftData, err = it.Draft.data(false); err != nil {
		return model.ContentNodeKit{}, fmt.Errorf("content %d: draft: %w", it.ID, err)
	}
	if kit.PublishedData, err = it.Published.data(true); err != nil {
		return model.ContentNodeKit{}, fmt.Errorf("content %d: published: %w", it.ID, err)
	}
	return kit, nil
}

func (d *DataItem) data(published bool) (*model.ContentData, error) {
	if d == nil {
		return nil, nil
	}
	date, err := parseTime(d.VersionDate)
	if err != nil {
		return nil, err
	}
	out := &model.ContentData{
		Name:        d.Name,
		URLSegment:  d.URLSegment,
		VersionID:   d.VersionID,
		VersionDate: date,
		WriterID:    d.WriterID,
		TemplateID:  d.TemplateID,
		Published:   published,
	}
	if len(d.Properties) > 0 {
		out.Properties = make(map[string][]model.PropertyValue, len(d.Properties))
		for alias, values := range d.Properties {
			pv := make([]model.PropertyValue, 0, len(values))
			for _, v := range values {
				pv = append(pv, model.PropertyValue(v))
			}
			out.Properties[alias] = pv
		}
	}
	if len(d.Cultures) > 0 {
		out.Cultures = make(map[string]model.CultureVariation, len(d.Cultures))
		for culture, c := range d.Cultures {
			cdate, err := parseTime(c.Date)
			if err != nil {
				return nil, fmt.Errorf("culture %s: %w", culture, err)
			}
			out.Cultures[culture] = model.CultureVariation{
				Name:       c.Name,
				URLSegment: c.URLSegment,
				Date:       cdate,
				IsDraft:    c.IsDraft,
			}
		}
	}
	return out, nil
}
