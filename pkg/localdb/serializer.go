package localdb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/i5heu/snapstore/pkg/model"
)

var ErrCorruptKit = errors.New("localdb: corrupt kit")

// Serializer persists kits.
type Serializer interface {
	WriteTo(kit model.ContentNodeKit, w io.Writer) error
	ReadFrom(r io.Reader) (model.ContentNodeKit, error)
}

// kit fields
const (
	fieldID            protowire.Number = 1
	fieldUID           protowire.Number = 2
	fieldLevel         protowire.Number = 3
	fieldPath          protowire.Number = 4
	fieldSortOrder     protowire.Number = 5
	fieldParentID      protowire.Number = 6
	fieldCreateDate    protowire.Number = 7
	fieldCreatorID     protowire.Number = 8
	fieldContentTypeID protowire.Number = 9
	fieldDraft         protowire.Number = 10
	fieldPublished     protowire.Number = 11
)

// content data fields
const (
	fieldName        protowire.Number = 1
	fieldURLSegment  protowire.Number = 2
	fieldVersionID   protowire.Number = 3
	fieldVersionDate protowire.Number = 4
	fieldWriterID    protowire.Number = 5
	fieldTemplateID  protowire.Number = 6
	fieldIsPublished protowire.Number = 7
	fieldProperty    protowire.Number = 8
	fieldCulture     protowire.Number = 9
)

// KitSerializer writes kits in protobuf wire format. Only the node identity
// is stored; tree pointers are rebuilt on load.
type KitSerializer struct{}

func (KitSerializer) WriteTo(kit model.ContentNodeKit, w io.Writer) error {
	if kit.IsEmpty() {
		return errors.New("localdb: cannot serialize an empty kit")
	}
	_, err := w.Write(appendKit(nil, kit))
	return err
}

func (KitSerializer) ReadFrom(r io.Reader) (model.ContentNodeKit, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return model.ContentNodeKit{}, err
	}
	return decodeKit(b)
}

func marshal(ser Serializer, kit model.ContentNodeKit) ([]byte, error) {
	var buf bytes.Buffer
	if err := ser.WriteTo(kit, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal(ser Serializer, b []byte) (model.ContentNodeKit, error) {
	return ser.ReadFrom(bytes.NewReader(b))
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	return appendInt(b, num, t.UnixNano())
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendKit(b []byte, kit model.ContentNodeKit) []byte { // A
	n := kit.Node
	b = appendInt(b, fieldID, int64(n.ID))
	if n.UID != uuid.Nil {
		b = protowire.AppendTag(b, fieldUID, protowire.BytesType)
		b = protowire.AppendBytes(b, n.UID[:])
	}
	b = appendInt(b, fieldLevel, int64(n.Level))
	b = appendString(b, fieldPath, n.Path)
	b = appendInt(b, fieldSortOrder, int64(n.SortOrder))
	b = appendInt(b, fieldParentID, int64(n.ParentID))
	b = appendTime(b, fieldCreateDate, n.CreateDate)
	b = appendInt(b, fieldCreatorID, int64(n.CreatorID))
	b = appendInt(b, fieldContentTypeID, int64(kit.ContentTypeID))
	if kit.DraftData != nil {
		b = appendMessage(b, fieldDraft, appendData(nil, kit.DraftData))
	}
	if kit.PublishedData != nil {
		b = appendMessage(b, fieldPublished, appendData(nil, kit.PublishedData))
	}
	return b
}

func appendData(b []byte, d *model.ContentData) []byte { // A
	b = appendString(b, fieldName, d.Name)
	b = appendString(b, fieldURLSegment, d.URLSegment)
	b = appendInt(b, fieldVersionID, int64(d.VersionID))
	b = appendTime(b, fieldVersionDate, d.VersionDate)
	b = appendInt(b, fieldWriterID, int64(d.WriterID))
	b = appendInt(b, fieldTemplateID, int64(d.TemplateID))
	if d.Published {
		b = protowire.AppendTag(b, fieldIsPublished, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	for _, alias := range slices.Sorted(maps.Keys(d.Properties)) {
		var p []byte
		p = appendString(p, 1, alias)
		for _, v := range d.Properties[alias] {
			var pv []byte
			pv = appendString(pv, 1, v.Culture)
			pv = appendString(pv, 2, v.Segment)
			pv = appendString(pv, 3, v.Value)
			p = appendMessage(p, 2, pv)
		}
		b = appendMessage(b, fieldProperty, p)
	}
	for _, culture := range slices.Sorted(maps.Keys(d.Cultures)) {
		c := d.Cultures[culture]
		var cb []byte
		cb = appendString(cb, 1, culture)
		cb = appendString(cb, 2, c.Name)
		cb = appendString(cb, 3, c.URLSegment)
		cb = appendTime(cb, 4, c.Date)
		if c.IsDraft {
			cb = protowire.AppendTag(cb, 5, protowire.VarintType)
			cb = protowire.AppendVarint(cb, protowire.EncodeBool(true))
		}
		b = appendMessage(b, fieldCulture, cb)
	}
	return b
}

// fieldReader walks the fields of one message and remembers the first error.
type fieldReader struct {
	b   []byte
	err error
}

func (r *fieldReader) next() (protowire.Number, protowire.Type, bool) {
	if r.err != nil || len(r.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0, 0, false
	}
	r.b = r.b[n:]
	return num, typ, true
}

func (r *fieldReader) varint() uint64 {
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) int() int {
	return int(protowire.DecodeZigZag(r.varint()))
}

func (r *fieldReader) time() time.Time {
	return time.Unix(0, protowire.DecodeZigZag(r.varint())).UTC()
}

func (r *fieldReader) bytes() []byte {
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return nil
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) string() string {
	return string(r.bytes())
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return
	}
	r.b = r.b[n:]
}

func decodeKit(b []byte) (model.ContentNodeKit, error) { // A
	var (
		kit        model.ContentNodeKit
		id         int
		uid        uuid.UUID
		level      int
		path       string
		sortOrder  int
		parentID   int
		createDate time.Time
		creatorID  int
	)

	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case fieldID:
			id = r.int()
		case fieldUID:
			raw := r.bytes()
			if r.err == nil {
				u, err := uuid.FromBytes(raw)
				if err != nil {
					r.err = err
				}
				uid = u
			}
		case fieldLevel:
			level = r.int()
		case fieldPath:
			path = r.string()
		case fieldSortOrder:
			sortOrder = r.int()
		case fieldParentID:
			parentID = r.int()
		case fieldCreateDate:
			createDate = r.time()
		case fieldCreatorID:
			creatorID = r.int()
		case fieldContentTypeID:
			kit.ContentTypeID = r.int()
		case fieldDraft, fieldPublished:
			raw := r.bytes()
			if r.err != nil {
				break
			}
			d, err := decodeData(raw)
			if err != nil {
				r.err = err
				break
			}
			if num == fieldDraft {
				kit.DraftData = d
			} else {
				kit.PublishedData = d
			}
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return model.ContentNodeKit{}, fmt.Errorf("%w: %v", ErrCorruptKit, r.err)
	}
	if id == 0 {
		return model.ContentNodeKit{}, fmt.Errorf("%w: missing id", ErrCorruptKit)
	}

	kit.Node = model.NewContentNode(id, uid, level, path, sortOrder, parentID, createDate, creatorID)
	return kit, nil
}

func decodeData(b []byte) (*model.ContentData, error) { // A
	d := &model.ContentData{}
	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case fieldName:
			d.Name = r.string()
		case fieldURLSegment:
			d.URLSegment = r.string()
		case fieldVersionID:
			d.VersionID = r.int()
		case fieldVersionDate:
			d.VersionDate = r.time()
		case fieldWriterID:
			d.WriterID = r.int()
		case fieldTemplateID:
			d.TemplateID = r.int()
		case fieldIsPublished:
			d.Published = protowire.DecodeBool(r.varint())
		case fieldProperty:
			alias, values, err := decodeProperty(r.bytes())
			if err != nil {
				return nil, err
			}
			if d.Properties == nil {
				d.Properties = make(map[string][]model.PropertyValue)
			}
			d.Properties[alias] = values
		case fieldCulture:
			culture, cv, err := decodeCulture(r.bytes())
			if err != nil {
				return nil, err
			}
			if d.Cultures == nil {
				d.Cultures = make(map[string]model.CultureVariation)
			}
			d.Cultures[culture] = cv
		default:
			r.skip(num, typ)
		}
	}
	return d, r.err
}

func decodeProperty(b []byte) (string, []model.PropertyValue, error) {
	var (
		alias  string
		values []model.PropertyValue
	)
	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			alias = r.string()
		case 2:
			var pv model.PropertyValue
			vr := &fieldReader{b: r.bytes()}
			for {
				vnum, vtyp, ok := vr.next()
				if !ok {
					break
				}
				switch vnum {
				case 1:
					pv.Culture = vr.string()
				case 2:
					pv.Segment = vr.string()
				case 3:
					pv.Value = vr.string()
				default:
					vr.skip(vnum, vtyp)
				}
			}
			if vr.err != nil {
				return "", nil, vr.err
			}
			values = append(values, pv)
		default:
			r.skip(num, typ)
		}
	}
	return alias, values, r.err
}

func decodeCulture(b []byte) (string, model.CultureVariation, error) {
	var (
		culture string
		cv      model.CultureVariation
	)
	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case 1:
			culture = r.string()
		case 2:
			cv.Name = r.string()
		case 3:
			cv.URLSegment = r.string()
		case 4:
			cv.Date = r.time()
		case 5:
			cv.IsDraft = protowire.DecodeBool(r.varint())
		default:
			r.skip(num, typ)
		}
	}
	return culture, cv, r.err
}
