package model

// ContentView is a read projection of one payload of a node through its
// content type. Only properties declared by the type are exposed.
type ContentView struct {
	contentType *ContentType
	data        *ContentData
	preview     bool
	props       map[string][]PropertyValue
}

func newContentView(ct *ContentType, data *ContentData, preview bool) *ContentView { // A
	v := &ContentView{
		contentType: ct,
		data:        data,
		preview:     preview,
		props:       make(map[string][]PropertyValue),
	}
	if ct == nil {
		return v
	}
	for _, pt := range ct.PropertyTypes {
		for alias, values := range data.Properties {
			if NormalizeAlias(alias) == NormalizeAlias(pt.Alias) {
				v.props[NormalizeAlias(pt.Alias)] = values
			}
		}
	}
	return v
}

// ContentType returns the type the view was built with.
func (v *ContentView) ContentType() *ContentType { return v.contentType }

// Data returns the underlying payload.
func (v *ContentView) Data() *ContentData { return v.data }

// IsPreview reports whether the view shows the draft version.
func (v *ContentView) IsPreview() bool { return v.preview }

// Name returns the name for culture, falling back to the invariant name.
func (v *ContentView) Name(culture string) string {
	if c, ok := v.data.Cultures[culture]; ok && culture != "" {
		return c.Name
	}
	return v.data.Name
}

// URLSegment returns the URL segment for culture, falling back to the
// invariant segment.
func (v *ContentView) URLSegment(culture string) string {
	if c, ok := v.data.Cultures[culture]; ok && culture != "" {
		return c.URLSegment
	}
	return v.data.URLSegment
}

// HasProperty reports whether the type declares the property.
func (v *ContentView) HasProperty(alias string) bool {
	if v.contentType == nil {
		return false
	}
	_, ok := v.contentType.PropertyType(alias)
	return ok
}

// Value returns the raw value of a property for culture and segment. An
// exact match wins; otherwise the invariant value is used.
func (v *ContentView) Value(alias, culture, segment string) (string, bool) {
	values, ok := v.props[NormalizeAlias(alias)]
	if !ok {
		return "", false
	}
	var fallback *PropertyValue
	for i := range values {
		pv := &values[i]
		if pv.Culture == culture && pv.Segment == segment {
			return pv.Value, true
		}
		if pv.Culture == "" && pv.Segment == "" {
			fallback = pv
		}
	}
	if fallback != nil {
		return fallback.Value, true
	}
	return "", false
}
