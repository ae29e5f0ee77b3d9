// Package model provides the data structures held by the snapshot stores.
package model

import "time"

// ContentData is one version payload of a content item: either the draft
// or the published version.
//
// A ContentData value is immutable once handed to a store. Stores share it
// between node clones, so callers must build a new value for every change.
type ContentData struct {
	// Name is the invariant name of the item.
	Name string

	// URLSegment is the invariant URL segment of the item.
	URLSegment string

	// VersionID identifies the version in the authoritative database.
	VersionID int

	// VersionDate is when this version was saved.
	VersionDate time.Time

	// WriterID is the id of the user who saved this version.
	WriterID int

	// TemplateID is the id of the template, or 0 when none is assigned.
	TemplateID int

	// Published reports whether this payload is the published version.
	Published bool

	// Properties maps a property alias to its values. A property may carry
	// several values, one per culture/segment combination.
	Properties map[string][]PropertyValue

	// Cultures holds the per-culture names and segments of a variant item.
	Cultures map[string]CultureVariation
}

// PropertyValue is one stored value of a property. The value is kept in its
// raw source form; converting it is left to the consumer.
type PropertyValue struct {
	Culture string
	Segment string
	Value   string
}

// CultureVariation carries the culture-specific fields of a variant item.
type CultureVariation struct {
	Name       string
	URLSegment string
	Date       time.Time
	IsDraft    bool
}
