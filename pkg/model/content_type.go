package model

import (
	"strings"

	"github.com/google/uuid"
)

// ItemType tells which tree a content type belongs to.
type ItemType uint8

const (
	ItemTypeContent ItemType = iota
	ItemTypeMedia
	ItemTypeMember
	ItemTypeElement
)

// String returns a human-readable representation of the item type.
func (t ItemType) String() string {
	switch t {
	case ItemTypeContent:
		return "Content"
	case ItemTypeMedia:
		return "Media"
	case ItemTypeMember:
		return "Member"
	case ItemTypeElement:
		return "Element"
	default:
		return "Unknown"
	}
}

// ContentType describes the shape of content nodes: which properties they
// carry and how those properties vary.
//
// Content types are versioned by the stores exactly like nodes. A refreshed
// type is a new *ContentType value; nodes built against the old value keep
// pointing at it from older generations.
type ContentType struct {
	// ID is the numeric identifier of the type.
	ID int

	// Key is the unique identifier of the type.
	Key uuid.UUID

	// Alias is the case-insensitive alias of the type.
	Alias string

	// ItemType is the tree the type belongs to.
	ItemType ItemType

	// PropertyTypes lists the properties of the type.
	PropertyTypes []PropertyType
}

// PropertyType describes one property of a content type.
type PropertyType struct {
	Alias           string
	DataTypeID      int
	EditorAlias     string
	VariesByCulture bool
	VariesBySegment bool
}

// PropertyType returns the property with the given alias.
func (c *ContentType) PropertyType(alias string) (PropertyType, bool) {
	for _, p := range c.PropertyTypes {
		if strings.EqualFold(p.Alias, alias) {
			return p, true
		}
	}
	return PropertyType{}, false
}

// UsesDataType reports whether any property of the type is backed by one of
// the given data types.
func (c *ContentType) UsesDataType(ids ...int) bool {
	for _, p := range c.PropertyTypes {
		for _, id := range ids {
			if p.DataTypeID == id {
				return true
			}
		}
	}
	return false
}

// NormalizeAlias returns the form under which aliases are indexed.
func NormalizeAlias(alias string) string {
	return strings.ToLower(alias)
}
