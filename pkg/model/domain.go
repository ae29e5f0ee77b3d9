package model

// Domain binds a host name, or a wildcard culture, to a content node.
type Domain struct {
	ID         int
	ContentID  int
	Name       string
	Culture    string
	IsWildcard bool
	SortOrder  int
}
