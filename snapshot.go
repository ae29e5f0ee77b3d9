package snapstore

import (
	"errors"
	"slices"
	"strings"

	"github.com/i5heu/snapstore/pkg/contentstore"
	"github.com/i5heu/snapstore/pkg/model"
	"github.com/i5heu/snapstore/pkg/snapdict"
)

// Snapshot is a consistent read view over every store. The three views are
// pinned independently; each is consistent on its own.
type Snapshot struct {
	Content *contentstore.Snapshot
	Media   *contentstore.Snapshot
	Domains *snapdict.Snapshot[int, model.Domain]
}

// Close releases every view.
func (s *Snapshot) Close() error {
	return errors.Join(s.Content.Close(), s.Media.Close(), s.Domains.Close())
}

// AssignedDomains returns the non-wildcard domains bound to contentID,
// ordered by sort order.
func (s *Snapshot) AssignedDomains(contentID int) ([]model.Domain, error) {
	return s.domains(func(d model.Domain) bool {
		return d.ContentID == contentID && !d.IsWildcard
	})
}

// DomainByName returns the domain with the given host name, compared
// case-insensitively.
func (s *Snapshot) DomainByName(name string) (model.Domain, error) {
	found, err := s.domains(func(d model.Domain) bool {
		return strings.EqualFold(d.Name, name)
	})
	if err != nil {
		return model.Domain{}, err
	}
	if len(found) == 0 {
		return model.Domain{}, snapdict.ErrNotFound
	}
	return found[0], nil
}

func (s *Snapshot) domains(keep func(model.Domain) bool) ([]model.Domain, error) {
	all, err := s.Domains.GetAll()
	if err != nil {
		return nil, err
	}
	var out []model.Domain
	for _, d := range all {
		if keep(d) {
			out = append(out, d)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Domain) int { return a.SortOrder - b.SortOrder })
	return out, nil
}
