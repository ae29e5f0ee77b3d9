// Package snapstore is the published snapshot service: it keeps the content
// and media trees and the domain bindings of a site in snapshot-isolated
// stores, loads them from the authoritative source or from the local
// mirrors, and applies change notifications.
//
// Readers call CreateSnapshot and read the returned views without locking.
// Writers never block them; every notification becomes one generation of
// the affected store.
package snapstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/snapstore/pkg/contentstore"
	"github.com/i5heu/snapstore/pkg/localdb"
	"github.com/i5heu/snapstore/pkg/metrics"
	"github.com/i5heu/snapstore/pkg/model"
	"github.com/i5heu/snapstore/pkg/snapdict"
	"github.com/i5heu/snapstore/pkg/source"
)

var (
	ErrNotStarted = errors.New("snapstore: service not started")
	ErrClosed     = errors.New("snapstore: service closed")
	ErrNotReady   = errors.New("snapstore: service not initialized")
)

const (
	logKeyError = "error"
	logKeyStore = "store"
	logKeyPath  = "path"
	logKeyCount = "count"
	logKeyTook  = "took"
	logKeyID    = "id"
	logKeyKind  = "changes"
)

// Service owns the content, media and domain stores.
type Service struct {
	log     *slog.Logger
	config  Config
	src     source.Source
	metrics *metrics.StoreMetrics

	// storesMu orders Start against ReleaseLocalDB and Close.
	storesMu sync.Mutex
	content  *contentstore.Store
	media    *contentstore.Store
	domains  *snapdict.Dict[int, model.Domain]

	started   atomic.Bool
	ready     atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// New constructs the service. New does not perform I/O; call Start to open
// the mirrors and load the stores.
func New(conf Config, src source.Source) (*Service, error) { // A
	if src == nil {
		return nil, errors.New("snapstore: a source is required")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	s := &Service{
		log:    conf.Logger,
		config: conf,
		src:    src,
	}
	if conf.Registerer != nil {
		s.metrics = metrics.NewStoreMetrics(conf.Registerer)
	}
	return s, nil
}

// Start creates the stores and loads them, from the local mirrors when they
// hold content and from the source otherwise. Start is safe to call more
// than once; only the first call has effect. When loading fails the service
// stays not ready and every read fails with ErrNotReady.
func (s *Service) Start(ctx context.Context) error { // A
	if s.closed.Load() {
		return ErrClosed
	}
	var startErr error
	s.startOnce.Do(func() {
		s.started.Store(true)
		s.storesMu.Lock()
		defer s.storesMu.Unlock()

		start := time.Now()
		contentDB, mediaDB, err := s.openMirrors()
		if err != nil {
			startErr = err
			return
		}

		s.content = contentstore.New(s.storeConfig("content", contentDB))
		s.media = contentstore.New(s.storeConfig("media", mediaDB))
		s.domains = snapdict.New[int, model.Domain](
			snapdict.WithName("domains"),
			snapdict.WithLogger(s.log),
			snapdict.WithCollectDelta(s.config.CollectDelta),
			snapdict.WithAutoCollect(!s.config.DisableAutoCollect),
		)
		if s.config.Registerer != nil {
			if err := s.config.Registerer.Register(metrics.NewStatusCollector(s.content, s.media, s.domains)); err != nil {
				startErr = fmt.Errorf("register status collector: %w", err)
				return
			}
		}

		if err := s.loadStore(ctx, s.content, contentLoader(s.src)); err != nil {
			s.log.Error("failed to load content", logKeyError, err)
			startErr = fmt.Errorf("load content: %w", err)
			return
		}
		if err := s.loadStore(ctx, s.media, mediaLoader(s.src)); err != nil {
			s.log.Error("failed to load media", logKeyError, err)
			startErr = fmt.Errorf("load media: %w", err)
			return
		}
		if err := s.domains.Update(ctx, func(context.Context) error {
			return s.loadDomainsLocked(ctx)
		}); err != nil {
			s.log.Error("failed to load domains", logKeyError, err)
			startErr = fmt.Errorf("load domains: %w", err)
			return
		}

		s.ready.Store(true)
		s.log.Info("snapstore started", logKeyTook, time.Since(start))
	})
	if startErr == nil && !s.ready.Load() {
		return ErrNotReady
	}
	return startErr
}

func (s *Service) storeConfig(name string, mirror localdb.Mirror) contentstore.Config {
	conf := contentstore.DefaultConfig(name)
	conf.Logger = s.log
	conf.Metrics = s.metrics
	conf.Mirror = mirror
	conf.DisableAutoCollect = s.config.DisableAutoCollect
	if s.config.CollectDelta != 0 {
		conf.CollectDelta = s.config.CollectDelta
	}
	return conf
}

// openMirrors opens the mirrors, badger databases unless in-memory mirrors
// are configured. Both are nil when the local databases are ignored or no
// data directory is configured.
func (s *Service) openMirrors() (content, media localdb.Mirror, err error) { // A
	if s.config.IgnoreLocalDB {
		s.log.Info("creating stores without local mirrors")
		return nil, nil, nil
	}
	if s.config.InMemoryMirrors {
		s.log.Info("creating stores with in-memory mirrors")
		ser := localdb.NewCompressedSerializer(s.config.Compression)
		return localdb.NewMemory(ser), localdb.NewMemory(ser), nil
	}
	if s.config.DataDir == "" {
		s.log.Info("creating stores without local mirrors")
		return nil, nil, nil
	}

	open := func(dir string) (localdb.Mirror, error) {
		path := filepath.Join(s.config.DataDir, dir)
		db, err := localdb.OpenBadger(localdb.BadgerConfig{
			Path:          path,
			MinimumFreeGB: s.config.MinimumFreeGB,
			Serializer:    localdb.NewCompressedSerializer(s.config.Compression),
			Logger:        s.config.MirrorLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s mirror: %w", dir, err)
		}
		s.log.Info("opened local mirror", logKeyStore, dir, logKeyPath, path)
		return db, nil
	}

	content, err = open(ContentMirrorDir)
	if err != nil {
		return nil, nil, err
	}
	media, err = open(MediaMirrorDir)
	if err != nil {
		if cerr := content.Close(); cerr != nil {
			s.log.Error("failed to close content mirror", logKeyError, cerr)
		}
		return nil, nil, err
	}
	return content, media, nil
}

// loadStore fills store from its mirror, or from the source when the
// mirror is absent, empty or cannot be loaded without warnings.
func (s *Service) loadStore(ctx context.Context, store *contentstore.Store, l loader) error { // A
	if !s.config.ColdBoot {
		var (
			mirrored bool
			n        int
			ok       bool
		)
		err := store.Update(ctx, func(ctx context.Context) error {
			if mirrored = store.HasMirrorLocked(); !mirrored {
				return nil
			}
			if err := s.setAllContentTypesLocked(ctx, store, l); err != nil {
				return err
			}
			var err error
			n, ok, err = store.LoadFromMirrorLocked()
			return err
		})
		switch {
		case !mirrored && err == nil:
		case err != nil:
			s.log.Warn("failed to load from local mirror, reloading from source",
				logKeyStore, store.Name(), logKeyError, err)
		case n == 0:
			s.log.Info("local mirror is empty", logKeyStore, store.Name())
		case !ok:
			s.log.Warn("loading from local mirror raised warnings, reloading from source",
				logKeyStore, store.Name())
		default:
			return nil
		}
	}

	return store.Update(ctx, func(ctx context.Context) error {
		return s.loadFromSourceLocked(ctx, store, l, true)
	})
}

// loadFromSourceLocked replaces the content types and the whole tree of
// store. Each skipped kit is logged by the store with its reason.
func (s *Service) loadFromSourceLocked(ctx context.Context, store *contentstore.Store, l loader, onStartup bool) error {
	if err := s.setAllContentTypesLocked(ctx, store, l); err != nil {
		return err
	}
	start := time.Now()
	kits, err := l.all(ctx)
	if err != nil {
		return fmt.Errorf("read %s sources: %w", store.Name(), err)
	}
	var ok bool
	if onStartup {
		ok = store.SetAllFastSortedLocked(kits, true)
	} else {
		ok = store.SetAllLocked(kits)
	}
	if !ok {
		s.log.Warn("skipped kits while loading from source", logKeyStore, store.Name())
	}
	s.log.Info("loaded from source",
		logKeyStore, store.Name(),
		logKeyCount, len(kits),
		logKeyTook, time.Since(start))
	return nil
}

func (s *Service) setAllContentTypesLocked(ctx context.Context, store *contentstore.Store, l loader) error {
	types, err := s.src.GetContentTypes(ctx, l.itemType)
	if err != nil {
		return fmt.Errorf("read %s types: %w", store.Name(), err)
	}
	store.SetAllContentTypesLocked(types)
	return nil
}

// loadDomainsLocked replaces every domain. Domains without a root node or a
// culture are ignored.
func (s *Service) loadDomainsLocked(ctx context.Context) error {
	domains, err := s.src.GetAllDomains(ctx)
	if err != nil {
		return fmt.Errorf("read domains: %w", err)
	}
	s.domains.ClearAllLocked()
	for _, d := range domains {
		if validDomain(d) {
			s.domains.SetLocked(d.ID, d)
		}
	}
	return nil
}

func validDomain(d model.Domain) bool {
	return d.ContentID > 0 && d.Culture != ""
}

// stores returns the stores, or an error when the service cannot serve.
func (s *Service) stores() (content, media *contentstore.Store, domains *snapdict.Dict[int, model.Domain], err error) {
	if s.closed.Load() {
		return nil, nil, nil, ErrClosed
	}
	if !s.started.Load() {
		return nil, nil, nil, ErrNotStarted
	}
	if !s.ready.Load() {
		return nil, nil, nil, ErrNotReady
	}
	return s.content, s.media, s.domains, nil
}

// CreateSnapshot pins the current generation of every store. The snapshot
// must be closed.
func (s *Service) CreateSnapshot() (*Snapshot, error) {
	content, media, domains, err := s.stores()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Content: content.CreateSnapshot(),
		Media:   media.CreateSnapshot(),
		Domains: domains.CreateSnapshot(),
	}, nil
}

// StoreStatus holds the counters of one store.
type StoreStatus struct {
	LiveGen   uint64 `json:"liveGen"`
	FloorGen  uint64 `json:"floorGen"`
	GenCount  int    `json:"genCount"`
	SnapCount int64  `json:"snapCount"`
	Count     int    `json:"count"`
}

// Status reports the counters of every store.
type Status struct {
	Content StoreStatus `json:"content"`
	Media   StoreStatus `json:"media"`
	Domains StoreStatus `json:"domains"`
}

// Status returns the current counters.
func (s *Service) Status() (Status, error) {
	content, media, domains, err := s.stores()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Content: storeStatus(content),
		Media:   storeStatus(media),
		Domains: StoreStatus{
			LiveGen:   domains.LiveGen(),
			FloorGen:  domains.FloorGen(),
			GenCount:  domains.GenCount(),
			SnapCount: domains.SnapCount(),
			Count:     domains.Count(),
		},
	}, nil
}

func storeStatus(st *contentstore.Store) StoreStatus {
	return StoreStatus{
		LiveGen:   st.LiveGen(),
		FloorGen:  st.FloorGen(),
		GenCount:  st.GenCount(),
		SnapCount: st.SnapCount(),
		Count:     st.Count(),
	}
}

// Collect runs a collection on every store and waits for them.
func (s *Service) Collect(ctx context.Context) error {
	content, media, domains, err := s.stores()
	if err != nil {
		return err
	}
	return errors.Join(content.Collect(ctx), media.Collect(ctx), domains.Collect(ctx))
}

// ReleaseLocalDB detaches and closes the mirrors. The stores keep serving
// from memory; further changes are no longer persisted. Mirror errors are
// logged and suppressed.
func (s *Service) ReleaseLocalDB(ctx context.Context) error { // A
	s.storesMu.Lock()
	defer s.storesMu.Unlock()
	if s.content == nil {
		return nil
	}

	s.log.Debug("releasing local mirrors")
	var err error
	if rerr := s.content.ReleaseLocalDB(ctx); rerr != nil {
		err = errors.Join(err, fmt.Errorf("release content mirror: %w", rerr))
	}
	if rerr := s.media.ReleaseLocalDB(ctx); rerr != nil {
		err = errors.Join(err, fmt.Errorf("release media mirror: %w", rerr))
	}
	s.log.Info("released local mirrors")
	return err
}

// Run starts the service, blocks until ctx is cancelled and then closes it.
func (s *Service) Run(ctx context.Context) error { // A
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Close(shutdownCtx)
}

// Close releases the mirrors and stops the collectors. Close is idempotent.
func (s *Service) Close(ctx context.Context) error { // A
	var closeErr error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.ReleaseLocalDB(ctx); err != nil {
			closeErr = errors.Join(closeErr, err)
		}

		s.storesMu.Lock()
		defer s.storesMu.Unlock()
		if s.content != nil {
			if err := s.content.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close content store: %w", err))
			}
			if err := s.media.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close media store: %w", err))
			}
			if err := s.domains.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close domain store: %w", err))
			}
		}
		s.log.Info("snapstore closed")
	})
	return closeErr
}
