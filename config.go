package snapstore

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/snapstore/pkg/localdb"
)

// Mirror directories below Config.DataDir.
const (
	ContentMirrorDir = "content"
	MediaMirrorDir   = "media"
)

// Config configures the service.
type Config struct {
	// DataDir holds the local mirrors of the content and media stores. If
	// empty, the stores run without mirrors.
	DataDir string
	// MinimumFreeGB is a free-space threshold checked when a mirror opens.
	MinimumFreeGB uint
	// Compression selects the codec of mirrored kits.
	Compression localdb.Codec
	// IgnoreLocalDB disables the mirrors: every start loads from the source.
	IgnoreLocalDB bool
	// InMemoryMirrors keeps the mirrors in ordered in-memory trees instead of
	// badger databases below DataDir. Nothing survives the process.
	InMemoryMirrors bool
	// ColdBoot keeps the mirrors but ignores their content at start; they
	// are repopulated from the source.
	ColdBoot bool
	// CollectDelta overrides the default live/floor distance that triggers
	// a collection when non-zero.
	CollectDelta uint64
	// DisableAutoCollect turns off collections scheduled by snapshot creation.
	DisableAutoCollect bool
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// MirrorLogger receives the messages of the badger mirrors. If nil,
	// warnings are logged to stderr.
	MirrorLogger *logrus.Logger
	// Registerer, if set, receives the store metrics and status gauges.
	Registerer prometheus.Registerer
}

func defaultLogger() *slog.Logger { // A
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}
