package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/i5heu/snapstore"
	"github.com/i5heu/snapstore/internal/config"
	"github.com/i5heu/snapstore/pkg/localdb"
	"github.com/i5heu/snapstore/pkg/logging"
	"github.com/i5heu/snapstore/pkg/model"
	"github.com/i5heu/snapstore/pkg/source"
)

const (
	logKeyError  = "error"
	logKeyListen = "listen"
	logKeyConfig = "config"
)

var (
	configPath string
	coldBoot   bool
	mirrorDir  string

	conf   config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:           "snapstore",
		Short:         "Snapshot-isolated published content cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configPath == "" {
				conf = config.Default()
			} else if conf, err = config.Load(configPath); err != nil {
				return err
			}
			level, err := logging.ParseLevel(conf.LogLevel)
			if err != nil {
				return err
			}
			logger = logging.New(level, os.Stderr)
			return nil
		},
	}

	loadCmd = &cobra.Command{
		Use:   "load",
		Short: "Load the stores once and print their status",
		Args:  cobra.NoArgs,
		RunE:  runLoad,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Load the stores and serve status and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	mirrorCmd = &cobra.Command{
		Use:   "mirror",
		Short: "Inspect or remove a local mirror",
	}
	mirrorDumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Print every kit of a mirror as JSON lines",
		Args:  cobra.NoArgs,
		RunE:  runMirrorDump,
	}
	mirrorDropCmd = &cobra.Command{
		Use:   "drop",
		Short: "Delete a mirror so that the next start reloads from the source",
		Args:  cobra.NoArgs,
		RunE:  runMirrorDrop,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path of the YAML configuration file")

	for _, cmd := range []*cobra.Command{loadCmd, serveCmd} {
		cmd.Flags().BoolVar(&coldBoot, "cold-boot", false, "ignore the local mirrors and reload from the source")
	}
	for _, cmd := range []*cobra.Command{mirrorDumpCmd, mirrorDropCmd} {
		cmd.Flags().StringVar(&mirrorDir, "store", snapstore.ContentMirrorDir, "mirror below the data directory: content or media")
	}

	mirrorCmd.AddCommand(mirrorDumpCmd, mirrorDropCmd)
	rootCmd.AddCommand(loadCmd, serveCmd, mirrorCmd)
}

func newService(reg prometheus.Registerer) (*snapstore.Service, error) {
	if conf.Fixture == "" {
		return nil, errors.New("no fixture configured")
	}
	src, err := source.LoadFixture(conf.Fixture)
	if err != nil {
		return nil, err
	}
	codec, err := localdb.ParseCodec(conf.Compression)
	if err != nil {
		return nil, err
	}
	return snapstore.New(snapstore.Config{
		DataDir:         conf.DataDir,
		MinimumFreeGB:   uint(max(conf.MinimumFreeGB, 0)),
		Compression:     codec,
		IgnoreLocalDB:   conf.IgnoreLocalDB,
		InMemoryMirrors: conf.InMemoryMirrors,
		ColdBoot:        coldBoot,
		CollectDelta:    conf.CollectDelta,
		Logger:          logger,
		MirrorLogger:    mirrorLogger(),
		Registerer:      reg,
	}, src)
}

func mirrorLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

func runLoad(cmd *cobra.Command, args []string) error {
	svc, err := newService(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := svc.Start(ctx); err != nil {
		_ = svc.Close(ctx)
		return err
	}
	status, err := svc.Status()
	if err != nil {
		_ = svc.Close(ctx)
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		_ = svc.Close(ctx)
		return err
	}
	return svc.Close(ctx)
}

func runServe(cmd *cobra.Command, args []string) error { // A
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc, err := newService(reg)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		_ = svc.Close(context.Background())
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.Status()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			logger.Error("failed to write status", logKeyError, err)
		}
	})
	mux.HandleFunc("/collect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := svc.Collect(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	server := &http.Server{
		Addr:              conf.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving status", logKeyListen, conf.Listen, logKeyConfig, configPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(server.Shutdown(shutdownCtx), svc.Close(shutdownCtx))
	})
	return g.Wait()
}

func openMirror() (*localdb.Badger, error) {
	path := filepath.Join(conf.DataDir, mirrorDir)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("mirror %s: %w", path, err)
	}
	codec, err := localdb.ParseCodec(conf.Compression)
	if err != nil {
		return nil, err
	}
	return localdb.OpenBadger(localdb.BadgerConfig{
		Path:       path,
		Serializer: localdb.NewCompressedSerializer(codec),
		Logger:     mirrorLogger(),
	})
}

type dumpedKit struct {
	ID            int    `json:"id"`
	ParentID      int    `json:"parentId"`
	Path          string `json:"path"`
	SortOrder     int    `json:"sortOrder"`
	ContentTypeID int    `json:"contentTypeId"`
	Draft         string `json:"draft,omitempty"`
	Published     string `json:"published,omitempty"`
}

func dataName(d *model.ContentData) string {
	if d == nil {
		return ""
	}
	return d.Name
}

func runMirrorDump(cmd *cobra.Command, args []string) error {
	db, err := openMirror()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	var encErr error
	err = db.Ascend(func(id int, kit model.ContentNodeKit) bool {
		encErr = enc.Encode(dumpedKit{
			ID:            id,
			ParentID:      kit.Node.ParentID,
			Path:          kit.Node.Path,
			SortOrder:     kit.Node.SortOrder,
			ContentTypeID: kit.ContentTypeID,
			Draft:         dataName(kit.DraftData),
			Published:     dataName(kit.PublishedData),
		})
		return encErr == nil
	})
	return errors.Join(err, encErr, db.Close())
}

func runMirrorDrop(cmd *cobra.Command, args []string) error {
	db, err := openMirror()
	if err != nil {
		return err
	}
	if err := db.Drop(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "dropped %s mirror\n", mirrorDir)
	return nil
}
