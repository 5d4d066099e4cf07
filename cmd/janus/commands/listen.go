package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/janusipc/janus/internal/config"
	"github.com/janusipc/janus/internal/reload"
	"github.com/janusipc/janus/pkg/manifest"
	"github.com/janusipc/janus/pkg/server"
)

var (
	listenSocket   string
	listenManifest string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run a Janus server, listening for datagrams on a Unix socket",
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().StringVar(&listenSocket, "socket", "/tmp/janus.sock", "Unix socket path to bind")
	listenCmd.Flags().StringVar(&listenManifest, "manifest", "", "Manifest file enabling Response Validation")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(cfgFile)
	if err != nil {
		return Runtime(err)
	}
	if cmd.Flags().Changed("socket") {
		cfg.SocketPath = listenSocket
	}

	var man *manifest.Manifest
	if listenManifest != "" {
		data, err := os.ReadFile(listenManifest)
		if err != nil {
			return Runtime(errors.Wrap(err, "reading manifest file"))
		}
		man, err = manifest.Parse(data)
		if err != nil {
			return Runtime(errors.Wrap(err, "parsing manifest file"))
		}
		log.WithField("path", listenManifest).Info("manifest loaded")
	}

	srvCfg := server.Config{
		SocketPath:        cfg.SocketPath,
		Name:              cfg.Name,
		Version:           cfg.Version,
		MaxConnections:    cfg.MaxConnections,
		DefaultTimeout:    cfg.DefaultTimeout,
		MaxMessageSize:    cfg.MaxMessageSize,
		CleanupOnStart:    cfg.CleanupOnStart,
		CleanupOnShutdown: cfg.CleanupOnShutdown,
	}
	s := server.New(srvCfg, man, nil)

	if listenManifest != "" {
		watcher := reload.New(listenManifest, s.SetManifest, log.WithField("component", "listen"))
		if err := watcher.Start(); err != nil {
			log.WithError(err).Warn("manifest hot-reload disabled")
		} else {
			defer watcher.Stop()
		}
	}

	s.On("error", func(data interface{}) {
		log.WithField("event", data).Debug("server error event")
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		s.Stop()
	}()

	log.WithField("socket", cfg.SocketPath).Info("janus server starting")
	if err := s.Start(); err != nil {
		return Runtime(errors.Wrap(err, "server exited"))
	}
	return nil
}
