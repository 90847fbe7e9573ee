package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-conference/api"
	"github.com/tcriess/lightspeed-conference/config"
	"github.com/tcriess/lightspeed-conference/globals"
	"github.com/tcriess/lightspeed-conference/persistence"
	"github.com/tcriess/lightspeed-conference/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	persister, err := persistence.NewPersister(cfg.PersistenceConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	if err := persistence.SeedPolls(persister, cfg.Polls()); err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := ws.NewHub(cfg, persister)
	go hub.Run(ctx)

	server, err := api.NewServer(cfg, persister, hub)
	if err != nil {
		panic(err)
	}
	httpServer := &http.Server{
		Addr:              cfg.ServerConfig.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		globals.AppLogger.Info("shutting down")
		hub.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			globals.AppLogger.Error("could not shut down cleanly", "error", err)
		}
	}()

	globals.AppLogger.Info("listening", "addr", cfg.ServerConfig.Addr)
	if *sslCert != "" && *sslKey != "" {
		err = httpServer.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		globals.AppLogger.Error("stopped listening", "error", err)
	}
}
