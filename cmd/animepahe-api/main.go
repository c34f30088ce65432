package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ElijahCodes12345/animepahe-api/internal/apperr"
	"github.com/ElijahCodes12345/animepahe-api/internal/browser"
	"github.com/ElijahCodes12345/animepahe-api/internal/config"
	"github.com/ElijahCodes12345/animepahe-api/internal/fetch"
	"github.com/ElijahCodes12345/animepahe-api/internal/models"
	"github.com/ElijahCodes12345/animepahe-api/internal/play"
	"github.com/ElijahCodes12345/animepahe-api/internal/sandbox"
	"github.com/ElijahCodes12345/animepahe-api/internal/scraper"
	"github.com/ElijahCodes12345/animepahe-api/internal/server"
	"github.com/ElijahCodes12345/animepahe-api/internal/session"
	"github.com/ElijahCodes12345/animepahe-api/internal/util"
)

// noBrowser stands in for the harvester when playwright is not installed.
type noBrowser struct{}

func (noBrowser) HarvestCookies() ([]models.Cookie, error) {
	return nil, apperr.Unavailable("headless browser unavailable, set COOKIES to provide credentials manually")
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	addr := flag.String("addr", "", "listen address (overrides PORT)")
	flag.Parse()

	util.SetDebugMode(*debug)
	util.InitLogger()

	cfg, err := config.Load()
	if err != nil {
		util.Fatalf("invalid configuration: %v", err)
	}

	var (
		harvester session.Harvester = noBrowser{}
		renderer  scraper.Renderer
	)
	driver := browser.New(cfg)
	if err := driver.Start(); err != nil {
		// The service still works with a manual cookie override or a fresh
		// enough stored bundle; only automatic challenge solving is lost.
		util.Warnf("headless browser unavailable: %v", err)
	} else {
		defer driver.Stop()
		harvester = driver
		renderer = driver
	}

	sess := session.NewManager(cfg, harvester)
	plain := fetch.NewPlain(cfg)
	fastPlain := fetch.NewFastPlain(cfg)
	challenge, err := fetch.NewChallenge(cfg)
	if err != nil {
		util.Fatalf("failed to build impersonating client: %v", err)
	}
	evaluator := sandbox.New(0)
	client := scraper.NewClient(cfg, sess, plain, fastPlain, challenge, renderer)
	resolver := play.NewResolver(cfg, client, evaluator)
	downloads := play.NewDownloadResolver(cfg, challenge, plain, evaluator)

	// Warm the credential bundle in the background so the first request does
	// not pay for a challenge solve.
	go func() {
		if _, err := sess.EnsureFresh(""); err != nil {
			util.Warnf("cookie warm-up failed: %v", err)
		}
	}()

	srv := server.New(cfg, client, client, resolver, downloads)

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = ":" + cfg.Port
	}
	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		util.Infof("API running on http://localhost%s", listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Errorf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	util.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		util.Errorf("shutdown error: %v", err)
		os.Exit(1)
	}
}
