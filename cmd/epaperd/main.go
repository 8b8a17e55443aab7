// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// epaperd drives a 6-colour e-paper panel and accepts frames over HTTP.
//
// The panel is owned by a single goroutine locked to its OS thread; the
// HTTP server writes uploads into a shared frame buffer and queues display
// commands for it. Run with -sim on a machine without the panel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/mgutz/logxi/v1"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/epaper/cmdqueue"
	"github.com/GermanBionicSystems/epaper/config"
	"github.com/GermanBionicSystems/epaper/controller"
	"github.com/GermanBionicSystems/epaper/framebuffer"
	"github.com/GermanBionicSystems/epaper/ingest"
	"github.com/GermanBionicSystems/epaper/preview"
	"github.com/GermanBionicSystems/epaper/spectra6"
)

var (
	logger = log.New("epaperd")

	configPath = flag.String("config", "", "YAML configuration file, defaults are used when empty")
	listen     = flag.String("listen", "", "HTTP listen address, overrides the configuration")
	profile    = flag.String("profile", "", "timing profile (reva, revb), overrides the configuration")
	sim        = flag.Bool("sim", false, "simulate the panel, no hardware is touched")
	verbose    = flag.Bool("v", false, "enable debug logging")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [options]\n\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "epaperd drives a 6-colour e-paper panel and accepts frames over HTTP.")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Options:")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "log levels can also be set with the LOGXI environment variables, see https://github.com/mgutz/logxi")
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if *configPath == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *profile != "" {
		cfg.Timing.Profile = *profile
	}
	return cfg, cfg.Validate()
}

// openPanel returns the panel driver and the function releasing its bus.
func openPanel(cfg *config.Config) (*spectra6.Dev, func() error, error) {
	opts := cfg.SpectraOpts()
	if *sim {
		return newSimPanel(&opts)
	}

	if _, err := host.Init(); err != nil {
		return nil, nil, err
	}
	port, err := spireg.Open(cfg.Panel.SPIPort)
	if err != nil {
		return nil, nil, err
	}
	pins, err := cfg.ResolvePins()
	if err != nil {
		_ = port.Close()
		return nil, nil, err
	}
	dev, err := spectra6.New(port, pins.DC, pins.CS, pins.Reset, pins.Busy, &opts)
	if err != nil {
		_ = port.Close()
		return nil, nil, err
	}
	return dev, port.Close, nil
}

func mainImpl() error {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}

	loggers := map[string]log.Logger{}
	for _, name := range []string{"controller", "ingest", "preview"} {
		loggers[name] = log.New(name)
	}
	if *verbose {
		logger.SetLevel(log.LevelDebug)
		for _, l := range loggers {
			l.SetLevel(log.LevelDebug)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dev, closePort, err := openPanel(cfg)
	if err != nil {
		return err
	}
	defer closePort()
	logger.Info("panel", "dev", dev, "sim", *sim)

	bufOpts := cfg.BufferOpts()
	fb, err := framebuffer.New(cfg.Panel.Width, cfg.Panel.Height, &bufOpts)
	if err != nil {
		return err
	}
	defer fb.Close()
	logger.Info("frame buffer", "bytes", fb.Cap(), "source", fb.Source())

	format, _ := cfg.PreviewFormat()
	prev := preview.New(&preview.Opts{
		Width:  cfg.Panel.Width,
		Height: cfg.Panel.Height,
		Format: format,
		Logger: loggers["preview"],
	})

	q := cmdqueue.New(cfg.Queue.Capacity)
	ctrl := controller.New(dev, fb, q, &controller.Opts{
		Logger: loggers["controller"],
		Sink:   prev,
	})
	handler := ingest.NewHandler(ingest.New(fb, q, ctrl, &ingest.Opts{Logger: loggers["ingest"]}), &ingest.HandlerOpts{
		Service:           cfg.Service,
		HardwareAvailable: !*sim,
		Logger:            loggers["ingest"],
	})
	handler.Handle("GET /api/display/preview", prev)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	displayDone := make(chan struct{})
	go func() {
		defer close(displayDone)
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			// The server keeps running to report the failure.
			logger.Error("display stopped", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-srvErr:
		stop()
		<-displayDone
		return err
	}

	_ = prev.Halt()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}

	// A refresh in progress cannot be interrupted.
	timing := cfg.SpectraOpts().Timing
	select {
	case <-displayDone:
	case <-time.After(timing.PowerOnTimeout + timing.RefreshTimeout + timing.PowerOffTimeout):
		return errors.New("display goroutine did not stop")
	}
	if err := dev.Halt(); err != nil {
		logger.Warn("panel sleep", "err", err)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "epaperd: %s.\n", err)
		os.Exit(1)
	}
}
