// SPDX-License-Identifier: Apache-2.0

//go:build linux

// secretsd is a Freedesktop.org Secret Service daemon. It exposes the
// org.freedesktop.secrets D-Bus service and stores collections and items
// sealed at rest under a storage backend selected by configuration.
//
// Usage:
//
//	secretsd [flags]
//
// Flags:
//
//	--config             path   Config file (default: $XDG_CONFIG_HOME/tks/service.yaml)
//	--pinentry-path      path   Path to the pinentry binary used for prompts (default: "pinentry")
//	--replace                   Replace an existing org.freedesktop.secrets name owner
//	--disable-memprotect        [DEBUG] Disable memory protection (prctl, mlockall)
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/tks-project/secretsd/internal/backend"
	"github.com/tks-project/secretsd/internal/backend/diskgcm"
	"github.com/tks-project/secretsd/internal/backend/foreign"
	"github.com/tks-project/secretsd/internal/backend/fscrypt"
	"github.com/tks-project/secretsd/internal/config"
	"github.com/tks-project/secretsd/internal/identity"
	"github.com/tks-project/secretsd/internal/memprotect"
	"github.com/tks-project/secretsd/internal/prompt"
	"github.com/tks-project/secretsd/internal/promptdriver"
	"github.com/tks-project/secretsd/internal/service"
	"github.com/tks-project/secretsd/internal/store"
)

func main() {
	defaultConfig, err := config.DefaultPath()
	if err != nil {
		log.Fatalf("resolve default config path: %v", err)
	}
	configPath := flag.String("config", defaultConfig, "config file path")
	pinentryPath := flag.String("pinentry-path", "pinentry", "path to the pinentry binary used for passphrase prompts")
	replace := flag.Bool("replace", false, "replace an existing org.freedesktop.secrets owner")
	disableMemprotect := flag.Bool("disable-memprotect", false, "[DEBUG] disable memory protection (prctl, mlockall)")
	timeout := flag.Duration("timeout", 0, "shut down after this period of D-Bus inactivity (0 disables the idle timeout)")
	flag.Parse()

	log.SetPrefix("secretsd: ")
	log.SetFlags(0)

	// Harden the process against memory inspection by same-user processes.
	// prctl(PR_SET_DUMPABLE,0) blocks /proc/<pid>/mem reads and ptrace.
	// mlockall pins pages in RAM so secrets never reach swap.
	if *disableMemprotect {
		log.Printf("[DEBUG] memory protection disabled")
	} else {
		if err := memprotect.HardenProcess(); err != nil {
			log.Fatalf("harden process: %v", err)
		}
		log.Printf("memory protections applied")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", *configPath, err)
	}
	log.Printf("config loaded from %s", *configPath)

	be, err := openBackend(cfg.Storage)
	if err != nil {
		log.Fatalf("open storage backend: %v", err)
	}
	log.Printf("storage backend %q ready at %s", cfg.Storage.Kind, cfg.Storage.Path)

	st, err := store.New(be)
	if err != nil {
		log.Fatalf("load collection store: %v", err)
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		log.Fatalf("connect to session bus: %v\n"+
			"hint: ensure DBUS_SESSION_BUS_ADDRESS is set (run: export $(dbus-launch))", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("close D-Bus connection: %v", err)
		}
	}()

	prompts := prompt.NewRegistry(conn)
	dialog := promptdriver.New(*pinentryPath)
	gate := identity.NewGate(conn, prompts, dialog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := service.New(ctx, conn, st, prompts, dialog, gate, *timeout, cancel); err != nil {
		log.Fatalf("start secret service: %v", err)
	}

	nameFlags := dbus.NameFlagDoNotQueue
	if *replace {
		nameFlags |= dbus.NameFlagReplaceExisting
	}
	reply, err := conn.RequestName(service.BusName, nameFlags)
	if err != nil {
		log.Fatalf("request D-Bus name %s: %v", service.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		log.Fatalf("D-Bus name %s is already owned (use --replace to take it over)", service.BusName)
	}
	log.Printf("org.freedesktop.secrets is ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-ctx.Done():
		log.Printf("shutdown initiated (idle timeout)")
	case sig := <-sigChan:
		log.Printf("received signal: %v, shutting down", sig)
		cancel()
	}
}

// openBackend constructs the storage backend named by cfg.Kind.
func openBackend(cfg config.StorageConfig) (backend.Backend, error) {
	switch cfg.Kind {
	case config.KindFscrypt:
		return fscrypt.New(cfg.Path)
	case config.KindForeign:
		return foreign.New(cfg.Path), nil
	default:
		return diskgcm.New(cfg.Path)
	}
}
