package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/girvel/storagenode/config"
	"github.com/girvel/storagenode/filesystem"
	"github.com/girvel/storagenode/internal/util"
	"github.com/girvel/storagenode/server"
)

// cliFlags holds the parsed command line. Only flags the user actually
// passed end up in override, so they never mask file or env values.
type cliFlags struct {
	configPath string
	override   config.ConfigOverride
}

func parseFlags(name string, args []string) (*cliFlags, error) {
	var (
		configPath string
		root       string
		addr       string
		chunkSize  int
		verbose    int
		webdav     bool
	)
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")
	fs.StringVar(&configPath, "c", "", "--config (shorthand)")
	fs.StringVar(&root, "root", "", "Storage root directory (env "+config.EnvRoot+")")
	fs.StringVar(&root, "r", "", "--root (shorthand)")
	fs.StringVar(&addr, "addr", config.DefaultAddr, "HTTP listen address (env "+config.EnvAddr+")")
	fs.StringVar(&addr, "a", config.DefaultAddr, "--addr (shorthand)")
	fs.IntVar(&chunkSize, "chunk-size", config.DefaultChunkSize, "Streaming chunk size in bytes (env "+config.EnvChunkSize+")")
	fs.IntVar(&verbose, "verbose", config.InfoVerbose, "Log verbosity level between 1 (error) and 5 (trace). Default is 3 (info).")
	fs.IntVar(&verbose, "v", config.InfoVerbose, "--verbose (shorthand)")
	fs.BoolVar(&webdav, "webdav", config.DefaultWebDAV, "Also serve the storage root over WebDAV at /dav/ (env "+config.EnvWebDAV+")")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cli := &cliFlags{configPath: configPath}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root", "r":
			cli.override.Root = &root
		case "addr", "a":
			cli.override.Addr = &addr
		case "chunk-size":
			cli.override.ChunkSize = &chunkSize
		case "verbose", "v":
			cli.override.LogLvl = &verbose
		case "webdav":
			cli.override.WebDAV = &webdav
		}
	})
	return cli, nil
}

// loadConfig layers defaults, the config file, the environment and finally
// the command line, then validates the result.
func loadConfig(cli *cliFlags, lookup config.LookupFunc) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if cli.configPath != "" {
		fileOverride, err := config.LoadConfigOverrideFile(cli.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", cli.configPath, err)
		}
		cfg.Merge(fileOverride)
	}
	envOverride, err := config.LoadEnvOverride(lookup)
	if err != nil {
		return nil, err
	}
	cfg.Merge(envOverride)
	cfg.Merge(&cli.override)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	util.InitializeLogger(config.DefaultLogLvl)
	logger := util.GetLogger("main")

	cli, err := parseFlags(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logger.Fatal().Err(err).Msg("Invalid command line")
	}
	cfg, err := loadConfig(cli, os.LookupEnv)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	util.InitializeLogger(cfg.LogLvl)
	logger = util.GetLogger("main")
	logger.Debug().Interface("config", cfg).Msg("Configuration loaded")

	res, err := filesystem.NewResolver(cfg.Root)
	if err != nil {
		logger.Fatal().Err(err).Str("root", cfg.Root).Msg("Failed to open storage root")
	}
	store := filesystem.NewOsStore(res, cfg.ChunkSize)
	srv := server.New(cfg, server.Backend{
		Resolver: res,
		Store:    store,
		DAV:      filesystem.NewDavFS(res, store),
	})

	done := srv.ServeAsync()

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case err := <-done:
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Addr).Msg("Server failed")
		}
		return
	case sig := <-signalChan:
		logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	} else {
		logger.Info().Msg("Server stopped")
	}
	<-done
}
