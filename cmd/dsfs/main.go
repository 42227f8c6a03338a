package main

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/kwarrick/dsfs"
	"github.com/kwarrick/dsfs/config"
	"github.com/kwarrick/dsfs/internal/util"
	"github.com/kwarrick/dsfs/server"
)

func main() {
	var (
		configPath string
		storeDir   string
		localRoot  string
		verbose    int
		umount     bool
	)
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file (yaml or json)")
	pflag.StringVarP(&storeDir, "store", "s", "", "Directory for the disk-backed store; in-memory if empty")
	pflag.StringVarP(&localRoot, "local", "l", "", "Local directory shadowed into the namespace")
	pflag.IntVarP(&verbose, "verbose", "v", 3, "Log verbosity level between 1 (error) and 5 (trace)")
	pflag.BoolVarP(&umount, "umount", "u", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	pflag.Parse()

	if verbose < 1 {
		verbose = 1
	}
	if verbose > 5 {
		verbose = 5
	}
	logLvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	logLvl := logLvls[verbose-1]
	util.InitializeLogger(logLvl)
	logger := util.GetLogger("main")

	mnt := pflag.Arg(0)
	logger.Info().Int("verbose", verbose).Str("store", storeDir).Str("mnt", mnt).Msg("dsfs initializing")
	if mnt == "" {
		logger.Fatal().Msg("Mount point not specified; it must be passed as the argument")
	}
	if umount {
		cmd := exec.Command("fusermount", "-u", mnt)
		// ignore error here if not already mounted
		cmd.Run() // nolint:errcheck
	}

	cfg := config.NewDefaultConfig()
	if configPath != "" {
		override, err := config.LoadConfigOverrideFile(configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("config", configPath).Msg("Failed to load config file")
		}
		cfg.Merge(override)
	}
	cfg.LogLvl = logLvl
	if storeDir != "" {
		cfg.StoreDir = storeDir
	}
	if localRoot != "" {
		cfg.LocalRoot = localRoot
	}

	fs, err := dsfs.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize filesystem")
	}

	srv := server.New(cfg, fs)
	if err := srv.Serve(mnt); err != nil {
		logger.Fatal().Err(err).Msg("Failed to mount filesystem")
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	logger.Info().Str("mountpoint", mnt).Msg("Filesystem mounted successfully")

	sig := <-signalChan
	logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")

	if err := srv.Unmount(); err != nil {
		logger.Error().Err(err).Msg("Failed to unmount filesystem")
	} else {
		logger.Info().Msg("Filesystem unmounted successfully")
	}
}
