// Command reconstruct is the thin CLI entry point wiring a YAML config file
// through to the optimiser's run loop, writing the joined output map and an
// optional resumable checkpoint when the run finishes or is interrupted.
//
// Grounded on cmd/cr30/main.go's flag + signal.NotifyContext orchestration
// shape, adapted to this module's pkg/logger (zerolog) instead of the
// teacher's log/slog.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/itohio/cryoem/pkg/config"
	"github.com/itohio/cryoem/pkg/logger"
	"github.com/itohio/cryoem/pkg/optimiser"
	"github.com/itohio/cryoem/pkg/reconimage"
)

var (
	configPath    = flag.String("config", "", "Path to the YAML run configuration (required)")
	outPath       = flag.String("out", "reconstruction.mrc", "Path to write the joined output map")
	checkpointDir = flag.String("checkpoint-dir", "", "Directory to write a resumable checkpoint into (optional); named run-<tag>.ckpt")
	seed          = flag.Int64("seed", 0, "RNG seed (0 picks one from the current time)")
	verbose       = flag.Int("v", 1, "Log verbosity: 0=warn, 1=info, 2=debug")
)

func main() {
	flag.Parse()
	setupLogging(*verbose)

	if *configPath == "" {
		logger.Log.Error().Msg("-config is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		logger.Log.Error().Err(err).Msg("reconstruct failed")
		os.Exit(1)
	}
}

func setupLogging(level int) {
	switch {
	case level <= 0:
		logger.Log = logger.Log.Level(zerolog.WarnLevel)
	case level == 1:
		logger.Log = logger.Log.Level(zerolog.InfoLevel)
	default:
		logger.Log = logger.Log.Level(zerolog.DebugLevel)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("reconstruct: %w", err)
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(rngSeed))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Log.Info().
		Str("config", *configPath).
		Int("size", cfg.Size).
		Int("iterMax", cfg.IterMax).
		Int64("seed", rngSeed).
		Msg("starting reconstruction")

	opt, err := optimiser.New(cfg, rng)
	if err != nil {
		return fmt.Errorf("reconstruct: %w", err)
	}

	runErr := opt.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Log.Error().Err(runErr).Msg("run loop stopped early")
	}

	if err := writeOutputs(opt, cfg); err != nil {
		return err
	}
	return nil
}

func writeOutputs(opt *optimiser.Optimiser, cfg config.Options) error {
	vol := opt.FinalVolume()
	if vol == nil {
		logger.Log.Warn().Msg("no iteration completed; skipping output map")
		return nil
	}
	if err := reconimage.WriteMRC(*outPath, vol.RealData(), cfg.Size, cfg.Size, cfg.Size); err != nil {
		return fmt.Errorf("reconstruct: write map: %w", err)
	}
	logger.Log.Info().Str("path", *outPath).Msg("wrote output map")

	if *checkpointDir == "" {
		return nil
	}
	cp := opt.Checkpoint(opt.LastIteration())
	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("reconstruct: marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(*checkpointDir, 0o755); err != nil {
		return fmt.Errorf("reconstruct: checkpoint dir: %w", err)
	}
	path := filepath.Join(*checkpointDir, checkpointFileName(int(cp.Iteration), cp.R))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("reconstruct: write checkpoint: %w", err)
	}
	logger.Log.Info().Str("path", path).Msg("wrote checkpoint")
	return nil
}

// checkpointFileName builds the short human-readable tag identifying a
// checkpoint by the iteration and resolution it was taken at, base58
// encoding the pair so the name stays compact without colliding across
// runs at the same iteration but different resolution.
func checkpointFileName(iteration int, resolution float32) string {
	var tag [8]byte
	binary.BigEndian.PutUint32(tag[:4], uint32(iteration))
	binary.BigEndian.PutUint32(tag[4:], math.Float32bits(resolution))
	return fmt.Sprintf("run-%s.ckpt", base58.Encode(tag[:]))
}
