// Command ofcored is a thin demo binary showing how an embedding agent
// drives an ofcore.Core from its own event loop. It is not itself part
// of the control subsystem; configuration, flow compilation and the
// logical-model database are all out of scope here too.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cabmario/ofcore"
	"github.com/cabmario/ofcore/tlv"
)

func main() {
	target := flag.String("target", "unix:/var/run/openvswitch/br0.mgmt", "OpenFlow management socket, as network:address")
	tickInterval := flag.Duration("tick", 200*time.Millisecond, "run/put cycle interval")
	probeDatapath := flag.Bool("probe-datapath", true, "fail fast if no Open vSwitch datapath is present")
	bridge := flag.String("bridge", "", "bridge identity passed to Run, for diagnostics only")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	log := mustLogger(*verbose)
	defer log.Sync()

	cfg := ofcore.Config{
		Target:        *target,
		Triple:        tlv.Triple{Class: 0xffff, Type: 1, Len: 4},
		ProbeDatapath: *probeDatapath,
		Log:           log,
	}

	core, err := ofcore.New(cfg)
	if err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	if err := core.Init(); err != nil {
		log.Fatalw("failed to start control channel", "target", *target, "error", err)
	}
	defer core.Destroy()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := core.Wait(ctx); err != nil {
		log.Fatalw("control channel never came up", "error", err)
	}

	runLoop(ctx, core, *bridge, *tickInterval, log)
}

// runLoop is the event loop spec.md §5 requires: a single goroutine that
// is the only caller of Run and Put.
func runLoop(ctx context.Context, core *ofcore.Core, bridge string, tick time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infow("shutting down")
			return
		case <-ticker.C:
			fieldID := core.Run(bridge)
			if fieldID != 0 {
				core.Put()
			}
		}
	}
}

func mustLogger(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}
