package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/repairjourney-backend/internal/app"
	"github.com/yungbote/repairjourney-backend/internal/temporalx/temporalworker"
)

// build_corpus exports every completed repair journey as a training dataset,
// either in-process or as a Temporal workflow run by the service's worker.
func main() {
	useTemporal := flag.Bool("temporal", false, "start the corpus_build workflow instead of building in-process")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if *useTemporal {
		if a.Temporal == nil {
			a.Log.Error("TEMPORAL_ADDRESS is not set; cannot run with -temporal")
			os.Exit(1)
		}
		res, err := temporalworker.StartCorpusBuild(ctx, a.Temporal, a.TemporalCfg)
		if err != nil {
			a.Log.Error("Corpus workflow failed", "error", err)
			os.Exit(1)
		}
		fmt.Println(res.Address)
		return
	}

	res, err := a.Services.Corpus.BuildCorpus(ctx)
	if err != nil {
		a.Log.Error("Corpus build failed", "error", err)
		os.Exit(1)
	}
	if !res.Stored() {
		a.Log.Error("Corpus could not be stored", "address", res.Address)
		os.Exit(2)
	}
	fmt.Println(res.Address)
}
