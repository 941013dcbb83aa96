package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/app"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/pipeline"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/storage"
)

func main() {
	var (
		cfgPath string
		modeRaw string
		serve   bool
		dryRun  bool
		dump    bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&modeRaw, "mode", "full", "run mode: full or monitor")
	flag.BoolVar(&serve, "serve", false, "run on the configured schedules until interrupted")
	flag.BoolVar(&dryRun, "dry-run", false, "compose and log the digest without sending it or saving snapshots")
	flag.BoolVar(&dump, "dump", false, "print stored snapshots as JSON and exit")
	flag.Parse()

	mode, err := pipeline.ParseMode(modeRaw)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, app.Options{ConfigPath: cfgPath, DryRun: dryRun})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	switch {
	case dump:
		err = dumpSnapshots(ctx, a.Store())
		_ = a.Close()
	case serve:
		err = a.Serve(ctx)
	default:
		_, err = a.RunOnce(ctx, mode)
		_ = a.Close()
	}
	if err != nil {
		if errors.Is(err, storage.ErrStorageFailure) {
			fmt.Fprintln(os.Stderr, "storage failure:", err)
		} else {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
		os.Exit(1)
	}
}

func dumpSnapshots(ctx context.Context, st storage.Store) error {
	ids, err := st.Sources(ctx)
	if err != nil {
		return err
	}
	out := make(map[string][]record.Record, len(ids))
	for _, id := range ids {
		recs, err := st.Snapshot(ctx, id)
		if err != nil {
			return err
		}
		out[id] = recs
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
