package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"brewstore/internal/config"
	"brewstore/internal/search"
	"brewstore/internal/storage"
)

type SearchSyncOptions struct {
	Index   string
	Rebuild bool
	Wait    bool
	Out     io.Writer
}

// RunSearchSync deletes the product index, or with Rebuild recreates it from
// the catalog, and prints the result as JSON to opts.Out.
func RunSearchSync(opts SearchSyncOptions) error {
	logger := newLogger()
	cfg, err := config.LoadSearch()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Index == "" {
		return errors.New("index name is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	es, err := search.NewClient(cfg.URL, cfg.APIKey)
	if err != nil {
		return err
	}
	syncer := search.NewSyncer(es, logger)

	var result any
	if opts.Rebuild {
		if cfg.DatabaseURL == "" {
			return errors.New("SEARCH_DATABASE_URL is required for a rebuild")
		}
		store, err := storage.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		products, err := store.Products().List(ctx)
		if err != nil {
			return err
		}
		if result, err = syncer.Rebuild(ctx, opts.Index, products, opts.Wait); err != nil {
			return err
		}
	} else {
		res, err := syncer.DeleteIndex(ctx, opts.Index)
		if err != nil {
			return err
		}
		if res.NotFound {
			fmt.Fprintf(opts.Out, "warning: index %q does not exist, nothing to delete\n", opts.Index)
			return nil
		}
		result = res
	}

	enc := json.NewEncoder(opts.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
