// Command allocctl runs operational checks against the allocation store:
// audit chain verification, consistency reports, token minting for tests
// and directory maintenance.
package main

import (
	"context"
	"fmt"
	"os"

	"organlink/internal/allocation/service"
	"organlink/internal/allocation/store/sqlstore"
	"organlink/internal/platform/config"
)

func main() {
	root := newRootCmd(openConfiguredStore)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// storeOpener returns the store and a func releasing it.
type storeOpener func(ctx context.Context) (service.Store, func() error, error)

func openConfiguredStore(ctx context.Context) (service.Store, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Driver == config.StoreMemory {
		return nil, nil, fmt.Errorf("allocctl needs a persistent store; set ORGANLINK_STORE and ORGANLINK_DATABASE_URL")
	}
	store, err := sqlstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}
