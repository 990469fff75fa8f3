package app

import (
	"fmt"

	"github.com/1ureka/blobrepl/internal/config"
	"github.com/1ureka/blobrepl/internal/store"
)

// OpenStore opens the configured backend. The returned close function
// releases it.
func OpenStore(cfg config.Config) (store.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendFS:
		return store.NewOSFS(cfg.Dir), func() error { return nil }, nil
	case config.BackendLevelDB:
		db, err := store.OpenLevelDB(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
