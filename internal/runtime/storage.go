package runtime

import (
	"context"
	"fmt"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/config"
	"github.com/sirosfoundation/go-msh/internal/storage"
	"github.com/sirosfoundation/go-msh/internal/storage/gormstore"
	"github.com/sirosfoundation/go-msh/internal/storage/mongodb"
)

// OpenStorage opens the configured repository and the body store router.
// file:// locations are always served; gridfs:// locations are served when
// the repository is MongoDB.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.Repository, *bodystore.Router, error) {
	bodies := bodystore.NewRouter(bodystore.NewFileStore())

	switch cfg.Storage.Driver {
	case config.DriverSQLite, config.DriverMySQL:
		repo, err := gormstore.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, bodies, nil

	case config.DriverMongoDB:
		m := cfg.Storage.MongoDB
		store, err := mongodb.NewStore(ctx, &mongodb.Config{
			URI:            m.URI,
			Database:       m.Database,
			GridFSBucket:   m.GridFS.BucketName,
			ChunkSizeBytes: m.GridFS.ChunkSizeBytes,
		})
		if err != nil {
			return nil, nil, err
		}
		bodies.Add(store.Bodies())
		return store, bodies, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// checkLocations makes sure every configured body location has a store
func checkLocations(bodies *bodystore.Router, cfg *config.Config) error {
	for name, location := range map[string]string{
		"bodyStore.in":         cfg.BodyStore.In,
		"bodyStore.out":        cfg.BodyStore.Out,
		"bodyStore.exceptions": cfg.BodyStore.Exceptions,
	} {
		if !bodies.Accepts(location) {
			return fmt.Errorf("%s: %w: %s", name, bodystore.ErrNoStore, location)
		}
	}
	return nil
}
