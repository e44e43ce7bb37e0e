// Package app assembles the storage backends shared by the server and the
// admin command.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/client"
	"github.com/iliyamo/content-license-server/internal/config"
	"github.com/iliyamo/content-license-server/internal/database"
	"github.com/iliyamo/content-license-server/internal/model"
	"github.com/iliyamo/content-license-server/internal/ratelimit"
	"github.com/iliyamo/content-license-server/internal/repository"
	"github.com/iliyamo/content-license-server/internal/revocation"
	"github.com/iliyamo/content-license-server/internal/session"
	"github.com/iliyamo/content-license-server/internal/token"
)

// Stores groups the persistence ports used by the services.
type Stores struct {
	Clients  client.Store
	Tokens   revocation.Store
	Licenses repository.LicenseGetter
	Settings token.SettingStore
	Sessions session.Store
	Counters ratelimit.CounterStore

	Redis *redis.Client
	db    *sql.DB
}

// OpenStores connects the backend selected by cfg.Storage.  Sessions and
// rate counters live in Redis when it is reachable and in process memory
// otherwise.
func OpenStores(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Stores, error) {
	s := &Stores{}
	switch cfg.Storage {
	case "mysql":
		db, err := database.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.db = db
		s.Clients = repository.NewClientRepo(db)
		s.Tokens = repository.NewTokenRepo(db)
		s.Settings = repository.NewSettingRepo(db)
		s.Licenses = repository.NewLicenseRepo(db)
	case "memory":
		licenses, err := LoadLicenses(cfg.Licenses)
		if err != nil {
			return nil, err
		}
		s.Clients = repository.NewMemoryClientStore()
		s.Tokens = repository.NewMemoryTokenStore()
		s.Settings = repository.NewMemorySettingStore()
		s.Licenses = repository.NewMemoryLicenseStore(licenses...)
		log.Warn().Int("licenses", len(licenses)).Msg("using in-memory storage; state is lost on restart")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	s.Redis = config.NewRedisClient()
	if s.Redis != nil {
		s.Sessions = repository.NewRedisSessionRepo(s.Redis, "olp")
		s.Counters = repository.NewRedisCounterRepo(s.Redis)
		log.Info().Msg("redis connected")
	} else {
		s.Sessions = repository.NewMemorySessionStore()
		s.Counters = repository.NewMemoryCounterStore()
		log.Warn().Msg("redis unavailable; sessions and rate counters are process-local")
	}
	s.Licenses = repository.NewCachedLicenses(s.Licenses, config.LoadCacheConfig(), s.Redis, log)
	return s, nil
}

// Close releases the database and Redis connections.
func (s *Stores) Close() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// LoadLicenses reads a JSON array of licenses from path.  An empty path
// yields no licenses.
func LoadLicenses(path string) ([]model.License, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read licenses file: %w", err)
	}
	var out []model.License
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse licenses file %s: %w", path, err)
	}
	return out, nil
}
