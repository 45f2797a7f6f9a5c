// Copyright 2019 The klaytn Authors
// This file is part of the chainscope library.
//
// The chainscope library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The chainscope library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the chainscope library. If not, see <http://www.gnu.org/licenses/>.

package sqldb

import (
	"database/sql"

	"github.com/go-redis/redis/v7"
	"github.com/jinzhu/gorm"
	_ "github.com/go-sql-driver/mysql"

	"github.com/klaytn/chainscope/log"
	"github.com/pkg/errors"
)

var logger = log.NewModuleLogger(log.Storage)

// Store is the handle to the explorer's relational database. Read-side
// queries go through gorm; the importer opens raw transactions on the
// underlying connection pool so every statement carries a context.
type Store struct {
	cfg   *DBConfig
	gdb   *gorm.DB
	redis *redis.Client
}

// NewStore opens the MySQL connection pool described by cfg and, when a
// redis URL is configured, the cache-invalidation publisher.
func NewStore(cfg *DBConfig) (*Store, error) {
	gdb, err := gorm.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	gdb.LogMode(cfg.EnabledLogMode)
	gdb.DB().SetMaxIdleConns(cfg.MaxIdleConns)
	gdb.DB().SetMaxOpenConns(cfg.MaxOpenConns)
	gdb.DB().SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{cfg: cfg, gdb: gdb}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		store.redis = redis.NewClient(opts)
		if err := store.redis.Ping().Err(); err != nil {
			logger.Warn("redis is unreachable; reorg cache invalidation disabled", "err", err)
			store.redis = nil
		}
	}
	logger.Info("store opened", "host", cfg.DBHost, "port", cfg.DBPort, "name", cfg.DBName,
		"maxOpenConns", cfg.MaxOpenConns)
	return store, nil
}

// SQLDB exposes the raw connection pool for context-aware transactions.
func (s *Store) SQLDB() *sql.DB { return s.gdb.DB() }

// BulkInsertSize returns how many rows a single INSERT may carry.
func (s *Store) BulkInsertSize() int {
	if s.cfg.BulkInsertSize <= 0 {
		return 500
	}
	return s.cfg.BulkInsertSize
}

// InvalidateCaches publishes the block numbers touched by a reorg so
// external read caches drop stale entries. Best effort.
func (s *Store) InvalidateCaches(blockNumbers []uint64) {
	if s.redis == nil || len(blockNumbers) == 0 {
		return
	}
	for _, n := range blockNumbers {
		if err := s.redis.Publish(s.cfg.RedisChannel, n).Err(); err != nil {
			logger.Warn("cache invalidation publish failed", "blockNumber", n, "err", err)
			return
		}
	}
}

// Close tears down the connection pools.
func (s *Store) Close() error {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn("closing redis failed", "err", err)
		}
	}
	return s.gdb.Close()
}
