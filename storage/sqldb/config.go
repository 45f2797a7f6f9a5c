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
	"fmt"
	"time"
)

// DBConfig carries the relational-store connection settings.
type DBConfig struct {
	EnabledLogMode bool

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration

	BulkInsertSize int

	// RedisURL enables reorg cache invalidation when set.
	RedisURL     string
	RedisChannel string
}

// DefaultDBConfig returns the connection settings used when the operator
// configures none.
func DefaultDBConfig() *DBConfig {
	return &DBConfig{
		DBHost:          "127.0.0.1",
		DBPort:          "3306",
		DBUser:          "chainscope",
		DBName:          "chainscope",
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		BulkInsertSize:  500,
		RedisChannel:    "chainscope:reorg",
	}
}

// DSN renders the go-sql-driver connection string.
func (c *DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}
