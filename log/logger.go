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

package log

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ModuleID identifies the subsystem a logger belongs to. Every log line
// carries its module name so operators can filter per subsystem.
type ModuleID int

const (
	BaseLogger ModuleID = iota
	CMDChainscope
	Indexer
	BlockFetcher
	BalanceFetcher
	InternalTxFetcher
	TokenBalanceFetcher
	RPCClient
	Importer
	EventBus
	Storage
	ModuleNameLen
)

var moduleNames = [ModuleNameLen]string{
	"base",
	"cmd/chainscope",
	"datasync/indexer",
	"datasync/indexer/blockfetcher",
	"datasync/indexer/balancefetcher",
	"datasync/indexer/internaltxfetcher",
	"datasync/indexer/tokenbalancefetcher",
	"networks/rpc",
	"storage/sqldb/importer",
	"event",
	"storage/sqldb",
}

func (m ModuleID) String() string {
	if m < 0 || m >= ModuleNameLen {
		return "unknown"
	}
	return moduleNames[m]
}

// Logger is the key/value logging interface used across the repository.
// Context is given as alternating keys and values, log15 style.
type Logger interface {
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	// Crit logs the message and terminates the process.
	Crit(msg string, ctx ...interface{})
	NewWith(ctx ...interface{}) Logger
}

var (
	baseMu   sync.RWMutex
	base     *zap.Logger
	baseAtom = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Level = baseAtom
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build base logger:", err)
		os.Exit(1)
	}
	base = logger
}

// ChangeGlobalLevel changes the log level of every module logger.
// Accepted levels are "debug", "info", "warn" and "error".
func ChangeGlobalLevel(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return err
	}
	baseAtom.SetLevel(lvl)
	return nil
}

// NewModuleLogger returns a logger scoped to the given module.
func NewModuleLogger(module ModuleID) Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return &zapLogger{zl: base.With(zap.String("module", module.String()))}
}

type zapLogger struct {
	zl *zap.Logger
}

func (l *zapLogger) Debug(msg string, ctx ...interface{}) { l.zl.Debug(msg, fields(ctx)...) }
func (l *zapLogger) Info(msg string, ctx ...interface{})  { l.zl.Info(msg, fields(ctx)...) }
func (l *zapLogger) Warn(msg string, ctx ...interface{})  { l.zl.Warn(msg, fields(ctx)...) }
func (l *zapLogger) Error(msg string, ctx ...interface{}) { l.zl.Error(msg, fields(ctx)...) }

func (l *zapLogger) Crit(msg string, ctx ...interface{}) {
	l.zl.Error(msg, fields(ctx)...)
	_ = l.zl.Sync()
	os.Exit(1)
}

func (l *zapLogger) NewWith(ctx ...interface{}) Logger {
	return &zapLogger{zl: l.zl.With(fields(ctx)...)}
}

// fields turns alternating key/value context into zap fields. A trailing key
// without a value is logged under MISSING_VALUE rather than dropped.
func fields(ctx []interface{}) []zap.Field {
	fs := make([]zap.Field, 0, (len(ctx)+1)/2)
	for i := 0; i < len(ctx); i += 2 {
		key, ok := ctx[i].(string)
		if !ok {
			key = fmt.Sprint(ctx[i])
		}
		if i+1 < len(ctx) {
			fs = append(fs, zap.Any(key, ctx[i+1]))
		} else {
			fs = append(fs, zap.Any("MISSING_VALUE", ctx[i]))
		}
	}
	return fs
}
