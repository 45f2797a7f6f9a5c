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
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/klaytn/chainscope/blockchain/types"
	"github.com/klaytn/chainscope/event"
	"github.com/klaytn/chainscope/log"
	"github.com/pkg/errors"
)

var importLogger = log.NewModuleLogger(log.Importer)

const (
	// DefaultImportTimeout bounds the whole import transaction.
	DefaultImportTimeout = 120 * time.Second
	// DefaultRunnerTimeout bounds one runner's statements.
	DefaultRunnerTimeout = 60 * time.Second
)

// TokensOnConflict selects what an existing token row keeps when the same
// contract is seen again.
type TokensOnConflict int

const (
	// TokensConflictNothing leaves the existing row alone; out-of-band
	// metadata enrichment survives re-imports.
	TokensConflictNothing TokensOnConflict = iota
	// TokensConflictReplaceAll overwrites the row with the incoming params.
	TokensConflictReplaceAll
)

// Options is the importer input. Absent (empty) groups are skipped; at least
// one group must be present for a transaction to open.
type Options struct {
	Addresses                  []*types.Account
	CoinBalances               []*types.CoinBalance
	Blocks                     []*types.Block
	BlockSecondDegreeRelations []*types.BlockSecondDegreeRelation
	Transactions               []*types.Transaction
	TransactionForks           []*types.TransactionFork
	InternalTransactions       []*types.InternalTransaction
	Logs                       []*types.Log
	Tokens                     []*types.Token
	TokenTransfers             []*types.TokenTransfer
	TokenBalances              []*types.TokenBalance
	CurrentTokenBalances       []*types.CurrentTokenBalance

	// Timeout bounds the whole transaction; zero means the default.
	Timeout time.Duration
	// Broadcast, when non-empty, is the broadcast type attached to the
	// chain events published after commit.
	Broadcast string
}

func (o *Options) empty() bool {
	return len(o.Addresses) == 0 && len(o.CoinBalances) == 0 && len(o.Blocks) == 0 &&
		len(o.BlockSecondDegreeRelations) == 0 && len(o.Transactions) == 0 &&
		len(o.TransactionForks) == 0 && len(o.InternalTransactions) == 0 &&
		len(o.Logs) == 0 && len(o.Tokens) == 0 && len(o.TokenTransfers) == 0 &&
		len(o.TokenBalances) == 0 && len(o.CurrentTokenBalances) == 0
}

// Result reports what a successful import wrote, for event payloads and
// async hand-offs.
type Result struct {
	Addresses            []*types.Account
	CoinBalances         []*types.CoinBalance
	Blocks               []*types.Block
	Transactions         []*types.Transaction
	InternalTransactions []*types.InternalTransaction
	Logs                 []*types.Log
	TokenTransfers       []*types.TokenTransfer

	// ReorgedBlockNumbers lists the numbers whose previous consensus rows
	// were displaced inside this import.
	ReorgedBlockNumbers []uint64
}

// ValidationError aggregates every changeset failure across entities. The
// transaction is never opened when validation fails.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("import validation failed: %s", strings.Join(msgs, "; "))
}

// StepError reports which runner a failed import died in.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("import step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Importer atomically ingests a block batch. Runners execute in a fixed
// foreign-key-safe order inside one transaction; every multi-row mutation
// locks its rows in the canonical key order first.
type Importer struct {
	store            *Store
	feed             *event.Feed
	tokensOnConflict TokensOnConflict
}

// NewImporter wires the importer to its store and event feed. feed may be
// nil when nothing subscribes.
func NewImporter(store *Store, feed *event.Feed, tokensOnConflict TokensOnConflict) *Importer {
	return &Importer{store: store, feed: feed, tokensOnConflict: tokensOnConflict}
}

// All runs every present runner in one transaction. On success the result
// is returned and, when requested, broadcast; on failure the transaction is
// rolled back and the failed step is named.
func (im *Importer) All(ctx context.Context, opts *Options) (*Result, error) {
	if opts.empty() {
		return &Result{}, nil
	}
	if err := im.validate(opts); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultImportTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	tx, err := im.store.SQLDB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin import transaction")
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				importLogger.Warn("rollback failed", "err", rbErr)
			}
		}
	}()

	result := &Result{}
	runners := []struct {
		name string
		skip bool
		run  func() error
	}{
		{"addresses", len(opts.Addresses) == 0, func() error { return im.runAddresses(ctx, tx, opts.Addresses, result) }},
		{"address_coin_balances", len(opts.CoinBalances) == 0, func() error { return im.runCoinBalances(ctx, tx, opts.CoinBalances, result) }},
		{"blocks", len(opts.Blocks) == 0, func() error { return im.runBlocks(ctx, tx, opts.Blocks, result) }},
		{"block_second_degree_relations", len(opts.BlockSecondDegreeRelations) == 0, func() error { return im.runBlockSecondDegreeRelations(ctx, tx, opts.BlockSecondDegreeRelations) }},
		{"transactions", len(opts.Transactions) == 0, func() error { return im.runTransactions(ctx, tx, opts.Transactions, result) }},
		{"transaction_forks", len(opts.TransactionForks) == 0, func() error { return im.runTransactionForks(ctx, tx, opts.TransactionForks) }},
		{"internal_transactions", len(opts.InternalTransactions) == 0, func() error { return im.runInternalTransactions(ctx, tx, opts.InternalTransactions, result) }},
		{"logs", len(opts.Logs) == 0, func() error { return im.runLogs(ctx, tx, opts.Logs, result) }},
		{"tokens", len(opts.Tokens) == 0, func() error { return im.runTokens(ctx, tx, opts.Tokens) }},
		{"token_transfers", len(opts.TokenTransfers) == 0, func() error { return im.runTokenTransfers(ctx, tx, opts.TokenTransfers, result) }},
		{"address_token_balances", len(opts.TokenBalances) == 0, func() error { return im.runTokenBalances(ctx, tx, opts.TokenBalances) }},
		{"address_current_token_balances", len(opts.CurrentTokenBalances) == 0, func() error { return im.runCurrentTokenBalances(ctx, tx, opts.CurrentTokenBalances) }},
	}
	txCtx := ctx
	for _, runner := range runners {
		if runner.skip {
			continue
		}
		runnerStart := time.Now()
		// The runner closures read ctx when called, so each runs under its
		// own timeout derived from the transaction's context.
		var cancelRunner context.CancelFunc
		ctx, cancelRunner = context.WithTimeout(txCtx, DefaultRunnerTimeout)
		err := runner.run()
		cancelRunner()
		ctx = txCtx
		if err != nil {
			importLogger.Debug("import step failed", "step", runner.name, "err", err)
			return nil, &StepError{Step: runner.name, Err: err}
		}
		observeRunner(runner.name, time.Since(runnerStart))
	}

	if err := tx.Commit(); err != nil {
		return nil, &StepError{Step: "commit", Err: err}
	}
	committed = true
	importTimer.UpdateSince(started)

	if len(result.ReorgedBlockNumbers) > 0 {
		im.store.InvalidateCaches(result.ReorgedBlockNumbers)
	}
	if opts.Broadcast != "" {
		im.broadcast(opts.Broadcast, result)
	}
	return result, nil
}

// validate runs every entity changeset. All failures are collected before
// reporting so the caller sees the complete picture at once.
func (im *Importer) validate(opts *Options) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, a := range opts.Addresses {
		collect(a.ValidateForImport())
	}
	for _, b := range opts.Blocks {
		collect(b.ValidateForImport())
	}
	for _, tx := range opts.Transactions {
		collect(tx.ValidateForImport())
	}
	for _, itx := range opts.InternalTransactions {
		collect(itx.ValidateForImport())
	}
	for _, l := range opts.Logs {
		collect(l.ValidateForImport())
	}
	for _, t := range opts.Tokens {
		collect(t.ValidateForImport())
	}
	for _, tt := range opts.TokenTransfers {
		collect(tt.ValidateForImport())
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func (im *Importer) broadcast(broadcastType string, result *Result) {
	if im.feed == nil {
		return
	}
	post := func(t event.ChainEventType, payload interface{}, n int) {
		if n == 0 {
			return
		}
		im.feed.Post(event.ChainEvent{Type: t, BroadcastType: broadcastType, Payload: payload})
	}
	post(event.ChainEventAddresses, result.Addresses, len(result.Addresses))
	post(event.ChainEventCoinBalances, result.CoinBalances, len(result.CoinBalances))
	post(event.ChainEventBlocks, result.Blocks, len(result.Blocks))
	post(event.ChainEventInternalTransactions, result.InternalTransactions, len(result.InternalTransactions))
	post(event.ChainEventLogs, result.Logs, len(result.Logs))
	post(event.ChainEventTokenTransfers, result.TokenTransfers, len(result.TokenTransfers))
	post(event.ChainEventTransactions, result.Transactions, len(result.Transactions))
}
