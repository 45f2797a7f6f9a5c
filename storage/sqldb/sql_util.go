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
	"math/big"
	"strings"
	"time"

	"github.com/klaytn/chainscope/common"
)

// bigVal renders a big integer for a DECIMAL(65,0) column; nil stays NULL.
func bigVal(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func timeVal(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func hashVal(h *common.Hash) interface{} {
	if h == nil {
		return nil
	}
	return h.Bytes()
}

func addrVal(a *common.Address) interface{} {
	if a == nil {
		return nil
	}
	return a.Bytes()
}

func bytesVal(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func uintVal(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func uint32Val(v *uint32) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func strVal(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// inPlaceholders renders "?,?,...,?" for an IN clause of n values.
func inPlaceholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func uint64Args(values []uint64) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func hashArgs(hashes []common.Hash) []interface{} {
	out := make([]interface{}, len(hashes))
	for i := range hashes {
		out[i] = hashes[i].Bytes()
	}
	return out
}

// bulkInsert executes a chunked multi-row INSERT. suffix carries the
// ON DUPLICATE KEY UPDATE clause; rows must already be in canonical key
// order so the insert acquires its locks deterministically.
func bulkInsert(ctx context.Context, tx *sql.Tx, table string, cols []string, suffix string, rows [][]interface{}, chunk int) error {
	if len(rows) == 0 {
		return nil
	}
	if chunk <= 0 {
		chunk = 500
	}
	rowTuple := "(" + inPlaceholders(len(cols)) + ")"
	head := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES "

	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		part := rows[start:end]

		tuples := make([]string, len(part))
		args := make([]interface{}, 0, len(part)*len(cols))
		for i, row := range part {
			tuples[i] = rowTuple
			args = append(args, row...)
		}
		query := head + strings.Join(tuples, ", ")
		if suffix != "" {
			query += " " + suffix
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// lockRows takes row locks in the canonical order by running the given
// SELECT ... FOR UPDATE and discarding the rows. Every multi-row UPDATE or
// DELETE goes through here first so concurrent imports acquire their locks
// in the same order.
func lockRows(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) error {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}
