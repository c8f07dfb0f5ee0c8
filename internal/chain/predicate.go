/**
 * @description
 * This file implements the composable filter-expression builder for the
 * chain query collaborator. Expressions are small trees of equality and
 * greater-than predicates combined with and/or, serialized as JSON in the
 * query request body.
 *
 * The one non-trivial construction is AfterCursor: "strictly greater than a
 * (block, txIndex, logIndex) tuple" expressed as a disjunction of three
 * conjuncts, so a resumed scan neither re-fetches rows at or before the
 * cursor nor skips rows that share the cursor's block.
 */
package chain

import "github.com/chainmart/settlement-service/internal/domain"

// Column names of the gateway event table exposed by the query collaborator.
const (
	ColBlockNumber      = "blockNumber"
	ColTransactionIndex = "transactionIndex"
	ColLogIndex         = "logIndex"
	ColTxHash           = "txHash"
	ColGatewayAddress   = "gatewayAddress"
	ColPayerAddress     = "payerAddress"
	ColAmount           = "amount"
	ColPayload          = "payload"
)

// Expr is one node of a filter expression tree.
type Expr struct {
	Op     string  `json:"op"` // "eq", "gt", "and", "or"
	Column string  `json:"column,omitempty"`
	Value  any     `json:"value,omitempty"`
	Args   []*Expr `json:"args,omitempty"`
}

// Eq builds an equality predicate on a column.
func Eq(column string, value any) *Expr {
	return &Expr{Op: "eq", Column: column, Value: value}
}

// Gt builds a strict greater-than predicate on a column.
func Gt(column string, value any) *Expr {
	return &Expr{Op: "gt", Column: column, Value: value}
}

// And combines predicates conjunctively. A single argument collapses to
// itself.
func And(args ...*Expr) *Expr {
	if len(args) == 1 {
		return args[0]
	}
	return &Expr{Op: "and", Args: args}
}

// Or combines predicates disjunctively. A single argument collapses to
// itself.
func Or(args ...*Expr) *Expr {
	if len(args) == 1 {
		return args[0]
	}
	return &Expr{Op: "or", Args: args}
}

// AfterCursor builds the resumable, gap-free predicate selecting rows
// strictly greater than the cursor under the lexicographic order
// (blockNumber, transactionIndex, logIndex):
//
//	blockNumber > cb
//	OR (blockNumber = cb AND transactionIndex > ct)
//	OR (blockNumber = cb AND transactionIndex = ct AND logIndex > cl)
func AfterCursor(c domain.Cursor) *Expr {
	return Or(
		Gt(ColBlockNumber, c.BlockNumber),
		And(
			Eq(ColBlockNumber, c.BlockNumber),
			Gt(ColTransactionIndex, c.TransactionIndex),
		),
		And(
			Eq(ColBlockNumber, c.BlockNumber),
			Eq(ColTransactionIndex, c.TransactionIndex),
			Gt(ColLogIndex, c.LogIndex),
		),
	)
}

// Matches evaluates the expression against a row keyed by column name, with
// numeric comparison for uint64-convertible values. It exists so the cursor
// predicate can be tested (and reused in-memory) independently of the query
// transport.
func (e *Expr) Matches(row map[string]any) bool {
	switch e.Op {
	case "and":
		for _, arg := range e.Args {
			if !arg.Matches(row) {
				return false
			}
		}
		return true
	case "or":
		for _, arg := range e.Args {
			if arg.Matches(row) {
				return true
			}
		}
		return false
	case "eq":
		have, want, ok := numericPair(row[e.Column], e.Value)
		if ok {
			return have == want
		}
		return row[e.Column] == e.Value
	case "gt":
		have, want, ok := numericPair(row[e.Column], e.Value)
		if ok {
			return have > want
		}
		return false
	default:
		return false
	}
}

func numericPair(a, b any) (uint64, uint64, bool) {
	av, aok := asUint64(a)
	bv, bok := asUint64(b)
	return av, bv, aok && bok
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}
