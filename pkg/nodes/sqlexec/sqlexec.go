// Package sqlexec provides a SQL execution node for text-to-SQL flows.
// Execution failures route back to a repair branch up to a retry budget,
// so a generation node can fix the statement and try again.
package sqlexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// AttemptsKey is the context key holding the running attempt count. It
// lives in the context rather than the node so one node instance can
// serve concurrent batch runs.
const AttemptsKey = "sql_attempts"

// State is the sqlexec node's routing state.
type State int

const (
	// StateDefault follows the default edge after a successful query, or
	// ends the flow when none is declared
	StateDefault State = iota

	// StateRetry routes on "retry" when execution failed with budget left
	StateRetry

	// StateFailed routes on "failed" when the retry budget is spent
	StateFailed
)

// IsDefault reports whether the state is the default variant.
func (s State) IsDefault() bool { return s == StateDefault }

// Condition returns the condition label for the state.
func (s State) Condition() string {
	switch s {
	case StateRetry:
		return "retry"
	case StateFailed:
		return "failed"
	default:
		return flow.DefaultCondition
	}
}

// Querier is the query surface the node depends on. A pgxpool.Pool
// satisfies it; tests substitute a fake.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ Querier = (*pgxpool.Pool)(nil)

// Node runs the SQL statement under SQLKey and stores the result rows
// under OutputKey as a slice of column-name maps.
type Node struct {
	flow.BaseNode
	db          Querier
	sqlKey      string
	outputKey   string
	maxAttempts int
}

// New creates a sqlexec node. maxAttempts defaults to 3.
func New(db Querier, sqlKey, outputKey string, maxAttempts int) *Node {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Node{db: db, sqlKey: sqlKey, outputKey: outputKey, maxAttempts: maxAttempts}
}

// Prepare verifies the node has a database and a statement to run.
func (n *Node) Prepare(ctx context.Context, c *flow.Context) error {
	if n.db == nil {
		return fmt.Errorf("sqlexec node has no database")
	}
	if strings.TrimSpace(c.GetString(n.sqlKey)) == "" {
		return fmt.Errorf("no sql statement under key %q", n.sqlKey)
	}
	return nil
}

// Execute runs the statement and collects the rows.
func (n *Node) Execute(ctx context.Context, c *flow.Context) (any, error) {
	query := strings.TrimSpace(c.GetString(n.sqlKey))

	rows, err := n.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute sql: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var results []any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return results, nil
}

// PostProcess stores the rows on success. On failure it records the error
// for the repair branch and routes "retry" while attempts remain, "failed"
// once the budget is spent.
func (n *Node) PostProcess(ctx context.Context, c *flow.Context, output any, execErr error) (flow.ProcessResult, error) {
	if execErr == nil {
		c.Set(n.outputKey, output)
		c.Remove(AttemptsKey)
		return flow.NewResult(StateDefault, "query executed"), nil
	}

	attempts := c.GetInt(AttemptsKey) + 1
	c.Set(AttemptsKey, attempts)
	c.Set("sql_error", execErr.Error())

	if attempts < n.maxAttempts {
		return flow.NewResult(StateRetry, fmt.Sprintf("attempt %d of %d failed", attempts, n.maxAttempts)), nil
	}
	return flow.NewResult(StateFailed, fmt.Sprintf("gave up after %d attempts", attempts)), nil
}
