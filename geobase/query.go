package geobase

import (
	"fmt"
	"strconv"

	"github.com/maxpert/sqlrunner/db"
	"github.com/maxpert/sqlrunner/runner"
)

// run queues text on the geobase connection, positional args bound in
// order. done runs on the dispatch goroutine; the query is disposed after.
func (c *Client) run(text string, args []any, done func(q *runner.Query, ok bool)) error {
	if c.db == nil {
		return ErrNotStarted
	}

	q, err := c.db.NewQuery()
	if err != nil {
		return err
	}
	q.OnFinished(func(q *runner.Query, ok bool) {
		if done != nil {
			done(q, ok)
		}
		q.Dispose()
	})

	if err := c.submit(q, text, args); err != nil {
		q.Dispose()
		return err
	}
	return nil
}

func (c *Client) submit(q *runner.Query, text string, args []any) error {
	if len(args) == 0 {
		return q.ExecSQL(text)
	}
	if err := q.Prepare(text); err != nil {
		return err
	}
	for i, arg := range args {
		if err := q.Bind(i, arg, db.ParamIn); err != nil {
			return err
		}
	}
	return q.Exec()
}

// ask is run for lookups
func (c *Client) ask(text string, args []any, done func(q *runner.Query, ok bool)) error {
	return c.run(text, args, done)
}

// fireAndForget runs a write and only counts failures
func (c *Client) fireAndForget(text string, args []any) error {
	return c.run(text, args, func(q *runner.Query, ok bool) {
		if !ok {
			c.writeFailures.Add(1)
			c.logger.Warn().Err(q.Err()).Str("sql", text).Msg("Geobase write failed")
		}
	})
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(t), 64)
		return f
	default:
		return 0
	}
}
