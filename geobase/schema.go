package geobase

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/maxpert/sqlrunner/runner"
)

//go:embed schemas/*.sql
var schemaFS embed.FS

// ElementSchema returns the embedded CREATE statements for element
func ElementSchema(element string) (string, error) {
	data, err := schemaFS.ReadFile("schemas/" + element + ".sql")
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownElement, element)
	}
	return string(data), nil
}

func (c *Client) opened(d *runner.Database, ok bool) {
	if !ok {
		c.logger.Error().Err(d.Err()).Msg("Geobase open failed")
		c.ready.Set(struct{}{}, d.Err())
		return
	}
	c.logger.Debug().Int("elements", len(c.elements)).Msg("Checking geobase schema")
	c.continueCheck(0)
}

// continueCheck asks for element i; each answer queues the next one so
// elements are created in list order
func (c *Client) continueCheck(i int) {
	if i >= len(c.elements) {
		c.finishCheck()
		return
	}
	element := c.elements[i]

	sql, args, err := c.dialect.
		From(goqu.S("main").Table("sqlite_master")).
		Select("type").
		Where(goqu.Ex{"name": element}).
		Prepared(true).
		ToSQL()
	if err != nil {
		c.checkErrs = append(c.checkErrs, err)
		c.continueCheck(i + 1)
		return
	}

	err = c.ask(sql, args, func(q *runner.Query, ok bool) {
		var kind string
		if ok && q.RowCount() > 0 {
			kind = asString(q.ValueAt(0, 0))
		}
		if !isTableOrIndex(kind) {
			c.makeElement(element, func() { c.continueCheck(i + 1) })
			return
		}
		c.continueCheck(i + 1)
	})
	if err != nil {
		c.checkErrs = append(c.checkErrs, err)
		c.finishCheck()
	}
}

func isTableOrIndex(kind string) bool {
	return strings.EqualFold(kind, "table") || strings.EqualFold(kind, "index")
}

func (c *Client) makeElement(element string, next func()) {
	schema, err := ElementSchema(element)
	if err != nil {
		c.logger.Error().Err(err).Msg("No schema for element")
		c.checkErrs = append(c.checkErrs, err)
		next()
		return
	}

	c.logger.Info().Str("element", element).Msg("Creating geobase element")
	err = c.run(schema, nil, func(q *runner.Query, ok bool) {
		if ok {
			c.created = append(c.created, element)
		} else {
			c.checkErrs = append(c.checkErrs, fmt.Errorf("create %s: %w", element, q.Err()))
		}
		next()
	})
	if err != nil {
		c.checkErrs = append(c.checkErrs, err)
		next()
	}
}

func (c *Client) finishCheck() {
	err := errors.Join(c.checkErrs...)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Geobase schema check finished with errors")
	} else {
		c.logger.Info().Strs("created", c.created).Msg("Geobase ready")
	}
	c.ready.Set(struct{}{}, err)
}
