package geobase

import (
	"github.com/doug-martin/goqu/v9"
	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/sqlrunner/runner"
)

// Node is a point of the map
type Node struct {
	ID  string
	Lat float64
	Lon float64
}

// Tag is one key/value pair of an element
type Tag struct {
	Key   string
	Value string
}

// LatLon is the position of a node; Found is false for unknown nodes
type LatLon struct {
	Lat   float64
	Lon   float64
	Found bool
}

// askQuery runs ds and converts the finished query with conv. The future
// fails with the query error.
func askQuery[T any](c *Client, ds *goqu.SelectDataset, conv func(q *runner.Query) T) (*future.Future[T], error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}

	p := future.NewPromise[T]()
	err = c.ask(sql, args, func(q *runner.Query, ok bool) {
		if !ok {
			var zero T
			p.Set(zero, q.Err())
			return
		}
		p.Set(conv(q), nil)
	})
	if err != nil {
		return nil, err
	}
	return p.Future(), nil
}

// askRows converts every result row with conv
func askRows[T any](c *Client, ds *goqu.SelectDataset, conv func(q *runner.Query, row int) T) (*future.Future[[]T], error) {
	return askQuery(c, ds, func(q *runner.Query) []T {
		out := make([]T, 0, q.RowCount())
		for i := 0; i < q.RowCount(); i++ {
			out = append(out, conv(q, i))
		}
		return out
	})
}

func stringColumn(q *runner.Query, row int) string {
	return asString(q.ValueAt(row, 0))
}

// AskRangeNodes returns nodes inside the bounding box, edges included
func (c *Client) AskRangeNodes(south, west, north, east float64) (*future.Future[[]Node], error) {
	ds := c.dialect.From("nodes").
		Select("nodeid", "lat", "lon").
		Where(
			goqu.C("lat").Between(goqu.Range(south, north)),
			goqu.C("lon").Between(goqu.Range(west, east)),
		).
		Order(goqu.C("nodeid").Asc())

	return askRows(c, ds, func(q *runner.Query, row int) Node {
		return Node{
			ID:  asString(q.ValueAt(row, 0)),
			Lat: asFloat(q.ValueAt(row, 1)),
			Lon: asFloat(q.ValueAt(row, 2)),
		}
	})
}

// AskWaysByNode returns the ways passing through nodeID
func (c *Client) AskWaysByNode(nodeID string) (*future.Future[[]string], error) {
	ds := c.dialect.From("waynodes").
		Select("wayid").
		Where(goqu.Ex{"nodeid": nodeID}).
		Order(goqu.C("wayid").Asc())
	return askRows(c, ds, stringColumn)
}

// AskWaysByTag returns ways tagged key=value. With regular set, value is
// a regular expression matched against the tag value.
func (c *Client) AskWaysByTag(key, value string, regular bool) (*future.Future[[]string], error) {
	match := goqu.C("value").Eq(value)
	if regular {
		match = goqu.C("value").RegexpLike(value)
	}
	ds := c.dialect.From("waytags").
		Select("wayid").
		Where(goqu.C("key").Eq(key), match).
		Order(goqu.C("wayid").Asc())
	return askRows(c, ds, stringColumn)
}

// AskWayNodes returns the nodes of wayID
func (c *Client) AskWayNodes(wayID string) (*future.Future[[]string], error) {
	ds := c.dialect.From("waynodes").
		Select("nodeid").
		Where(goqu.Ex{"wayid": wayID}).
		Order(goqu.C("nodeid").Asc())
	return askRows(c, ds, stringColumn)
}

// AskLatLon returns the position of nodeID
func (c *Client) AskLatLon(nodeID string) (*future.Future[LatLon], error) {
	ds := c.dialect.From("nodes").
		Select("lat", "lon").
		Where(goqu.Ex{"nodeid": nodeID}).
		Limit(1)
	return askQuery(c, ds, func(q *runner.Query) LatLon {
		if q.RowCount() == 0 {
			return LatLon{}
		}
		return LatLon{Lat: asFloat(q.ValueAt(0, 0)), Lon: asFloat(q.ValueAt(0, 1)), Found: true}
	})
}

// AskNodeTagList returns every tag of nodeID
func (c *Client) AskNodeTagList(nodeID string) (*future.Future[[]Tag], error) {
	ds := c.dialect.From("nodetags").
		Select("key", "value").
		Where(goqu.Ex{"nodeid": nodeID}).
		Order(goqu.C("key").Asc())
	return askRows(c, ds, func(q *runner.Query, row int) Tag {
		return Tag{Key: asString(q.ValueAt(row, 0)), Value: asString(q.ValueAt(row, 1))}
	})
}

// AskParcelNodes returns the nodes assigned to parcel
func (c *Client) AskParcelNodes(parcel uint64) (*future.Future[[]string], error) {
	return c.askParcel("node", parcel)
}

// AskParcelWays returns the ways assigned to parcel
func (c *Client) AskParcelWays(parcel uint64) (*future.Future[[]string], error) {
	return c.askParcel("way", parcel)
}

func (c *Client) askParcel(element string, parcel uint64) (*future.Future[[]string], error) {
	id := element + "id"
	ds := c.dialect.From(element+"parcels").
		Select(id).
		Where(goqu.Ex{"parcelid": parcelValue(parcel)}).
		Order(goqu.C(id).Asc())
	return askRows(c, ds, stringColumn)
}
