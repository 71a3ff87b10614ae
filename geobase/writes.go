package geobase

import "fmt"

const (
	insertNode     = "INSERT OR REPLACE INTO nodes (nodeid, lat, lon) VALUES (?, ?, ?)"
	insertWay      = "INSERT OR REPLACE INTO ways (wayid) VALUES (?)"
	insertRelation = "INSERT OR REPLACE INTO relations (relationid) VALUES (?)"
	insertWayNode  = "INSERT OR REPLACE INTO waynodes (wayid, nodeid) VALUES (?, ?)"
	insertMember   = "INSERT OR REPLACE INTO relationparts (relationid, type, ref) VALUES (?, ?, ?)"

	// %[1]s is the element type: node, way or relation
	insertTag    = "INSERT OR REPLACE INTO %[1]stags (%[1]sid, key, value) VALUES (?, ?, ?)"
	insertParcel = "INSERT OR REPLACE INTO %[1]sparcels (%[1]sid, parcelid) VALUES (?, ?)"
)

var (
	insertNodeTag     = elementSQL(insertTag, "node")
	insertWayTag      = elementSQL(insertTag, "way")
	insertRelationTag = elementSQL(insertTag, "relation")
	insertNodeParcel  = elementSQL(insertParcel, "node")
	insertWayParcel   = elementSQL(insertParcel, "way")
)

func (c *Client) WriteNode(nodeID string, lat, lon float64) error {
	return c.fireAndForget(insertNode, []any{nodeID, lat, lon})
}

func (c *Client) WriteWay(wayID string) error {
	return c.fireAndForget(insertWay, []any{wayID})
}

func (c *Client) WriteRelation(relationID string) error {
	return c.fireAndForget(insertRelation, []any{relationID})
}

// WriteWayNode records that nodeID lies on wayID
func (c *Client) WriteWayNode(wayID, nodeID string) error {
	return c.fireAndForget(insertWayNode, []any{wayID, nodeID})
}

func (c *Client) WriteNodeTag(nodeID, key, value string) error {
	return c.fireAndForget(insertNodeTag, []any{nodeID, key, value})
}

func (c *Client) WriteWayTag(wayID, key, value string) error {
	return c.fireAndForget(insertWayTag, []any{wayID, key, value})
}

func (c *Client) WriteRelationTag(relationID, key, value string) error {
	return c.fireAndForget(insertRelationTag, []any{relationID, key, value})
}

// WriteRelationMember adds a member of the given type (node, way,
// relation) referenced by ref
func (c *Client) WriteRelationMember(relationID, memberType, ref string) error {
	return c.fireAndForget(insertMember, []any{relationID, memberType, ref})
}

func (c *Client) WriteNodeParcel(nodeID string, parcel uint64) error {
	return c.fireAndForget(insertNodeParcel, []any{nodeID, parcelValue(parcel)})
}

func (c *Client) WriteWayParcel(wayID string, parcel uint64) error {
	return c.fireAndForget(insertWayParcel, []any{wayID, parcelValue(parcel)})
}

func elementSQL(pattern, element string) string {
	return fmt.Sprintf(pattern, element)
}

// parcelValue keeps the index bit pattern in an int64 column;
// database/sql rejects uint64 with the high bit set
func parcelValue(parcel uint64) int64 {
	return int64(parcel)
}
