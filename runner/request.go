package runner

import "github.com/maxpert/sqlrunner/db"

// Handle identifies a database or query within one Runner. Zero is never issued.
type Handle uint64

type requestKind int

const (
	reqOpen requestKind = iota + 1
	reqClose
	reqPrepare
	reqBind
	reqExec
	reqDispose
	reqMark
)

func (k requestKind) String() string {
	switch k {
	case reqOpen:
		return "open"
	case reqClose:
		return "close"
	case reqPrepare:
		return "prepare"
	case reqBind:
		return "bind"
	case reqExec:
		return "exec"
	case reqDispose:
		return "dispose"
	case reqMark:
		return "mark"
	default:
		return "unknown"
	}
}

// request is one queued operation. id is assigned by the queue under its lock.
type request struct {
	kind  requestKind
	id    uint64
	db    Handle
	query Handle
	text  string

	index     int
	value     any
	paramType db.ParamType

	// seq is the exec sequence of the owning Query at enqueue time
	seq uint64
}
