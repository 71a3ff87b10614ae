package admin

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/sqlrunner/runner"
)

// handleListDatabases lists every database handle in the table, oldest first
func (h *AdminHandlers) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	databases := h.engine.Databases()
	if databases == nil {
		databases = []runner.DatabaseInfo{}
	}
	sort.Slice(databases, func(i, j int) bool {
		return databases[i].Handle < databases[j].Handle
	})
	writeJSONResponse(w, databases)
}

func (h *AdminHandlers) handleDatabase(w http.ResponseWriter, r *http.Request) {
	handle, err := strconv.ParseUint(chi.URLParam(r, "handle"), 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid database handle")
		return
	}

	for _, info := range h.engine.Databases() {
		if uint64(info.Handle) == handle {
			writeJSONResponse(w, info)
			return
		}
	}
	writeErrorResponse(w, http.StatusNotFound, "database not found")
}
