package server

import (
	"context"
	"net/http"
	"strings"

	"recycler/services/recyclerd/archive"
)

// EventArchive answers filtered queries over archived events.
type EventArchive interface {
	Query(ctx context.Context, f archive.Filter) ([]archive.EventRow, error)
}

type archivedEventJSON struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Hash       string            `json:"hash"`
}

func (s *Server) handleArchiveEvents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, r, http.StatusNotFound, "event archive disabled", "disabled")
		return
	}
	q := r.URL.Query()
	filter := archive.Filter{Type: strings.TrimSpace(q.Get("type"))}
	if raw := strings.TrimSpace(q.Get("participant")); raw != "" {
		addr, err := parseAddressParam("participant", raw)
		if err != nil {
			badRequest(w, r, err)
			return
		}
		filter.Participant = addr.Hex()
	}
	if strings.TrimSpace(q.Get("after")) != "" {
		after, err := parseUintQuery(r, "after", 0)
		if err != nil {
			badRequest(w, r, err)
			return
		}
		filter.After = &after
	}
	limit, err := parseUintQuery(r, "limit", defaultEventPage)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	filter.Limit = int(min(limit, maxEventPage))

	rows, err := s.archive.Query(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]archivedEventJSON, 0, len(rows))
	for _, row := range rows {
		attrs, err := row.Attrs()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, archivedEventJSON{Sequence: row.Sequence, Type: row.Type, Attributes: attrs, Hash: row.Hash})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}
