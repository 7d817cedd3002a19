package apihttp

import (
	"net/http"

	"swarmstream/internal/domain"
)

type historyList struct {
	Items []domain.SessionRecord `json:"items"`
	Count int                    `json:"count"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "session history not configured")
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	if limit < 0 {
		limit = 0
	}

	records, err := s.history.Execute(r.Context(), limit)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyList{Items: records, Count: len(records)})
}
