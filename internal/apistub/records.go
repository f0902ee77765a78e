package apistub

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/jrsteele09/smartstudy-sync/apimodel"
)

type record map[string]any

func (s *Server) handleCollection(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc := r.Context().Value(userContextKey{}).(*account)
		id := r.URL.Query().Get("id")

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, s.List(acc.user.ID, collection))
		case http.MethodPost:
			var rec record
			if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec == nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			writeJSON(w, http.StatusCreated, s.insert(acc.user.ID, collection, rec))
		case http.MethodPut:
			var patch record
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil || patch == nil {
				http.Error(w, "Invalid request body", http.StatusBadRequest)
				return
			}
			if id == "" {
				id, _ = patch["id"].(string)
			}
			updated, ok := s.update(acc.user.ID, collection, id, patch)
			if !ok {
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, updated)
		case http.MethodDelete:
			if !s.delete(acc.user.ID, collection, id) {
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, POST, PUT, DELETE")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// List returns a copy of the user's records in insertion order.
func (s *Server) List(userID apimodel.UserID, collection string) []record {
	s.lock.RLock()
	defer s.lock.RUnlock()

	out := make([]record, 0, len(s.records[userID][collection]))
	for _, rec := range s.records[userID][collection] {
		out = append(out, rec.clone())
	}
	return out
}

func (s *Server) insert(userID apimodel.UserID, collection string, rec record) record {
	s.lock.Lock()
	defer s.lock.Unlock()

	if id, _ := rec["id"].(string); id == "" {
		rec["id"] = uuid.New().String()
	}
	rec["created_at"] = s.nowFunc().UTC().Format("2006-01-02T15:04:05Z")
	if s.records[userID] == nil {
		s.records[userID] = make(map[string][]record)
	}
	s.records[userID][collection] = append(s.records[userID][collection], rec)
	return rec.clone()
}

func (s *Server) update(userID apimodel.UserID, collection, id string, patch record) (record, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, rec := range s.records[userID][collection] {
		if rec["id"] != id {
			continue
		}
		for k, v := range patch {
			if k != "id" && k != "created_at" {
				rec[k] = v
			}
		}
		return rec.clone(), true
	}
	return nil, false
}

func (s *Server) delete(userID apimodel.UserID, collection, id string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	list := s.records[userID][collection]
	for i, rec := range list {
		if rec["id"] == id {
			s.records[userID][collection] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (r record) clone() record {
	out := make(record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
