// Package testutils provides a fake ClickUp API server for tests.
package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Attachment is a fake attachment with optional failure injection.
type Attachment struct {
	ID       string
	Title    string
	MimeType string
	Data     []byte

	// Status, when non-zero, is returned for every byte fetch of this
	// attachment (e.g. 403 for the permanently forbidden case).
	Status int

	// FailFirst makes the first N byte fetches return 500.
	FailFirst int

	// Truncate cuts the served body short of the declared
	// Content-Length, producing an integrity failure on the client.
	Truncate bool
}

// Task is a fake task.
type Task struct {
	ID          string
	Name        string
	Attachments []Attachment
}

// List is a fake list. PageSize controls task pagination (0 = all tasks
// on one page). FailListing makes every task listing call return 500.
type List struct {
	ID          string
	Name        string
	Tasks       []Task
	PageSize    int
	FailListing bool
}

// Space is a fake space. FolderLists are served under a single folder.
type Space struct {
	ID          string
	Name        string
	Lists       []List
	FolderLists []List
}

// Workspace is the root fixture for a fake API server.
type Workspace struct {
	TeamID string
	Teams  []TeamInfo
	Spaces []Space
}

// TeamInfo is a fake workspace entry for the /team endpoint.
type TeamInfo struct {
	ID   string
	Name string
}

// Server is a fake ClickUp API plus attachment file host. It records
// every request so tests can assert how many API calls a run spent.
type Server struct {
	*httptest.Server

	// Token, when set, is required in the Authorization header;
	// mismatches get a 401.
	Token string

	ws Workspace

	mu       sync.Mutex
	requests []string
	fetches  map[string]int
}

// NewServer starts a fake API serving the given workspace fixture.
func NewServer(t *testing.T, ws Workspace) *Server {
	t.Helper()

	s := &Server{
		ws:      ws,
		fetches: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API base to point the client at.
func (s *Server) BaseURL() string {
	return s.URL + "/api/v2"
}

// AttachmentURL returns the byte-fetch URL for an attachment id, in the
// same form the fake task detail endpoint reports.
func (s *Server) AttachmentURL(id string) string {
	return s.URL + "/files/" + id
}

// Requests returns a copy of the request log ("METHOD path" strings).
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests returns how many logged requests have a path starting
// with prefix.
func (s *Server) CountRequests(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		path := strings.TrimPrefix(r, http.MethodGet+" ")
		if strings.HasPrefix(path, prefix) {
			n++
		}
	}
	return n
}

// ResetRequests clears the request log (useful between pipeline runs).
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	s.mu.Unlock()

	if s.Token != "" && r.Header.Get("Authorization") != s.Token {
		http.Error(w, "Oauth token not found", http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.URL.Path == "/api/v2/team":
		s.writeTeams(w)
	case len(parts) == 5 && parts[2] == "team" && parts[4] == "space":
		s.writeSpaces(w, parts[3])
	case len(parts) == 5 && parts[2] == "space" && parts[4] == "list":
		s.writeLists(w, parts[3], false)
	case len(parts) == 5 && parts[2] == "space" && parts[4] == "folder":
		s.writeLists(w, parts[3], true)
	case len(parts) == 5 && parts[2] == "list" && parts[4] == "task":
		s.writeTasks(w, r, parts[3])
	case len(parts) == 4 && parts[2] == "task":
		s.writeTaskDetail(w, parts[3])
	case len(parts) == 2 && parts[0] == "files":
		s.writeFile(w, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) writeTeams(w http.ResponseWriter) {
	teams := make([]map[string]string, 0, len(s.ws.Teams))
	for _, t := range s.ws.Teams {
		teams = append(teams, map[string]string{"id": t.ID, "name": t.Name})
	}
	writeJSON(w, map[string]any{"teams": teams})
}

func (s *Server) writeSpaces(w http.ResponseWriter, teamID string) {
	if teamID != s.ws.TeamID {
		http.NotFound(w, nil)
		return
	}
	spaces := make([]map[string]string, 0, len(s.ws.Spaces))
	for _, sp := range s.ws.Spaces {
		spaces = append(spaces, map[string]string{"id": sp.ID, "name": sp.Name})
	}
	writeJSON(w, map[string]any{"spaces": spaces})
}

func (s *Server) writeLists(w http.ResponseWriter, spaceID string, foldered bool) {
	for _, sp := range s.ws.Spaces {
		if sp.ID != spaceID {
			continue
		}
		if foldered {
			folder := map[string]any{
				"id":    sp.ID + "-folder",
				"name":  "Folder",
				"lists": listJSON(sp.FolderLists),
			}
			if len(sp.FolderLists) == 0 {
				writeJSON(w, map[string]any{"folders": []any{}})
				return
			}
			writeJSON(w, map[string]any{"folders": []any{folder}})
			return
		}
		writeJSON(w, map[string]any{"lists": listJSON(sp.Lists)})
		return
	}
	http.NotFound(w, nil)
}

func listJSON(lists []List) []map[string]string {
	out := make([]map[string]string, 0, len(lists))
	for _, l := range lists {
		out = append(out, map[string]string{"id": l.ID, "name": l.Name})
	}
	return out
}

func (s *Server) findList(listID string) *List {
	for i := range s.ws.Spaces {
		sp := &s.ws.Spaces[i]
		for j := range sp.Lists {
			if sp.Lists[j].ID == listID {
				return &sp.Lists[j]
			}
		}
		for j := range sp.FolderLists {
			if sp.FolderLists[j].ID == listID {
				return &sp.FolderLists[j]
			}
		}
	}
	return nil
}

func (s *Server) writeTasks(w http.ResponseWriter, r *http.Request, listID string) {
	list := s.findList(listID)
	if list == nil {
		http.NotFound(w, r)
		return
	}
	if list.FailListing {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize := list.PageSize
	if pageSize <= 0 {
		pageSize = len(list.Tasks)
		if pageSize == 0 {
			pageSize = 1
		}
	}

	start := page * pageSize
	end := start + pageSize
	if start > len(list.Tasks) {
		start = len(list.Tasks)
	}
	if end > len(list.Tasks) {
		end = len(list.Tasks)
	}

	tasks := make([]map[string]string, 0, end-start)
	for _, t := range list.Tasks[start:end] {
		tasks = append(tasks, map[string]string{"id": t.ID, "name": t.Name})
	}
	writeJSON(w, map[string]any{
		"tasks":     tasks,
		"last_page": end >= len(list.Tasks),
	})
}

func (s *Server) writeTaskDetail(w http.ResponseWriter, taskID string) {
	for _, sp := range s.ws.Spaces {
		for _, lists := range [][]List{sp.Lists, sp.FolderLists} {
			for _, l := range lists {
				for _, t := range l.Tasks {
					if t.ID != taskID {
						continue
					}
					atts := make([]map[string]any, 0, len(t.Attachments))
					for _, a := range t.Attachments {
						atts = append(atts, map[string]any{
							"id":       a.ID,
							"title":    a.Title,
							"url":      s.AttachmentURL(a.ID),
							"size":     len(a.Data),
							"mimetype": a.MimeType,
						})
					}
					writeJSON(w, map[string]any{
						"id":          t.ID,
						"name":        t.Name,
						"attachments": atts,
					})
					return
				}
			}
		}
	}
	http.NotFound(w, nil)
}

func (s *Server) findAttachment(id string) *Attachment {
	for i := range s.ws.Spaces {
		sp := &s.ws.Spaces[i]
		for _, lists := range [][]List{sp.Lists, sp.FolderLists} {
			for j := range lists {
				for k := range lists[j].Tasks {
					for m := range lists[j].Tasks[k].Attachments {
						if lists[j].Tasks[k].Attachments[m].ID == id {
							return &lists[j].Tasks[k].Attachments[m]
						}
					}
				}
			}
		}
	}
	return nil
}

func (s *Server) writeFile(w http.ResponseWriter, id string) {
	att := s.findAttachment(id)
	if att == nil {
		http.NotFound(w, nil)
		return
	}

	s.mu.Lock()
	s.fetches[id]++
	n := s.fetches[id]
	s.mu.Unlock()

	if att.Status != 0 {
		http.Error(w, http.StatusText(att.Status), att.Status)
		return
	}
	if n <= att.FailFirst {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(att.Data)))
	w.Header().Set("Content-Type", att.MimeType)
	if att.Truncate && len(att.Data) > 1 {
		w.Write(att.Data[:len(att.Data)/2])
		// Closing without the rest of the declared body forces a read
		// error on the client.
		return
	}
	w.Write(att.Data)
}

// FetchCount returns how many times an attachment's bytes were
// requested.
func (s *Server) FetchCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[id]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("encode fake response: %v", err))
	}
}
