package clickup

// Team is a ClickUp workspace.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Space is a top-level container within a workspace.
type Space struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// List holds tasks, either directly under a space or inside a folder.
type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Folder groups lists within a space.
type Folder struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Lists []List `json:"lists"`
}

// Task is the slim task representation returned by list pagination.
type Task struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TaskPage is one page of a task listing.
type TaskPage struct {
	Tasks []Task `json:"tasks"`
	// LastPage is the API's end-of-pagination marker. An empty Tasks
	// slice also terminates pagination.
	LastPage bool `json:"last_page"`
}

// Attachment is one file attached to a task.
type Attachment struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimetype"`
}

// Name returns the display name for the attachment, preferring the
// title over the raw filename, falling back to the remote id.
func (a Attachment) Name() string {
	if a.Title != "" {
		return a.Title
	}
	if a.Filename != "" {
		return a.Filename
	}
	return a.ID
}

// TaskDetail is the full task representation, including attachments.
type TaskDetail struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Attachments []Attachment `json:"attachments"`
}

type spacesResponse struct {
	Spaces []Space `json:"spaces"`
}

type teamsResponse struct {
	Teams []Team `json:"teams"`
}

type listsResponse struct {
	Lists []List `json:"lists"`
}

type foldersResponse struct {
	Folders []Folder `json:"folders"`
}
