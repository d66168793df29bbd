package task

import "io"

// DefaultQuery is used when a submission carries no query text.
const DefaultQuery = "Analyze this financial document for investment insights"

// Submission is one uploaded document and the question to ask about it.
type Submission struct {
	FileName string
	Content  io.Reader
	Query    string
}

// Job is the unit of background work: everything Run needs, nothing more.
type Job struct {
	TaskID   string `json:"task_id"`
	Query    string `json:"query"`
	FilePath string `json:"file_path"`
}

type Options struct {
	AllowedExtensions  []string
	MaxConcurrentTasks int
	// QueueDepth is how many admitted tasks may wait for a free slot.
	QueueDepth int
}

const defaultMaxConcurrent = 3
