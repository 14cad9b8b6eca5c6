package queue

// BatchMessage is one unit of ingestion work: a set of document paths to
// run through the pipeline. Source selects the loader ("fs" or "s3").
type BatchMessage struct {
	BatchID string   `json:"batch_id"`
	Source  string   `json:"source"`
	Paths   []string `json:"paths"`
}
