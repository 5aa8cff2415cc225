package model

import "time"

// RunStatus represents the current state of a reconciliation run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusLoading     RunStatus = "loading"
	RunStatusClassifying RunStatus = "classifying"
	RunStatusExporting   RunStatus = "exporting"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// RunInput describes the sources a run was started from.
type RunInput struct {
	PopulationPath string `json:"population_path"`
	ReferencePath  string `json:"reference_path"`
	SumAttribute   string `json:"sum_attribute"`
	Strict         bool   `json:"strict,omitempty"`
}

// Run is one reconciliation batch recorded in the store.
type Run struct {
	ID        string      `json:"id"`
	Input     RunInput    `json:"input"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// CategoryCount is the persisted form of one category total.
type CategoryCount struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
	Sum      float64  `json:"sum"`
}

// RunSummary holds the final outcome of a run.
type RunSummary struct {
	Records         int             `json:"records"`
	GrandTotal      float64         `json:"grand_total"`
	ReferenceSize   int             `json:"reference_size"`
	Collisions      int             `json:"collisions"`
	MissingSum      int             `json:"missing_sum"`
	Categories      []CategoryCount `json:"categories"`
	ReviewMunicipal int             `json:"review_municipalities"`
	OutputDir       string          `json:"output_dir,omitempty"`
	DurationMS      int64           `json:"duration_ms"`
}

// Count returns the record count for a category, or zero.
func (s *RunSummary) Count(c Category) int {
	if s == nil {
		return 0
	}
	for _, cc := range s.Categories {
		if cc.Category == c {
			return cc.Count
		}
	}
	return 0
}

// StoredRecord is one classified record as persisted for a run.
type StoredRecord struct {
	RunID         string   `json:"run_id"`
	Row           int      `json:"row"`
	Municipality  string   `json:"municipality"`
	Locality      string   `json:"locality"`
	Category      Category `json:"category"`
	Reason        string   `json:"reason"`
	Key           string   `json:"key"`
	ReferenceCode string   `json:"reference_code,omitempty"`
	Value         *float64 `json:"value,omitempty"`
}

// NewStoredRecord flattens a classified record. sumAttribute selects the
// value column; an absent value is stored as NULL.
func NewStoredRecord(runID, sumAttribute string, c ClassifiedRecord) StoredRecord {
	s := StoredRecord{
		RunID:        runID,
		Row:          c.Record.Row,
		Municipality: c.Record.Municipality,
		Locality:     c.Record.Locality,
		Category:     c.Result.Category,
		Reason:       c.Result.Reason,
		Key:          c.Result.Key,
	}
	if c.Result.Match != nil {
		s.ReferenceCode = c.Result.Match.Code
	}
	if sumAttribute != "" {
		if v, ok := c.Record.Attribute(sumAttribute); ok {
			s.Value = &v
		}
	}
	return s
}
