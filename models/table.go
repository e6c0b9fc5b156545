package models

import "time"

// TableRow is the trimmed text of one row's cells, in document order.
type TableRow []string

// ExtractedTable is the ordered set of rows pulled from the page.
// An empty table is a valid result.
type ExtractedTable []TableRow

// Report is the JSON document printed after a run.
type Report struct {
	// SourceURL is the page the table was read from (or the file path for
	// offline parsing).
	SourceURL string `json:"source_url"`

	// ScrapedAt is when extraction finished.
	ScrapedAt time.Time `json:"scraped_at"`

	// RowCount is len(Rows), repeated for quick inspection.
	RowCount int `json:"row_count"`

	// Rows is the extracted table, always a JSON array.
	Rows ExtractedTable `json:"rows"`

	// Timing breaks down where the run spent its time.
	Timing TimingInfo `json:"timing"`
}

// NewReport wraps a table for output. A nil table is reported as empty.
func NewReport(source string, table ExtractedTable, timing TimingInfo) *Report {
	if table == nil {
		table = ExtractedTable{}
	}
	return &Report{
		SourceURL: source,
		ScrapedAt: time.Now().UTC(),
		RowCount:  len(table),
		Rows:      table,
		Timing:    timing,
	}
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// LaunchMs is the time spent starting the browser.
	LaunchMs int64 `json:"launch_ms,omitempty"`

	// NavigationMs is the time spent opening and loading the page.
	NavigationMs int64 `json:"navigation_ms,omitempty"`

	// InteractionMs covers the click and the wait for table rows.
	InteractionMs int64 `json:"interaction_ms,omitempty"`

	// ExtractionMs is the time spent reading cells.
	ExtractionMs int64 `json:"extraction_ms,omitempty"`
}
