package tui

// RowUpdateMsg updates the named fields of a single table row.
type RowUpdateMsg struct {
	Key    string
	Fields map[string]string
}

// ExportProgressMsg drives the export stage footer.
type ExportProgressMsg struct {
	Stage      string
	Percent    float64
	ETASeconds float64
}

// WorkDoneMsg signals that the background work finished and the program
// should exit.
type WorkDoneMsg struct{}

// ErrorMsg aborts the program with an error.
type ErrorMsg struct {
	Err error
}
