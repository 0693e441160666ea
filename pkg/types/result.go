package types

// ParseResult represents the output of extracting one source file
type ParseResult struct {
	// Extracted data, in source order
	Artifacts []Artifact
	FilePath  string // Relative to repository root
	Language  string

	// Errors encountered during parsing
	Errors []ParseError
}

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Line    int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return pe.Message
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError adds a parsing error to the result
func (pr *ParseResult) AddError(file string, line int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{
		File:    file,
		Line:    line,
		Message: msg,
	})
}
