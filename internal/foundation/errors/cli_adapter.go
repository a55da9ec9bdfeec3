package errors

import (
	"fmt"
	"strings"
)

// CLIErrorAdapter maps errors onto process exit codes and one-line messages for the CLI.
type CLIErrorAdapter struct {
	verbose bool
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool) *CLIErrorAdapter {
	return &CLIErrorAdapter{verbose: verbose}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	c, ok := AsClassified(err)
	if !ok {
		return 1
	}
	switch c.Category() {
	case CategoryValidation:
		return 2 // Invalid usage
	case CategoryNotFound:
		return 3
	case CategoryConfig:
		return 7
	case CategoryNetwork, CategoryUpstream:
		return 8 // External system error
	case CategoryQueue, CategoryRepository, CategoryEventStore:
		return 9
	case CategoryInternal:
		return 10
	case CategoryPipeline, CategoryBuild:
		return 11
	case CategoryRuntime:
		return 12
	default:
		return 1
	}
}

// FormatError formats an error for display on stderr.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	c, ok := AsClassified(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Error (%s): %s", c.Category(), c.Message())
	if a.verbose {
		if c.Cause() != nil {
			fmt.Fprintf(&b, "\n  cause: %v", c.Cause())
		}
		for k, v := range c.Context() {
			fmt.Fprintf(&b, "\n  %s: %v", k, v)
		}
	}
	return b.String()
}
