package errors

import (
	"errors"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var ie *IndexerError
	if !errors.As(err, &ie) {
		ie = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", ie.Message))

	if ie.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ie.Suggestion))
	}

	sb.WriteString(fmt.Sprintf("  Code: %s\n", ie.Code))

	return sb.String()
}

// LogAttrs formats an error as key-value pairs for slog.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	var ie *IndexerError
	if !errors.As(err, &ie) {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error", ie.Message,
		"error_code", ie.Code,
		"category", string(ie.Category),
	}
	if ie.Cause != nil {
		attrs = append(attrs, "cause", ie.Cause.Error())
	}
	for k, v := range ie.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
