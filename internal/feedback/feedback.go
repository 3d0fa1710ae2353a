// Package feedback renders sandbox reports and schema errors as text for
// re-prompting.
package feedback

import (
	"fmt"
	"strings"

	"promptloop/internal/sandbox"
	"promptloop/internal/schema"
	"promptloop/internal/util/jsonutil"
)

// Format renders report deterministically. Passing cases are omitted; failing
// cases keep their original order.
func Format(report sandbox.Report) string {
	if report.ExecErr != nil {
		return report.ExecErr.Kind + ": " + report.ExecErr.Message
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d passed, %d failed", report.Passed, report.Failed)
	for _, res := range report.Results {
		if res.Passed {
			continue
		}
		b.WriteString("\n\n")
		writeCase(&b, res)
	}
	return b.String()
}

func writeCase(b *strings.Builder, res sandbox.CaseResult) {
	fmt.Fprintf(b, "Test %s\n", res.TestID)
	fmt.Fprintf(b, "  inputs: %s\n", jsonutil.Compact(orEmpty(res.Inputs)))
	if res.ExpectedError != "" {
		fmt.Fprintf(b, "  expected: error %s\n", res.ExpectedError)
	} else {
		fmt.Fprintf(b, "  expected: %s\n", jsonutil.Compact(res.Expected))
	}
	if res.Error != nil {
		fmt.Fprintf(b, "  actual: error %s", res.Error.String())
	} else {
		fmt.Fprintf(b, "  actual: %s", jsonutil.Compact(res.Actual))
	}
}

func orEmpty(in []any) []any {
	if in == nil {
		return []any{}
	}
	return in
}

// FormatValidation renders schema errors in the same summary-then-details
// shape as Format. passed is the number of top-level fields that checked out.
func FormatValidation(verr *schema.ValidationError, passed int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d passed, %d failed", passed, len(verr.Errors))
	for _, fe := range verr.Errors {
		b.WriteString("\n- ")
		b.WriteString(fe.String())
	}
	return b.String()
}
