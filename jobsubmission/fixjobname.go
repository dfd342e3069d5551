// Package jobsubmission implements JobSubmissionService (spec.md
// §4.9): it drains repository jobs in state Created, creates and
// starts the corresponding platform job, uploads each instance file to
// its payload, and pushes the files to the cleanup queue once owned by
// the platform job.
package jobsubmission

import "regexp"

var jobNameUnsafeChars = regexp.MustCompile(`[^a-z0-9-]`)
var jobNameRepeatedDashes = regexp.MustCompile(`-+`)

const maxJobNameLength = 25

// FixJobName implements the canonical job-name sanitation rule: the
// input is lowercased, each character outside [a-z0-9-] becomes '-',
// runs of '-' collapse to one, and the name is suffix-truncated to
// maxJobNameLength characters (the prefix, which carries the AE
// title/pipeline identity, is what's kept).
func FixJobName(input string) string {
	lower := []byte(input)
	for i, c := range lower {
		if c >= 'A' && c <= 'Z' {
			lower[i] = c - 'A' + 'a'
		}
	}
	sanitized := jobNameUnsafeChars.ReplaceAll(lower, []byte("-"))
	collapsed := jobNameRepeatedDashes.ReplaceAll(sanitized, []byte("-"))
	if len(collapsed) > maxJobNameLength {
		collapsed = collapsed[:maxJobNameLength]
	}
	return string(collapsed)
}
