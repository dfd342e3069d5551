// Package jobprocessor implements the default "AE Title Job Processor"
// (spec.md §4.4): a per-(LocalAE, pipeline, group) time-window state
// machine that accumulates instances and emits one InferenceJob per
// configured pipeline when the window's inactivity timer fires.
package jobprocessor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/errors"
	"github.com/nvidia-clara/dicom-adapter/types"
)

const (
	defaultTimeout = 5 * time.Second
	minTimeout     = 5 * time.Second
)

// StudyInstanceUIDTag is the default groupBy tag when an AE's
// processor settings don't name one.
var StudyInstanceUIDTag = dicom.Tag{Group: 0x0020, Element: 0x000D}

// Settings is the parsed, validated form of a LocalApplicationEntity's
// ProcessorSettings for the default processor.
type Settings struct {
	Priority      types.Priority
	Timeout       time.Duration
	JobRetryDelay time.Duration
	GroupBy       dicom.Tag
	PipelineIDs   []string
}

// ParseSettings validates ae.ProcessorSettings against the recognized
// key set spec.md §4.4 enumerates and returns the parsed form.
// Unrecognized keys, a malformed value, or the absence of at least one
// pipeline-* setting are all configuration errors.
func ParseSettings(ae types.LocalApplicationEntity) (Settings, error) {
	s := Settings{
		Priority: types.PriorityNormal,
		Timeout:  defaultTimeout,
		GroupBy:  StudyInstanceUIDTag,
	}

	for _, kv := range ae.ProcessorSettings {
		switch {
		case strings.HasPrefix(kv.Key, "pipeline-"):
			s.PipelineIDs = append(s.PipelineIDs, kv.Value)
		case kv.Key == "priority":
			p, err := parsePriority(kv.Value)
			if err != nil {
				return Settings{}, errors.NewConfigurationError("jobprocessor.ParseSettings", err)
			}
			s.Priority = p
		case kv.Key == "timeout":
			d, err := parseSecondsAtLeast(kv.Value, minTimeout)
			if err != nil {
				return Settings{}, errors.NewConfigurationError("jobprocessor.ParseSettings",
					fmt.Errorf("timeout: %w", err))
			}
			s.Timeout = d
		case kv.Key == "jobRetryDelay":
			d, err := parseSeconds(kv.Value)
			if err != nil {
				return Settings{}, errors.NewConfigurationError("jobprocessor.ParseSettings",
					fmt.Errorf("jobRetryDelay: %w", err))
			}
			s.JobRetryDelay = d
		case kv.Key == "groupBy":
			tag, err := parseTag(kv.Value)
			if err != nil {
				return Settings{}, errors.NewConfigurationError("jobprocessor.ParseSettings",
					fmt.Errorf("groupBy: %w", err))
			}
			s.GroupBy = tag
		default:
			return Settings{}, errors.NewConfigurationError("jobprocessor.ParseSettings",
				fmt.Errorf("unrecognized processor setting %q for AE %s", kv.Key, ae.AETitle))
		}
	}

	if len(s.PipelineIDs) == 0 {
		return Settings{}, errors.NewConfigurationError("jobprocessor.ParseSettings",
			fmt.Errorf("AE %s must configure at least one pipeline-* setting", ae.AETitle))
	}
	return s, nil
}

func parsePriority(v string) (types.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lower":
		return types.PriorityLower, nil
	case "normal":
		return types.PriorityNormal, nil
	case "higher":
		return types.PriorityHigher, nil
	case "immediate":
		return types.PriorityImmediate, nil
	default:
		return "", fmt.Errorf("unrecognized priority %q", v)
	}
}

func parseSeconds(v string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("not an integer: %w", err)
	}
	return time.Duration(n) * time.Second, nil
}

func parseSecondsAtLeast(v string, min time.Duration) (time.Duration, error) {
	d, err := parseSeconds(v)
	if err != nil {
		return 0, err
	}
	if d < min {
		return 0, fmt.Errorf("must be >= %s, got %s", min, d)
	}
	return d, nil
}

// parseTag parses a DICOM tag formatted as "GGGG,EEEE" (hex, no
// delimiters other than the comma).
func parseTag(v string) (dicom.Tag, error) {
	parts := strings.Split(strings.TrimSpace(v), ",")
	if len(parts) != 2 {
		return dicom.Tag{}, fmt.Errorf("expected GGGG,EEEE, got %q", v)
	}
	group, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 16, 16)
	if err != nil {
		return dicom.Tag{}, fmt.Errorf("bad group in %q: %w", v, err)
	}
	element, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 16, 16)
	if err != nil {
		return dicom.Tag{}, fmt.Errorf("bad element in %q: %w", v, err)
	}
	return dicom.Tag{Group: uint16(group), Element: uint16(element)}, nil
}
