package types

import "testing"

func TestMapPriority(t *testing.T) {
	tests := []struct {
		name     string
		priority uint8
		want     Priority
	}{
		{"lower bound", 0, PriorityLower},
		{"below normal", 127, PriorityLower},
		{"normal", 128, PriorityNormal},
		{"between normal and max", 200, PriorityHigher},
		{"immediate", 255, PriorityImmediate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapPriority(tt.priority); got != tt.want {
				t.Errorf("MapPriority(%d) = %v, want %v", tt.priority, got, tt.want)
			}
		})
	}
}

func TestInferenceRequest_StateZeroValue(t *testing.T) {
	req := &InferenceRequest{TransactionID: "tx-1"}

	if req.State != "" {
		t.Errorf("State = %q, want empty until explicitly set to Queued", req.State)
	}
}
