package testutil

import (
	"strings"
	"sync"
)

// WarningRecorder is a warning sink that collects everything it receives.
// Safe for use from parallel scan workers.
type WarningRecorder struct {
	mu       sync.Mutex
	warnings []string
}

// Sink returns the callback to hand to trees and engines.
func (r *WarningRecorder) Sink() func(string) {
	return func(msg string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.warnings = append(r.warnings, msg)
	}
}

// Warnings returns a copy of everything recorded so far.
func (r *WarningRecorder) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

// Contains reports whether any recorded warning contains the substring.
func (r *WarningRecorder) Contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
