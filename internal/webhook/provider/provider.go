// Package provider turns authenticated webhook payloads into identity writes.
// Each provider registers one Dispatcher under its path name.
package provider

import (
	"context"
	"strings"
)

// Result is what a dispatcher did with one payload.
type Result struct {
	CustomerCode string
	Created      bool
}

// Status is the word reported back to the provider.
func (r Result) Status() string {
	if r.Created {
		return "created"
	}
	return "updated"
}

// Dispatcher applies one provider's payload. body is the raw request body,
// already authenticated and deduplicated.
type Dispatcher interface {
	Dispatch(ctx context.Context, body []byte) (Result, error)
}

// Registry maps lower-case provider names to dispatchers.
type Registry map[string]Dispatcher

// Lookup returns the dispatcher for name, ignoring case.
func (r Registry) Lookup(name string) (Dispatcher, bool) {
	d, ok := r[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}
