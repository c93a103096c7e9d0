package task

import "strings"

// ListOptions controls which tasks are returned. Results always keep insertion
// order; a zero Limit means no limit.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	Pair     string
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit < 0 {
		opts.Limit = 0
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	opts.Pair = strings.ToUpper(strings.TrimSpace(opts.Pair))
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of tasks returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching tasks before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses restricts the result set to the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append([]Status(nil), statuses...)
	}
}

// WithPair restricts the result set to one trading pair.
func WithPair(pair string) ListOption {
	return func(opts *ListOptions) {
		opts.Pair = pair
	}
}

// BuildListOptions applies the functional options over the defaults.
func BuildListOptions(options ...ListOption) ListOptions {
	var opts ListOptions
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	opts.applyDefaults()
	return opts
}

func normalizeStatuses(statuses []Status) []Status {
	seen := make(map[Status]struct{}, len(statuses))
	out := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		s = Status(strings.ToUpper(strings.TrimSpace(string(s))))
		if !IsValidStatus(s) {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (opts ListOptions) matches(t AutomationTask) bool {
	if opts.Pair != "" && !strings.EqualFold(t.Pair, opts.Pair) {
		return false
	}
	if len(opts.Statuses) == 0 {
		return true
	}
	for _, s := range opts.Statuses {
		if t.Status == s {
			return true
		}
	}
	return false
}

// Page applies offset and limit to an already filtered, ordered slice.
func (opts ListOptions) Page(tasks []AutomationTask) []AutomationTask {
	if opts.Offset >= len(tasks) {
		return []AutomationTask{}
	}
	tasks = tasks[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(tasks) {
		tasks = tasks[:opts.Limit]
	}
	return tasks
}
