package session

import (
	"path/filepath"
	"slices"
)

// PrivacyFilter decides what remote viewers get to see. The zero value is a
// no-op filter.
type PrivacyFilter struct {
	MaskWorkingDirs bool
	AllowedPaths    []string
	BlockedPaths    []string
}

// IsAllowed reports whether a session working in dir is shown to viewers.
// Sessions that never reported a directory are always shown. A non-empty
// allowlist must match, then no blocklist entry may.
func (f *PrivacyFilter) IsAllowed(dir string) bool {
	if dir == "" {
		return true
	}
	matches := func(pattern string) bool { return matchPathOrParent(pattern, dir) }
	if len(f.AllowedPaths) > 0 && !slices.ContainsFunc(f.AllowedPaths, matches) {
		return false
	}
	return !slices.ContainsFunc(f.BlockedPaths, matches)
}

// matchPathOrParent checks if pattern matches path or any of its parent
// directories, so "/home/user/*" also matches "/home/user/work/project-a".
func matchPathOrParent(pattern, path string) bool {
	for p := path; p != "." && p != "" && p != filepath.Dir(p); p = filepath.Dir(p) {
		if matched, _ := filepath.Match(pattern, p); matched {
			return true
		}
	}
	return false
}

// Apply returns a copy of s with sensitive fields masked.
func (f *PrivacyFilter) Apply(s Session) Session {
	if f.MaskWorkingDirs && s.Cwd != "" {
		s.Cwd = filepath.Base(s.Cwd)
	}
	return s.clone()
}

// ApplyEvent is Apply for events.
func (f *PrivacyFilter) ApplyEvent(ev Event) Event {
	if f.MaskWorkingDirs && ev.Cwd != "" {
		ev.Cwd = filepath.Base(ev.Cwd)
	}
	return ev
}

// FilterSlice returns a new slice containing only the allowed sessions,
// with masking applied to each. The input slice is not modified.
func (f *PrivacyFilter) FilterSlice(sessions []Session) []Session {
	result := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if !f.IsAllowed(s.Cwd) {
			continue
		}
		result = append(result, f.Apply(s))
	}
	return result
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskWorkingDirs && len(f.AllowedPaths) == 0 && len(f.BlockedPaths) == 0
}
