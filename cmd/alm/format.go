package main

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// clockRange renders an item's times as "09:00-09:30", "09:00" or "-".
func clockRange(start, end *string) string {
	switch {
	case start == nil:
		return "-"
	case end == nil:
		return *start
	}
	return *start + "-" + *end
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optInt(set bool, v int) *int {
	if !set {
		return nil
	}
	return &v
}
