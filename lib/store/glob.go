package store

// Match reports whether s matches the glob pattern: '*' matches any run of
// bytes (including none), '?' matches exactly one byte, anything else
// matches itself. Matching is byte-wise, so multi-byte runes are handled
// per byte, which is what a binary-safe keyspace wants.
func Match(pattern, s []byte) bool {
	px, sx := 0, 0
	starPx, starSx := -1, 0
	for sx < len(s) {
		switch {
		case px < len(pattern) && (pattern[px] == '?' || pattern[px] == s[sx]):
			px++
			sx++
		case px < len(pattern) && pattern[px] == '*':
			// remember the star; first try matching it against nothing
			starPx, starSx = px, sx
			px++
		case starPx >= 0:
			// dead end; grow the last star by one byte and retry
			starSx++
			px, sx = starPx+1, starSx
		default:
			return false
		}
	}
	for px < len(pattern) && pattern[px] == '*' {
		px++
	}
	return px == len(pattern)
}
