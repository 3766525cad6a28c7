package judge

import "bytes"

// OutputsEqual implements the canonical output comparison: both sides
// are split on 0x0A, a single trailing 0x0D is trimmed from each line,
// one trailing empty line is dropped per side, and the remaining line
// sequences must match in length and bytes. Anything beyond this
// (whitespace runs, float tolerance) is deliberately not forgiven.
func OutputsEqual(expected, received []byte) bool {
	a := canonicalLines(expected)
	b := canonicalLines(received)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func canonicalLines(b []byte) [][]byte {
	lines := bytes.Split(b, []byte{'\n'})
	for i, line := range lines {
		if n := len(line); n > 0 && line[n-1] == '\r' {
			lines[i] = line[:n-1]
		}
	}
	if n := len(lines); n > 0 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}
	return lines
}
