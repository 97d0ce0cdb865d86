package results

import (
	"strconv"
	"strings"
)

// ExportCSV renders results as "ip,ping_ms,clean" rows. The format is
// part of the external interface and must stay bit-exact: header first,
// ping_ms empty when no latency was captured, clean as 0/1, rows joined
// by newlines with no trailing newline. Pure formatting, no I/O.
func ExportCSV(rows []ClassifiedResult) string {
	var b strings.Builder
	b.WriteString("ip,ping_ms,clean")

	for _, r := range rows {
		b.WriteByte('\n')
		b.WriteString(r.IP)
		b.WriteByte(',')
		if r.Succeeded && r.LatencyMs > 0 {
			b.WriteString(strconv.FormatInt(r.LatencyMs, 10))
		}
		b.WriteByte(',')
		if r.Clean {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}

	return b.String()
}

// CleanList renders the newline-joined addresses of clean results.
// Pure formatting, no I/O.
func CleanList(rows []ClassifiedResult) string {
	var ips []string
	for _, r := range rows {
		if r.Clean {
			ips = append(ips, r.IP)
		}
	}
	return strings.Join(ips, "\n")
}
