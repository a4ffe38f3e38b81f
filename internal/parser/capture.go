package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dmitriimaksimovdevelop/myscope/internal/model"
)

const (
	frameWidth  = 60
	captureTime = "2006-01-02 15:04:05"
)

var (
	frameLine  = strings.Repeat("=", frameWidth)
	footerLine = strings.Repeat("#", frameWidth)
	hostRe     = regexp.MustCompile(`^# Host:\s*(\S+)`)
	timeRe     = regexp.MustCompile(`^-- Time:\s*(.+?)(?:\s*->.*)?$`)
)

// CapturedCommand is one command's section of a combined capture.
type CapturedCommand struct {
	Raw      model.RawText
	Err      string // set when the command failed on the server
	Duration time.Duration
}

// Failed reports whether the command produced an error instead of output.
func (c CapturedCommand) Failed() bool { return c.Err != "" }

// FormatCapture renders the results of one host's collection as a single
// text document. SplitCapture reverses it.
func FormatCapture(host string, started time.Time, cmds []CapturedCommand) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n# MySQL Diagnostic Collection\n# Host: %s\n# Started: %s\n%s\n",
		footerLine, host, started.UTC().Format(captureTime), footerLine)

	for _, c := range cmds {
		fmt.Fprintf(&b, "\n%s\n-- %s\n", frameLine, c.Raw.Command)
		if c.Failed() {
			fmt.Fprintf(&b, "-- ERROR: %s\n%s\n", oneLine(c.Err), frameLine)
			continue
		}
		end := c.Raw.CapturedAt.Add(c.Duration)
		fmt.Fprintf(&b, "-- Time: %s -> %s (%.2fs)\n%s\n",
			c.Raw.CapturedAt.UTC().Format(captureTime), end.UTC().Format(captureTime),
			c.Duration.Seconds(), frameLine)
		b.WriteString(c.Raw.Text)
		if !strings.HasSuffix(c.Raw.Text, "\n") {
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "\n%s\n# Collection completed\n%s\n", footerLine, footerLine)
	return b.String()
}

// trimBlankLines joins body without the blank lines framing adds around it.
// Trailing tabs are kept: they are empty cells of the last batch row.
func trimBlankLines(body []string) string {
	blank := func(l string) bool { return strings.TrimRight(l, "\r") == "" }
	for len(body) > 0 && blank(body[0]) {
		body = body[1:]
	}
	for len(body) > 0 && blank(body[len(body)-1]) {
		body = body[:len(body)-1]
	}
	if len(body) == 0 {
		return ""
	}
	return strings.Join(body, "\n") + "\n"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SplitCapture recovers each command's output from a combined capture.
// Text outside any frame is ignored. A capture with no frames yields nil.
func SplitCapture(text string) []CapturedCommand {
	lines := splitLines(text)
	host := ""
	var (
		out  []CapturedCommand
		cur  *CapturedCommand
		body []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		if !cur.Failed() {
			cur.Raw.Text = trimBlankLines(body)
		}
		out = append(out, *cur)
		cur, body = nil, nil
	}

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if m := hostRe.FindStringSubmatch(line); m != nil && cur == nil {
			host = m[1]
			continue
		}
		if line == frameLine && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "-- ") {
			flush()
			cur = &CapturedCommand{Raw: model.RawText{
				Command: strings.TrimSpace(strings.TrimPrefix(lines[i+1], "-- ")),
				Host:    host,
			}}
			i++
			// Metadata lines run until the closing frame line.
			for i+1 < len(lines) && strings.TrimRight(lines[i+1], "\r") != frameLine {
				i++
				meta := strings.TrimRight(lines[i], "\r")
				if m := timeRe.FindStringSubmatch(meta); m != nil {
					if t, err := time.Parse(captureTime, m[1]); err == nil {
						cur.Raw.CapturedAt = t
					}
				} else if msg, ok := strings.CutPrefix(meta, "-- ERROR: "); ok {
					cur.Err = msg
				}
			}
			i++ // closing frame line
			continue
		}
		if line == footerLine {
			flush()
			continue
		}
		if cur != nil {
			body = append(body, lines[i])
		}
	}
	flush()
	return out
}
