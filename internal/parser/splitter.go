package parser

import "strings"

// Section names known to the InnoDB monitor output.
const (
	SectionPreamble        = "PREAMBLE"
	SectionHeader          = "INNODB MONITOR OUTPUT"
	SectionTrailer         = "END OF INNODB MONITOR OUTPUT"
	SectionBackground      = "BACKGROUND THREAD"
	SectionSemaphores      = "SEMAPHORES"
	SectionForeignKey      = "LATEST FOREIGN KEY ERROR"
	SectionDeadlock        = "LATEST DETECTED DEADLOCK"
	SectionTransactions    = "TRANSACTIONS"
	SectionFileIO          = "FILE I/O"
	SectionInsertBuffer    = "INSERT BUFFER AND ADAPTIVE HASH INDEX"
	SectionLog             = "LOG"
	SectionBufferPool      = "BUFFER POOL AND MEMORY"
	SectionIndividualPools = "INDIVIDUAL BUFFER POOL INFO"
	SectionRowOperations   = "ROW OPERATIONS"
)

var knownSections = map[string]bool{
	SectionHeader:          true,
	SectionTrailer:         true,
	SectionBackground:      true,
	SectionSemaphores:      true,
	SectionForeignKey:      true,
	SectionDeadlock:        true,
	SectionTransactions:    true,
	SectionFileIO:          true,
	SectionInsertBuffer:    true,
	SectionLog:             true,
	SectionBufferPool:      true,
	SectionIndividualPools: true,
	SectionRowOperations:   true,
}

// Section is a contiguous run of lines of a monitor dump. Lines holds every
// input line of the section including its banner lines; the first
// HeaderLines of them form the banner-title-banner header.
type Section struct {
	Name        string   // canonical name, or the literal title when unknown
	Title       string   // title line as it appeared
	Known       bool     // false for titles outside the known vocabulary
	Lines       []string // all lines, header included
	HeaderLines int
}

// Body returns the lines after the section header.
func (s Section) Body() []string {
	return s.Lines[s.HeaderLines:]
}

// isBanner reports a line made of three or more '=' or '-' characters.
func isBanner(line string) bool {
	s := strings.TrimRight(line, " \r")
	if len(s) < 3 {
		return false
	}
	c := s[0]
	if c != '=' && c != '-' {
		return false
	}
	return strings.Count(s, string(c)) == len(s)
}

// sectionTitle validates the middle line of a banner triple and returns its
// canonical name.
func sectionTitle(line string) (name string, known, ok bool) {
	t := strings.TrimSpace(line)
	if t == "" || isBanner(t) {
		return "", false, false
	}
	// The monitor header carries a timestamp and thread id before the title.
	if strings.HasSuffix(t, SectionHeader) && !strings.HasPrefix(t, "END OF") {
		return SectionHeader, true, true
	}
	if strings.ToUpper(t) != t {
		return "", false, false
	}
	return t, knownSections[t], true
}

// Split partitions text into sections in a single pass. A section starts at
// a banner line, title line, banner line triple; lines before the first
// triple form the PREAMBLE section, which is omitted when empty. Every input
// line lands in exactly one section, in order.
func Split(text string) []Section {
	lines := splitLines(text)
	var sections []Section
	cur := Section{Name: SectionPreamble, Known: true}

	for i := 0; i < len(lines); i++ {
		if i+2 < len(lines) && isBanner(lines[i]) && isBanner(lines[i+2]) {
			if name, known, ok := sectionTitle(lines[i+1]); ok {
				if len(cur.Lines) > 0 {
					sections = append(sections, cur)
				}
				cur = Section{
					Name:        name,
					Title:       strings.TrimSpace(lines[i+1]),
					Known:       known,
					Lines:       []string{lines[i], lines[i+1], lines[i+2]},
					HeaderLines: 3,
				}
				i += 2
				continue
			}
		}
		cur.Lines = append(cur.Lines, lines[i])
	}
	if len(cur.Lines) > 0 {
		sections = append(sections, cur)
	}
	return sections
}
