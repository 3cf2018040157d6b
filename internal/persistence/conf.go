// Package persistence creates and inspects the on-disk contract consumed
// by the live system: the persistence.conf file and the overlay directory
// structure on the persistence partition.
package persistence

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Mode says how a persisted path is attached at boot.
type Mode string

const (
	// ModeUnion overlays the persistent directory over the read-only base.
	ModeUnion Mode = "union"
	// ModeBind bind-mounts the persistent directory over the base.
	ModeBind Mode = "bind"
)

// Entry is one persisted path line of persistence.conf.
type Entry struct {
	Path string
	Mode Mode
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s", e.Path, e.Mode)
}

type lineKind int

const (
	lineEntry lineKind = iota
	lineComment
	lineBlank
)

type confLine struct {
	kind  lineKind
	raw   string // comment or blank line, reproduced verbatim
	entry Entry
}

// File is a parsed persistence.conf. Comments and blank lines are kept so
// a read-modify-write cycle reproduces them verbatim and in order.
type File struct {
	lines []confLine
}

// Parse reads a persistence.conf. Comment and blank lines are preserved
// for round-tripping but ignored by Entries.
func Parse(r io.Reader) (*File, error) {
	f := &File{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)

		switch {
		case trimmed == "":
			f.lines = append(f.lines, confLine{kind: lineBlank, raw: raw})
		case strings.HasPrefix(trimmed, "#"):
			f.lines = append(f.lines, confLine{kind: lineComment, raw: raw})
		default:
			fields := strings.Fields(trimmed)
			if len(fields) != 2 {
				return nil, fmt.Errorf("persistence.conf line %d: expected \"<path> <mode>\", got %q", lineNo, raw)
			}
			mode := Mode(fields[1])
			if mode != ModeUnion && mode != ModeBind {
				return nil, fmt.Errorf("persistence.conf line %d: unknown mode %q", lineNo, fields[1])
			}
			if !strings.HasPrefix(fields[0], "/") {
				return nil, fmt.Errorf("persistence.conf line %d: path %q is not absolute", lineNo, fields[0])
			}
			f.lines = append(f.lines, confLine{kind: lineEntry, entry: Entry{Path: fields[0], Mode: mode}})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// Entries returns the persisted path entries in file order, comments and
// blanks stripped.
func (f *File) Entries() []Entry {
	var entries []Entry
	for _, l := range f.lines {
		if l.kind == lineEntry {
			entries = append(entries, l.entry)
		}
	}
	return entries
}

// AppendEntry adds one persisted path at the end of the file.
func (f *File) AppendEntry(e Entry) {
	f.lines = append(f.lines, confLine{kind: lineEntry, entry: e})
}

// AppendComment adds a comment line; the leading "#" is added if missing.
func (f *File) AppendComment(text string) {
	if !strings.HasPrefix(text, "#") {
		text = "# " + text
	}
	f.lines = append(f.lines, confLine{kind: lineComment, raw: text})
}

// AppendBlank adds an empty line.
func (f *File) AppendBlank() {
	f.lines = append(f.lines, confLine{kind: lineBlank})
}

// Write renders the file, preserving comment and blank lines verbatim.
func (f *File) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, l := range f.lines {
		var err error
		switch l.kind {
		case lineEntry:
			_, err = fmt.Fprintln(bw, l.entry.String())
		default:
			_, err = fmt.Fprintln(bw, l.raw)
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}
