package atmodem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// readChunk is the number of phonebook slots read by one AT+CPBR command.
const readChunk = 50

// typeInternational is the TON/NPI value for numbers with a country code.
const typeInternational = 145

// entry is one occupied SIM phonebook slot.
type entry struct {
	Index  int
	Number string
	Type   int
	Name   string
}

// readPhonebook selects the SIM phonebook and returns every entry as vCard
// 3.0 text. An empty phonebook yields "".
func readPhonebook(ctx context.Context, s *session) (string, error) {
	if _, err := s.command(ctx, "ATE0"); err != nil {
		return "", err
	}
	if _, err := s.command(ctx, `AT+CSCS="UTF-8"`); err != nil && !errors.Is(err, ErrCommand) {
		return "", err
	}
	if _, err := s.command(ctx, `AT+CPBS="SM"`); err != nil {
		return "", err
	}
	lines, err := s.command(ctx, "AT+CPBR=?")
	if err != nil {
		return "", err
	}
	lo, hi, err := parseRange(lines)
	if err != nil {
		return "", err
	}

	var entries []entry
	for start := lo; start <= hi; start += readChunk {
		end := min(start+readChunk-1, hi)
		lines, err := s.command(ctx, fmt.Sprintf("AT+CPBR=%d,%d", start, end))
		var cme *CMEError
		if errors.As(err, &cme) && cme.Code == cmeNotFound {
			continue
		}
		if err != nil {
			return "", err
		}
		for _, l := range lines {
			e, ok := parseEntry(l)
			if ok {
				entries = append(entries, e)
			}
		}
	}
	return renderVCards(entries), nil
}

// parseRange reads the index range from a "+CPBR: (1-250),40,18" test reply.
func parseRange(lines []string) (int, int, error) {
	for _, l := range lines {
		rest, ok := strings.CutPrefix(l, "+CPBR:")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		open := strings.IndexByte(rest, '(')
		end := strings.IndexByte(rest, ')')
		if open < 0 || end < open {
			break
		}
		a, b, ok := strings.Cut(rest[open+1:end], "-")
		if !ok {
			break
		}
		lo, err1 := strconv.Atoi(strings.TrimSpace(a))
		hi, err2 := strconv.Atoi(strings.TrimSpace(b))
		if err1 != nil || err2 != nil || lo > hi || lo < 0 {
			break
		}
		return lo, hi, nil
	}
	return 0, 0, fmt.Errorf("atmodem: no phonebook range in %q", lines)
}

// parseEntry parses `+CPBR: 1,"+15551234567",145,"Alice"`.
func parseEntry(line string) (entry, bool) {
	rest, ok := strings.CutPrefix(line, "+CPBR:")
	if !ok {
		return entry{}, false
	}
	fields := splitFields(strings.TrimSpace(rest))
	if len(fields) < 2 {
		return entry{}, false
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return entry{}, false
	}
	e := entry{Index: idx, Number: fields[1]}
	if len(fields) > 2 {
		e.Type, _ = strconv.Atoi(fields[2])
	}
	if len(fields) > 3 {
		e.Name = fields[3]
	}
	if e.Number == "" && e.Name == "" {
		return entry{}, false
	}
	return e, true
}

// splitFields splits a comma separated AT response, honouring double quotes
// and stripping them from the result.
func splitFields(s string) []string {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, strings.TrimSpace(cur.String()))
}

func renderVCards(entries []entry) string {
	var b strings.Builder
	for _, e := range entries {
		number := e.Number
		if e.Type == typeInternational && number != "" && !strings.HasPrefix(number, "+") {
			number = "+" + number
		}
		name := e.Name
		if name == "" {
			name = number
		}
		name = escapeText(name)

		b.WriteString("BEGIN:VCARD\r\n")
		b.WriteString("VERSION:3.0\r\n")
		b.WriteString("FN:" + name + "\r\n")
		b.WriteString("N:" + name + ";;;;\r\n")
		if number != "" {
			b.WriteString("TEL;TYPE=VOICE:" + number + "\r\n")
		}
		b.WriteString("END:VCARD\r\n")
	}
	return b.String()
}

var vcardEscaper = strings.NewReplacer(`\`, `\\`, ",", `\,`, ";", `\;`, "\n", `\n`)

func escapeText(s string) string {
	return vcardEscaper.Replace(s)
}
