// Single-row CSV codec used to store sets of UUIDs in flat redis hash fields.
//
// Limitations (on purpose):
// - no line breaks anywhere in the row
// - unquoted cells have leading & trailing whitespace trimmed
package csvrow

import (
	"fmt"
	"strings"
)

// Parse parses a single CSV row into its cells. A trailing comma yields an extra empty cell.
func Parse(s string) ([]string, error) {
	if strings.ContainsAny(s, "\r\n") {
		return nil, fmt.Errorf("illegal char: newlines not supported: %q", s)
	}

	row := []string{}
	i := 0

	for i < len(s) {
		cell := strings.Builder{}
		quoted := false
		quoteStart := 0

		// find first non-whitespace char of the cell
	leading:
		for i < len(s) {
			switch ch := s[i]; ch {
			case ' ', '\t':
				cell.WriteByte(ch)
				i++
			case '"':
				quoted = true
				quoteStart = i
				cell.Reset() // leading whitespace is not part of a quoted cell
				i++
				break leading
			case ',':
				break leading // empty cell
			default:
				cell.WriteByte(ch)
				i++
				break leading
			}
		}

		if quoted {
			for {
				if i >= len(s) {
					return nil, fmt.Errorf(
						"unterminated quoted string starting at position %d: %q",
						quoteStart,
						s)
				}

				ch := s[i]
				if ch == '"' {
					if i+1 < len(s) && s[i+1] == '"' { // escaped quote
						cell.WriteByte('"')
						i += 2
						continue
					}

					i++
					break
				}

				cell.WriteByte(ch)
				i++
			}

			// only whitespace allowed between closing quote and the comma
			for i < len(s) {
				ch := s[i]
				i++
				if ch == ',' {
					break
				}
				if ch != ' ' && ch != '\t' {
					return nil, fmt.Errorf("illegal char outside of quoted cell at position %d: %q", i-1, s)
				}
			}

			row = append(row, cell.String())
		} else {
			for i < len(s) {
				ch := s[i]
				i++
				if ch == ',' {
					break
				}
				if ch == '"' {
					return nil, fmt.Errorf("illegal double-quote at position %d: %q", i-1, s)
				}
				cell.WriteByte(ch)
			}

			row = append(row, strings.TrimSpace(cell.String()))
		}
	}

	if strings.HasSuffix(s, ",") {
		row = append(row, "")
	}

	return row, nil
}

// Serialize joins cells with commas. A cell is quoted iff it contains a space, tab, comma
// or double-quote.
func Serialize(cells []string) string {
	serialized := make([]string, 0, len(cells))

	for _, cell := range cells {
		if strings.ContainsAny(cell, " \t,\"") {
			serialized = append(serialized, `"`+strings.ReplaceAll(cell, `"`, `""`)+`"`)
		} else {
			serialized = append(serialized, cell)
		}
	}

	return strings.Join(serialized, ",")
}

// Normalize parses, drops empty cells and re-serializes. Normalize(Normalize(x)) == Normalize(x)
func Normalize(s string) (string, error) {
	cells, err := Parse(s)
	if err != nil {
		return "", err
	}

	return Serialize(WithoutEmpties(cells)), nil
}

func WithoutEmpties(cells []string) []string {
	nonEmpty := []string{}
	for _, cell := range cells {
		if cell != "" {
			nonEmpty = append(nonEmpty, cell)
		}
	}

	return nonEmpty
}
