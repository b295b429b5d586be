package startcard

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Well-known columns of the export.
const (
	ColumnLane = "Bahn"
	ColumnRun  = "Lauf"
)

var (
	// errEmptyExport is returned when the export has no header row.
	errEmptyExport = errors.New("start card export is empty")
	// errNoSource is returned when no export address is configured.
	errNoSource = errors.New("start card base url is not configured")
	// errUnexpectedStatus is returned for non-200 responses.
	errUnexpectedStatus = errors.New("unexpected status")
)

// Card is one start card row keyed by column name.
type Card map[string]string

// Lane returns the lane number of the card, zero when it has none.
func (c Card) Lane() int {
	lane, err := strconv.Atoi(strings.TrimSpace(c[ColumnLane]))
	if err != nil || lane < 0 {
		return 0
	}

	return lane
}

// Run returns the run the card belongs to.
func (c Card) Run() string {
	return strings.TrimSpace(c[ColumnRun])
}

// Table is a parsed export.
type Table struct {
	// Columns are the header names in file order.
	Columns []string
	// Cards are the data rows.
	Cards []Card
}

// MaxLane returns the highest lane of any card, zero if none has one.
func (t *Table) MaxLane() int {
	maxLane := 0

	for _, card := range t.Cards {
		maxLane = max(maxLane, card.Lane())
	}

	return maxLane
}

// Runs returns the distinct runs, numeric ones first in numeric order.
func (t *Table) Runs() []string {
	seen := make(map[string]struct{})
	runs := make([]string, 0)

	for _, card := range t.Cards {
		run := card.Run()
		if run == "" {
			continue
		}

		if _, ok := seen[run]; ok {
			continue
		}

		seen[run] = struct{}{}
		runs = append(runs, run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		a, errA := strconv.Atoi(runs[i])
		b, errB := strconv.Atoi(runs[j])

		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return runs[i] < runs[j]
		}
	})

	return runs
}

// PerRun groups the cards by run, ordered by lane inside each run.
func (t *Table) PerRun() map[string][]Card {
	result := make(map[string][]Card)

	for _, card := range t.Cards {
		run := card.Run()
		if run == "" {
			continue
		}

		result[run] = append(result[run], card)
	}

	for _, cards := range result {
		sort.SliceStable(cards, func(i, j int) bool {
			return cards[i].Lane() < cards[j].Lane()
		})
	}

	return result
}

// Parse decodes an export. The body may be UTF-8 (with or without BOM) or
// Windows-1252, and separated by semicolons or commas.
func Parse(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}

	text, err := decode(raw)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, errEmptyExport
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = detectDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}

	header := make([]string, len(records[0]))
	for i, name := range records[0] {
		header[i] = strings.TrimSpace(name)
	}

	table := &Table{
		Columns: header,
		Cards:   make([]Card, 0, len(records)-1),
	}

	for _, record := range records[1:] {
		if isBlank(record) {
			continue
		}

		card := make(Card, len(header))

		for i, name := range header {
			if name == "" {
				continue
			}

			if i < len(record) {
				card[name] = strings.TrimSpace(record[i])
			} else {
				card[name] = ""
			}
		}

		table.Cards = append(table.Cards, card)
	}

	return table, nil
}

// decode converts raw to a string, falling back to Windows-1252 when it is not valid UTF-8.
func decode(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	if utf8.Valid(raw) {
		return string(raw), nil
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode export: %w", err)
	}

	return string(decoded), nil
}

// detectDelimiter picks ';' or ',' by counting them in the header line.
func detectDelimiter(text string) rune {
	header, _, _ := strings.Cut(text, "\n")

	if strings.Count(header, ";") >= strings.Count(header, ",") && strings.Contains(header, ";") {
		return ';'
	}

	return ','
}

// isBlank reports whether every field of record is empty.
func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}

	return true
}
