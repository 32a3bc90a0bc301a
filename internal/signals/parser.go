// Package signals parses the user's "HH:MM S|B" bid schedule.
package signals

import (
	"binary-options-bot-go/internal/models"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Entry is one scheduled bid.
type Entry struct {
	Trend models.Trend
	At    time.Time
}

var linePattern = regexp.MustCompile(`^(\d{1,2})[:.](\d{2})\s*[,;|\-]?\s*([A-Za-z]+)$`)

// Parse reads one entry per line and anchors it to the calendar day of now
// (in now's location). Blank lines and lines starting with # are ignored.
// Malformed lines are reported in the returned error while every valid line
// is still returned, sorted by time.
func Parse(text string, now time.Time) ([]Entry, error) {
	var entries []Entry
	var errs []error

	for i, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseLine(line, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d %q: %w", i+1, line, err))
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(a, b int) bool { return entries[a].At.Before(entries[b].At) })
	return entries, errors.Join(errs...)
}

func parseLine(line string, now time.Time) (Entry, error) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, errors.New("expected HH:MM followed by S or B")
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return Entry{}, errors.New("time out of range")
	}
	trend, err := models.ParseTrend(m[3])
	if err != nil {
		return Entry{}, err
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	return Entry{Trend: trend, At: at}, nil
}

// NextOccurrence returns at, or the same wall-clock time tomorrow when at
// is not after now.
func NextOccurrence(at, now time.Time) time.Time {
	for !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
