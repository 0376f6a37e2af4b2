// Package corrections indexes the gain/offset correction file by card and
// channel.
package corrections

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ChannelsPerCard is the number of correction points on one card.
const ChannelsPerCard = 8

// ErrEmpty is returned by LoadFile when the file contains no lines.
var ErrEmpty = pkgerrors.New("correction file is empty")

// Key identifies one channel of one card.
type Key struct {
	Card    int
	Channel int
}

// Entry is one correction value pair. Gain and Offset are kept exactly as
// written in the file because they are forwarded verbatim to the device.
type Entry struct {
	Card    int
	Channel int
	Gain    string
	Offset  string
}

// Table is a read-only index of correction entries. The zero value is an
// empty table.
type Table struct {
	entries map[Key]Entry
}

// Load builds a table from the lines of a correction file. A line is used
// when its first two comma-separated fields are the card and channel
// numbers; its last two fields are taken as gain and offset. The first
// line for a given card and channel wins. Other lines are ignored.
func Load(lines []string) *Table {
	t := &Table{entries: make(map[Key]Entry)}

	for _, line := range lines {
		e, ok := parseLine(line)
		if !ok {
			continue
		}
		k := Key{Card: e.Card, Channel: e.Channel}
		if _, exists := t.entries[k]; exists {
			continue
		}
		t.entries[k] = e
	}

	return t
}

// LoadFile reads path and builds a table from it. An unreadable file or a
// file without any line is an error, since nothing can be applied.
func LoadFile(path string) (*Table, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open correction file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	var lines []string
	sc := bufio.NewScanner(fp)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read correction file %s", path)
	}
	if len(lines) == 0 {
		return nil, pkgerrors.Wrapf(ErrEmpty, "no lines read from %s", path)
	}

	t := Load(lines)
	logrus.WithFields(logrus.Fields{
		"file":    path,
		"lines":   len(lines),
		"entries": t.Len(),
	}).Info("correction file loaded")

	return t, nil
}

// Lookup returns the entry for card and channel.
func (t *Table) Lookup(card, channel int) (Entry, bool) {
	if t == nil || t.entries == nil {
		return Entry{}, false
	}
	e, ok := t.entries[Key{Card: card, Channel: channel}]
	return e, ok
}

// IsCompleteFor reports whether all channels of card have an entry.
func (t *Table) IsCompleteFor(card int) bool {
	return len(t.Missing(card)) == 0
}

// Missing returns the channels of card without an entry, in ascending
// order.
func (t *Table) Missing(card int) []int {
	var missing []int
	for ch := 0; ch < ChannelsPerCard; ch++ {
		if _, ok := t.Lookup(card, ch); !ok {
			missing = append(missing, ch)
		}
	}
	return missing
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

func parseLine(line string) (Entry, bool) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	// card, channel, gain, offset at the very least
	if len(fields) < 4 {
		return Entry{}, false
	}

	card, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || card < 0 {
		return Entry{}, false
	}
	channel, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil || channel < 0 || channel >= ChannelsPerCard {
		return Entry{}, false
	}

	gain := strings.TrimSpace(fields[len(fields)-2])
	offset := strings.TrimSpace(fields[len(fields)-1])
	if gain == "" || offset == "" {
		return Entry{}, false
	}

	return Entry{
		Card:    card,
		Channel: channel,
		Gain:    gain,
		Offset:  offset,
	}, true
}
