package commands

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/based-protocol/based-go/pkg/log"
)

// Stats aggregates a capture file.
type Stats struct {
	Events      int
	First, Last time.Time

	Layers     map[log.Layer]int
	Categories map[log.Category]int
	Directions map[log.Direction]int
	FrameTypes map[string]int

	Connections map[string]*ConnectionStats

	// Resyncs counts observables that were asked to resend a full value
	// after a checksum mismatch.
	Resyncs int
	Errors  int
}

// ConnectionStats aggregates the events of one connection id.
type ConnectionStats struct {
	ID                string
	First, Last       time.Time
	Events            int
	BytesIn, BytesOut int
}

// NewStats returns empty statistics.
func NewStats() *Stats {
	return &Stats{
		Layers:      map[log.Layer]int{},
		Categories:  map[log.Category]int{},
		Directions:  map[log.Direction]int{},
		FrameTypes:  map[string]int{},
		Connections: map[string]*ConnectionStats{},
	}
}

// RunStats reads the capture at path and writes a summary to w.
func RunStats(path string, w io.Writer) error {
	r, err := log.NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	s := NewStats()
	for event, err := range r.All() {
		if err != nil {
			return err
		}
		s.Add(event)
	}
	s.Print(w)
	return nil
}

// Add counts one event.
func (s *Stats) Add(e log.Event) {
	ts := e.Timestamp
	s.Events++
	if s.First.IsZero() || ts.Before(s.First) {
		s.First = ts
	}
	if ts.After(s.Last) {
		s.Last = ts
	}
	s.Layers[e.Layer]++
	s.Categories[e.Category]++
	s.Directions[e.Direction]++

	c := s.Connections[e.ConnectionID]
	if c == nil {
		c = &ConnectionStats{ID: e.ConnectionID, First: ts, Last: ts}
		s.Connections[e.ConnectionID] = c
	}
	c.Events++
	if ts.After(c.Last) {
		c.Last = ts
	}

	switch {
	case e.Frame != nil && e.Direction == log.DirectionIn:
		c.BytesIn += e.Frame.Size
	case e.Frame != nil:
		c.BytesOut += e.Frame.Size
	case e.Message != nil:
		s.FrameTypes[e.Message.TypeName()]++
	case e.StateChange != nil:
		if e.StateChange.Entity == log.StateEntityObservable && e.StateChange.NewState == "RESYNC" {
			s.Resyncs++
		}
	case e.Error != nil:
		s.Errors++
	}
}

// Print writes the summary to w.
func (s *Stats) Print(w io.Writer) {
	fmt.Fprint(w, "=== based Protocol Log Statistics ===\n\n")
	if s.Events > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n", s.First.Format(time.RFC3339), s.Last.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n\n", s.Last.Sub(s.First).Round(time.Second))
	}
	fmt.Fprintf(w, "Total Events: %d\n\n", s.Events)

	writeCounts(w, "Events by Layer", 12, log.Layer.String,
		[]log.Layer{log.LayerTransport, log.LayerWire, log.LayerEngine}, s.Layers)
	writeCounts(w, "Events by Category", 12, log.Category.String,
		[]log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError}, s.Categories)
	writeCounts(w, "Events by Direction", 12, log.Direction.String,
		[]log.Direction{log.DirectionIn, log.DirectionOut}, s.Directions)
	if len(s.FrameTypes) > 0 {
		writeCounts(w, "Frames by Type", 20, func(name string) string { return name },
			slices.Sorted(maps.Keys(s.FrameTypes)), s.FrameTypes)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(s.Connections))
	conns := slices.SortedFunc(maps.Values(s.Connections), func(a, b *ConnectionStats) int {
		return a.First.Compare(b.First)
	})
	if len(conns) > 0 {
		fmt.Fprintln(w)
	}
	for _, c := range conns {
		fmt.Fprintf(w, "  [%s] %d events, duration %s\n",
			cmp.Or(shortID(c.ID), "-"), c.Events, c.Last.Sub(c.First).Round(time.Millisecond))
		if c.BytesIn+c.BytesOut > 0 {
			fmt.Fprintf(w, "           Bytes: %d in, %d out\n", c.BytesIn, c.BytesOut)
		}
	}

	if s.Resyncs > 0 {
		fmt.Fprintf(w, "\nResyncs: %d\n", s.Resyncs)
	}
	if s.Errors > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", s.Errors)
	}
}

// writeCounts prints the non-zero counts of keys in order under title.
func writeCounts[K comparable](w io.Writer, title string, width int, name func(K) string, keys []K, counts map[K]int) {
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range keys {
		if n := counts[k]; n > 0 {
			fmt.Fprintf(w, "  %-*s %d\n", width, name(k)+":", n)
		}
	}
	fmt.Fprintln(w)
}
