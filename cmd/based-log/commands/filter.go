package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/based-protocol/based-go/pkg/log"
)

// FilterOptions holds the raw flag values of the filter command. Empty
// values select everything.
type FilterOptions struct {
	Output    string
	ConnID    string
	TimeStart string // RFC 3339
	TimeEnd   string // RFC 3339
	Layer     string
	Direction string
	Category  string
	FrameType string
	ID        string
}

// optional parses s into *dst unless s is empty.
func optional[T any](dst **T, s string, parse func(string) (T, error)) error {
	if s == "" {
		return nil
	}
	v, err := parse(s)
	if err != nil {
		return err
	}
	*dst = &v
	return nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}

func buildFilter(opts FilterOptions) (log.Filter, error) {
	f := log.Filter{ConnectionID: opts.ConnID}
	for _, err := range []error{
		optional(&f.TimeStart, opts.TimeStart, parseTime),
		optional(&f.TimeEnd, opts.TimeEnd, parseTime),
		optional(&f.Layer, opts.Layer, ParseLayerFlag),
		optional(&f.Direction, opts.Direction, ParseDirectionFlag),
		optional(&f.Category, opts.Category, ParseCategoryFlag),
		optional(&f.FrameType, opts.FrameType, ParseFrameTypeFlag),
		optional(&f.ID, opts.ID, parseID),
	} {
		if err != nil {
			return log.Filter{}, fmt.Errorf("bad filter: %w", err)
		}
	}
	return f, nil
}

// RunFilter copies the events of the capture at path that match opts into a
// new capture at opts.Output and returns how many were copied.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := buildFilter(opts)
	if err != nil {
		return 0, err
	}

	r, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	out, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", opts.Output, err)
	}
	defer out.Close()

	n := 0
	for event, err := range r.All() {
		if err != nil {
			return n, err
		}
		out.Log(event)
		n++
	}
	return n, nil
}
