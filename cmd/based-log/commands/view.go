// Package commands implements the based-log subcommands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/based-protocol/based-go/pkg/log"
	"github.com/based-protocol/based-go/pkg/wire"
)

// timestampLayout is used by view and export.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// ViewFilter narrows the events printed by RunView. Nil fields match all.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	FrameType *wire.FrameType
}

// NewViewFilter builds a ViewFilter from the selection fields of opts.
func NewViewFilter(opts FilterOptions) (ViewFilter, error) {
	f, err := buildFilter(FilterOptions{
		Layer:     opts.Layer,
		Direction: opts.Direction,
		Category:  opts.Category,
		FrameType: opts.FrameType,
	})
	if err != nil {
		return ViewFilter{}, err
	}
	return ViewFilter{Layer: f.Layer, Direction: f.Direction, Category: f.Category, FrameType: f.FrameType}, nil
}

// RunView prints every event of the capture at path that passes filter.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	r, err := log.NewFilteredReader(path, log.Filter{
		Layer:     filter.Layer,
		Direction: filter.Direction,
		Category:  filter.Category,
		FrameType: filter.FrameType,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	for event, err := range r.All() {
		if err != nil {
			return err
		}
		writeEvent(output, event)
	}
	return nil
}

// writeEvent prints a header line, indented detail lines and a blank line:
//
//	2026-01-28T10:15:32.123456Z [conn:abc12345] OUT WIRE SUBSCRIPTION_FULL
//	  ID: 1193046
func writeEvent(w io.Writer, e log.Event) {
	label, details := describe(e)
	layer := e.Layer.String()
	if e.Category == log.CategoryControl {
		layer = "CTRL"
	}
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n",
		e.Timestamp.UTC().Format(timestampLayout), shortID(e.ConnectionID), e.Direction, layer, label)
	for _, d := range details {
		fmt.Fprintf(w, "  %s\n", d)
	}
	fmt.Fprintln(w)
}

// describe returns the type label of an event and its detail lines.
func describe(e log.Event) (string, []string) {
	switch {
	case e.Frame != nil:
		d := []string{fmt.Sprintf("Size: %d bytes", e.Frame.Size)}
		if len(e.Frame.Data) > 0 {
			data := "Data: " + hex.EncodeToString(e.Frame.Data)
			if e.Frame.Truncated {
				data += " (truncated)"
			}
			d = append(d, data)
		}
		return "Frame", d

	case e.Message != nil:
		m := e.Message
		d := []string{fmt.Sprintf("ID: %d", m.ID)}
		if m.Name != "" {
			d = append(d, "Name: "+m.Name)
		}
		if m.Checksum != nil {
			d = append(d, fmt.Sprintf("Checksum: %d", *m.Checksum))
		}
		body := fmt.Sprintf("Body: %d bytes", m.BodySize)
		if m.Deflate {
			body += " (deflated)"
		}
		return m.TypeName(), append(d, body)

	case e.StateChange != nil:
		sc := e.StateChange
		d := []string{"Entity: " + sc.Entity.String()}
		if sc.ObsID != 0 {
			d = append(d, fmt.Sprintf("ObsID: %d", sc.ObsID))
		}
		d = append(d, strings.TrimSpace(sc.OldState+" -> "+sc.NewState))
		if sc.Reason != "" {
			d = append(d, "Reason: "+sc.Reason)
		}
		return "State", d

	case e.ControlMsg != nil:
		var d []string
		if c := e.ControlMsg.CloseCode; c != nil {
			d = append(d, fmt.Sprintf("Code: %d", *c))
		}
		return e.ControlMsg.Type.String(), d

	case e.Error != nil:
		er := e.Error
		d := []string{"Layer: " + er.Layer.String(), "Message: " + er.Message}
		if er.Code != nil {
			d = append(d, fmt.Sprintf("Code: %d", *er.Code))
		}
		if er.Context != "" {
			d = append(d, "Context: "+er.Context)
		}
		return "Error", d
	}
	return "Unknown", nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var (
	layerFlags = map[string]log.Layer{
		"transport": log.LayerTransport,
		"wire":      log.LayerWire,
		"engine":    log.LayerEngine,
	}
	directionFlags = map[string]log.Direction{
		"in":  log.DirectionIn,
		"out": log.DirectionOut,
	}
	categoryFlags = map[string]log.Category{
		"message": log.CategoryMessage,
		"control": log.CategoryControl,
		"state":   log.CategoryState,
		"error":   log.CategoryError,
	}
	// Outbound unsubscribes share type 2 with inbound diffs.
	frameTypeFlags = map[string]wire.FrameType{
		"function":          wire.TypeFunction,
		"full":              wire.TypeSubscriptionFull,
		"subscription_full": wire.TypeSubscriptionFull,
		"diff":              wire.TypeSubscriptionDiff,
		"subscription_diff": wire.TypeSubscriptionDiff,
		"unsubscribe":       wire.TypeSubscriptionDiff,
		"get":               wire.TypeGet,
		"auth":              wire.TypeAuth,
		"error":             wire.TypeError,
	}
)

func lookup[T any](kind string, table map[string]T, s, choices string) (T, error) {
	v, ok := table[strings.ToLower(s)]
	if !ok {
		return v, fmt.Errorf("invalid %s %q (want %s)", kind, s, choices)
	}
	return v, nil
}

// ParseLayerFlag parses transport, wire or engine, ignoring case.
func ParseLayerFlag(s string) (log.Layer, error) {
	return lookup("layer", layerFlags, s, "transport, wire or engine")
}

// ParseDirectionFlag parses in or out, ignoring case.
func ParseDirectionFlag(s string) (log.Direction, error) {
	return lookup("direction", directionFlags, s, "in or out")
}

// ParseCategoryFlag parses message, control, state or error, ignoring case.
func ParseCategoryFlag(s string) (log.Category, error) {
	return lookup("category", categoryFlags, s, "message, control, state or error")
}

// ParseFrameTypeFlag parses a frame type name or its number.
func ParseFrameTypeFlag(s string) (wire.FrameType, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		if ft := wire.FrameType(n); ft.IsValid() {
			return ft, nil
		}
	}
	return lookup("frame type", frameTypeFlags, s, "function, full, diff, unsubscribe, get, auth, error or 0-5")
}
