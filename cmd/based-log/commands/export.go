package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/based-protocol/based-go/pkg/log"
)

// exporter writes events in one output format.
type exporter interface {
	write(log.Event) error
	flush() error
}

var exportFormats = map[string]func(io.Writer) (exporter, error){
	"jsonl": newJSONLExporter,
	"csv":   newCSVExporter,
}

// RunExport converts the capture at path to format (jsonl or csv). An empty
// output writes to stdout.
func RunExport(path, format, output string) error {
	newExporter, ok := exportFormats[format]
	if !ok {
		return fmt.Errorf("unknown format %q (want jsonl or csv)", format)
	}

	r, err := log.NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	w := io.Writer(os.Stdout)
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	x, err := newExporter(w)
	if err != nil {
		return err
	}
	for event, err := range r.All() {
		if err != nil {
			return err
		}
		if err := x.write(event); err != nil {
			return fmt.Errorf("export event: %w", err)
		}
	}
	return x.flush()
}

type jsonlExporter struct{ enc *json.Encoder }

func newJSONLExporter(w io.Writer) (exporter, error) {
	return jsonlExporter{json.NewEncoder(w)}, nil
}

func (x jsonlExporter) write(e log.Event) error { return x.enc.Encode(e) }
func (jsonlExporter) flush() error              { return nil }

var csvColumns = []string{"timestamp", "connection_id", "direction", "layer", "category", "type", "id", "name", "size"}

type csvExporter struct{ w *csv.Writer }

func newCSVExporter(w io.Writer) (exporter, error) {
	cw := csv.NewWriter(w)
	return csvExporter{cw}, cw.Write(csvColumns)
}

func (x csvExporter) write(e log.Event) error {
	return x.w.Write(slices.Concat([]string{
		e.Timestamp.UTC().Format(timestampLayout),
		e.ConnectionID,
		e.Direction.String(),
		e.Layer.String(),
		e.Category.String(),
	}, csvDetail(e)))
}

func (x csvExporter) flush() error {
	x.w.Flush()
	return x.w.Error()
}

// csvDetail returns the type, id, name and size columns of an event.
func csvDetail(e log.Event) []string {
	id := func(n uint32) string { return strconv.FormatUint(uint64(n), 10) }
	switch {
	case e.Frame != nil:
		return []string{"frame", "", "", strconv.Itoa(e.Frame.Size)}
	case e.Message != nil:
		m := e.Message
		return []string{m.TypeName(), id(m.ID), m.Name, strconv.Itoa(m.BodySize)}
	case e.StateChange != nil:
		if e.StateChange.ObsID == 0 {
			return []string{"state", "", "", ""}
		}
		return []string{"state", id(e.StateChange.ObsID), "", ""}
	case e.ControlMsg != nil:
		return []string{e.ControlMsg.Type.String(), "", "", ""}
	case e.Error != nil:
		return []string{"error", "", "", ""}
	}
	return []string{"unknown", "", "", ""}
}
