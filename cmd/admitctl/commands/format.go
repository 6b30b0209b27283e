package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/opnet-io/admitd/internal/server"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func formatQueueStats(stats *server.QueueStats, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(stats)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Active:\t%t\n", stats.Active)
		fmt.Fprintf(w, "Depth:\t%d\n", stats.Depth)
		fmt.Fprintf(w, "Capacity:\t%d\n", stats.Capacity)
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatDDFStats(stats *server.DDFStats, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(stats)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Size:\t%d\n", stats.Size)
		fmt.Fprintf(w, "Current Duplicates:\t%d\n", stats.CurrentDuplicates)
		fmt.Fprintf(w, "False Positive Rate:\t%.6f\n", stats.FalsePositiveRate)
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatDDFKnown(entry string, resp *server.DDFKnownResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(struct {
			Entry string `json:"entry"`
			Known bool   `json:"known"`
		}{Entry: entry, Known: resp.Known})
	case formatTable:
		return fmt.Sprintf("%s: known=%t\n", entry, resp.Known), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatEvent(ev server.Event, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(ev)
	case formatTable:
		return fmt.Sprintf("[%s] depth=%d connections=%d",
			ev.Time.Format(time.RFC3339), ev.Depth, ev.Conns), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}
