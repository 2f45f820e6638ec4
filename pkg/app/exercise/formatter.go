package exercise

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// FormatOutput formats exercise results according to output format
func FormatOutput(w io.Writer, response *Response, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(response)
	case "table":
		return formatTable(w, response)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func formatTable(w io.Writer, response *Response) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"STREAM", "DEVICES", "PASSES", "WRITES", "WRITTEN", "READS", "READ", "ORDER OK", "WARNINGS", "ERRORS"})

	for _, r := range response.Streams {
		table.Append([]string{
			strconv.Itoa(r.Stream),
			strconv.Itoa(len(r.Devices)),
			strconv.Itoa(r.Passes),
			strconv.FormatInt(r.Writes, 10),
			humanize.IBytes(r.BytesWritten),
			strconv.FormatInt(r.Reads, 10),
			humanize.IBytes(r.BytesRead),
			strconv.FormatInt(r.Verified, 10),
			strconv.Itoa(r.Warnings),
			strconv.Itoa(r.Errors),
		})
	}
	table.Render()

	fmt.Fprintf(w, "\nRun %s: %d error(s), %d warning(s) in %s\n",
		response.RunID, response.TotalErrors, response.TotalWarning, response.Elapsed.Round(1e6))
	return nil
}
