package dump

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// FormatOutput formats dump results according to output format
func FormatOutput(w io.Writer, response *Response, format string) error {
	switch format {
	case "json":
		return formatJSON(w, response)
	case "yaml":
		return formatYAML(w, response)
	case "table":
		return formatTable(w, response)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// formatTable formats results as a table
func formatTable(w io.Writer, response *Response) error {
	if len(response.Tags) == 0 {
		fmt.Fprintln(w, "No block tags found.")
		return nil
	}

	locationHeader := "LBA"
	if response.Class == "file" {
		locationHeader = "OFFSET"
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"BLOCK", locationHeader, "SERIAL", "RECORD", "SIZE", "WRITTEN", "CRC", "PREV DEV", "PREV OFFSET", "PREV WRITTEN"})

	for _, tag := range response.Tags {
		if tag.Error != "" {
			table.Append([]string{strconv.FormatInt(tag.Block, 10), "-", "-", "-", "-", "-", "-", "-", "-", tag.Error})
			continue
		}

		crc := fmt.Sprintf("%08x", tag.CRC32)
		if !tag.CRCValid {
			crc += " BAD"
		}
		prevDev, prevOffset, prevWritten := "-", "-", "-"
		if wo := tag.WriteOrder; wo != nil {
			if wo.Unset {
				prevDev = "unset"
			} else {
				prevDev = strconv.Itoa(int(wo.DeviceIndex))
				prevOffset = strconv.FormatInt(wo.WriteOffset, 10)
				prevWritten = fmt.Sprintf("%d.%06d", wo.WriteSecs, wo.WriteUsecs)
			}
		}

		table.Append([]string{
			strconv.FormatInt(tag.Block, 10),
			strconv.FormatUint(tag.Location, 10),
			tag.Serial,
			strconv.FormatUint(uint64(tag.RecordNumber), 10),
			strconv.FormatUint(uint64(tag.RecordSize), 10),
			fmt.Sprintf("%d.%06d", tag.WriteSecs, tag.WriteUsecs),
			crc,
			prevDev,
			prevOffset,
			prevWritten,
		})
	}
	table.Render()

	fmt.Fprintf(w, "\n%s: %d block(s), %d invalid, %d CRC error(s)\n",
		response.Path, len(response.Tags), response.Invalid, response.CRCErrors)
	return nil
}

// formatJSON formats results as JSON
func formatJSON(w io.Writer, response *Response) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// formatYAML formats results as YAML
func formatYAML(w io.Writer, response *Response) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(response)
}
