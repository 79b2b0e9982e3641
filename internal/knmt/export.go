package knmt

import (
	"encoding/csv"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// exportColumns is the fixed column order of the CSV export.
var exportColumns = []string{
	"kunnr", "vkorg", "vtweg", "kdmat", "postx", "zzean11", "zzpack", "zzuom",
	"zzpack_whse", "zzsize", "zzloc", "zzdepartment", "zzmaterialusage",
	"zzbdrsub", "status", "statusText", "ernam", "erdat", "aenam", "aedat",
}

// ExportOptions controls WriteCSV.
type ExportOptions struct {
	// Excel prefixes a UTF-8 byte order mark so Excel detects the encoding.
	Excel bool
}

// WriteCSV writes a header row followed by one row per record, with CRLF
// line endings.
func WriteCSV(w io.Writer, records []Record, opts ExportOptions) error {
	if opts.Excel {
		if _, err := w.Write(utf8BOM); err != nil {
			return err
		}
	}
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	header := make([]string, len(exportColumns))
	for i, name := range exportColumns {
		f, _ := lookupField(name)
		header[i] = f.label
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(exportColumns))
	for _, r := range records {
		if r.StatusText == "" {
			r.StatusText = r.Status.Text()
		}
		for i, name := range exportColumns {
			row[i], _ = r.Value(name)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
