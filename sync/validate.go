package sync

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gampnico/paeon/dataset"
)

// Validation rejection reasons, used as metric labels.
const (
	reasonEmpty          = "empty"
	reasonMalformedCSV   = "malformed_csv"
	reasonMissingColumns = "missing_columns"
	reasonBadArchive     = "bad_archive"
	reasonMissingMember  = "missing_member"
)

// validateCSV checks that the content is a well-formed CSV table with the
// expected separator and required header columns, and carries at least one
// data row.
func validateCSV(r io.Reader, shape dataset.CSVShape) (reason string, err error) {
	cr := csv.NewReader(r)
	cr.Comma = shape.Sep()
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return reasonEmpty, errors.New("no header row")
	}
	if err != nil {
		return reasonMalformedCSV, err
	}

	// AGES exports carry a UTF-8 BOM.
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	columns := make(map[string]bool, len(header))
	for _, col := range header {
		columns[strings.TrimSpace(col)] = true
	}
	for _, required := range shape.RequiredColumns {
		if !columns[required] {
			return reasonMissingColumns, fmt.Errorf("header is missing column %q", required)
		}
	}

	// Rows must keep the header's field count.
	cr.FieldsPerRecord = len(header)
	rows := 0
	for {
		_, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return reasonMalformedCSV, err
		}
		rows++
	}
	if rows == 0 {
		return reasonEmpty, errors.New("no data rows")
	}

	return "", nil
}
