package csvparser

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

const DefaultMaxRows = 1000

var ErrNoRecipients = errors.New("csv must contain at least one recipient")

type Result struct {
	Emails []string
	// Truncated reports that data rows beyond the row limit were not read.
	Truncated bool
}

// ParseRecipients reads recipient addresses from a CSV with a header row.
// Addresses come from the "Email" column (case-insensitive), or from the
// first column when there is none. Blank cells are skipped; file order is kept.
//
// maxRows limits how many data rows are read (excluding header). Rows past
// the limit are not parsed and the result is marked Truncated.
func ParseRecipients(r io.Reader, maxRows int) (Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return Result{}, ErrNoRecipients
	}
	if err != nil {
		return Result{}, err
	}
	if len(headers) == 0 {
		return Result{}, errors.New("csv header row is empty")
	}

	emailIdx := 0
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), "email") {
			emailIdx = i
			break
		}
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	var res Result
	rows := 0
	for ; rows < maxRows; rows++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, err
		}
		if emailIdx >= len(record) {
			// skip short row
			continue
		}

		email := strings.TrimSpace(record[emailIdx])
		if email == "" {
			continue
		}
		res.Emails = append(res.Emails, email)
	}

	if rows == maxRows {
		if _, err := reader.Read(); err != io.EOF {
			res.Truncated = true
		}
	}

	if len(res.Emails) == 0 {
		return Result{}, ErrNoRecipients
	}

	return res, nil
}
