// scraper/manifest.go
package scraper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/models"
)

// ReadManifest decodes a CSV manifest with a local_path column and
// optional content_date and feed columns.
func ReadManifest(reader io.Reader) ([]models.ManifestEntry, error) {
	decoder, err := csvutil.NewDecoder(csv.NewReader(reader))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create CSV decoder for manifest: %w", err)
	}

	var entries []models.ManifestEntry
	if err := decoder.Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode manifest CSV data: %w", err)
	}

	for i, e := range entries {
		if e.LocalPath == "" {
			return nil, fmt.Errorf("manifest row %d has no local_path", i+1)
		}
	}
	return entries, nil
}

// WriteManifest encodes entries with a header row.
func WriteManifest(w io.Writer, entries []models.ManifestEntry) error {
	return writeCSV(w, entries)
}

// WriteFileRecords encodes index rows with a header row, one line per
// record.
func WriteFileRecords(w io.Writer, records []models.FileRecord) error {
	return writeCSV(w, records)
}

func writeCSV[T any](w io.Writer, rows []T) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	var err error
	if len(rows) == 0 {
		var zero T
		err = enc.EncodeHeader(zero)
	} else {
		err = enc.Encode(rows)
	}
	if err != nil {
		return fmt.Errorf("failed to encode CSV: %w", err)
	}

	cw.Flush()
	return cw.Error()
}
