package scheduler

import (
	"fmt"
	"io"
	"os"

	"github.com/aristath/frontier/internal/events"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/rs/zerolog"
)

// PriceImporter loads a CSV price table
type PriceImporter interface {
	ImportCSV(r io.Reader, opts universe.ImportOptions) (universe.ImportResult, error)
}

// ImportPricesJob loads a price table file into the history database
type ImportPricesJob struct {
	importer PriceImporter
	path     string
	opts     universe.ImportOptions
	events   EventEmitter
	log      zerolog.Logger
}

// NewImportPricesJob creates a new ImportPricesJob for the CSV file at path
func NewImportPricesJob(importer PriceImporter, path string, opts universe.ImportOptions, emitter EventEmitter, log zerolog.Logger) *ImportPricesJob {
	return &ImportPricesJob{
		importer: importer,
		path:     path,
		opts:     opts,
		events:   emitter,
		log:      log.With().Str("job", "import_prices").Logger(),
	}
}

// Name returns the job name
func (j *ImportPricesJob) Name() string {
	return "import_prices"
}

// Run imports the file
func (j *ImportPricesJob) Run() error {
	f, err := os.Open(j.path)
	if err != nil {
		return fmt.Errorf("failed to open price table: %w", err)
	}
	defer f.Close()

	result, err := j.importer.ImportCSV(f, j.opts)
	if err != nil {
		return fmt.Errorf("failed to import %s: %w", j.path, err)
	}

	j.log.Info().
		Str("path", j.path).
		Int("stored", result.Stored).
		Int("assets", len(result.Assets)).
		Msg("Price table imported")

	if j.events != nil {
		j.events.EmitTyped("import", &events.PricesImportedData{
			Rows:      result.Rows,
			Stored:    result.Stored,
			Assets:    len(result.Assets),
			Anomalies: len(result.Anomalies),
		})
	}
	return nil
}
