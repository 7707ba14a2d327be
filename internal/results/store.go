package results

import "github.com/starford/spamm/internal/models"

// Store defines run persistence. Consumers should depend on this interface
// rather than the concrete *DB type.
type Store interface {
	CreateRun(run models.FitRun) error
	UpdateProgress(id string, step int, acceptance float64) error
	SetStatus(id string, status models.RunStatus, errMsg string) error
	SaveSamples(id string, samples []models.Sample) error
	GetRun(id string) (*models.FitRun, error)
	ListRuns(limit, offset int, status models.RunStatus) ([]models.FitRun, int, error)
	Samples(id string, fromStep int) ([]models.Sample, error)
	DeleteRun(id string) error
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
