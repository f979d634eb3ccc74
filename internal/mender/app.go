// Package mender wires configuration, storage and the repair controller into
// the services the CLI consumes.
package mender

import (
	"github.com/rs/zerolog"

	"github.com/colonyops/mender/internal/core/config"
	"github.com/colonyops/mender/internal/core/git"
	"github.com/colonyops/mender/internal/core/session"
	"github.com/colonyops/mender/internal/data/db"
	"github.com/colonyops/mender/internal/data/stores"
	"github.com/colonyops/mender/internal/store/jsonfile"
)

// App is the central entry point for all mender operations.
// Commands consume App instead of cherry-picking raw dependencies.
type App struct {
	Repairs *RepairService
	Reports *ReportService
	Doctor  *DoctorService

	Config *config.Config
	DB     *db.DB
}

// NewApp constructs an App from explicit dependencies.
func NewApp(cfg *config.Config, database *db.DB, g git.Git, log zerolog.Logger) (*App, error) {
	var (
		reports = stores.NewReportStore(database)
		turns   = stores.NewTurnStore(database)
		files   = jsonfile.NewReportStore(cfg.ReportsDir())
	)

	repairs, err := NewRepairService(RepairServiceOptions{
		Config:  cfg,
		TurnLog: turns,
		Stores:  []session.Store{reports, files},
		Git:     g,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Repairs: repairs,
		Reports: NewReportService(reports, turns, files),
		Doctor:  NewDoctorService(cfg, database),
		Config:  cfg,
		DB:      database,
	}, nil
}
