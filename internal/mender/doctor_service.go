package mender

import (
	"context"

	"github.com/colonyops/mender/internal/core/config"
	"github.com/colonyops/mender/internal/core/doctor"
	"github.com/colonyops/mender/internal/data/db"
)

// DoctorService runs the environment checks.
type DoctorService struct {
	cfg *config.Config
	db  *db.DB
}

// NewDoctorService creates a DoctorService.
func NewDoctorService(cfg *config.Config, database *db.DB) *DoctorService {
	return &DoctorService{cfg: cfg, db: database}
}

// Checks returns the checks in display order.
func (s *DoctorService) Checks(configPath string) []doctor.Check {
	storage := &doctor.StorageCheck{DataDir: s.cfg.DataDir}
	if s.db != nil {
		storage.OpenDB = func() error { return s.db.Conn().Ping() }
	}

	return []doctor.Check{
		&doctor.ConfigCheck{Config: s.cfg, ConfigPath: configPath},
		&doctor.ToolsCheck{GitPath: s.cfg.GitPath, VerifyCommand: s.cfg.Patch.VerifyCommand},
		&doctor.ProviderCheck{Config: s.cfg},
		storage,
	}
}

// Run executes every check.
func (s *DoctorService) Run(ctx context.Context, configPath string) []doctor.Result {
	return doctor.RunAll(ctx, s.Checks(configPath))
}
