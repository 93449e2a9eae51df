package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/types"
	"github.com/attunehealth/attune-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "attune", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	log.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Patient{},
		&types.AssessmentSession{},
		&types.ClinicalSignal{},
		&types.AssessmentDomainScore{},
		&types.DiagnosticHypothesis{},
		&types.HypothesisHistory{},
		&types.SessionSummary{},
		&types.ProcessingRun{},
		&types.AICallLog{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	s.log.Info("Configuring foreign key relationships for postgres tables...")
	constraints := []struct {
		name string
		stmt string
	}{
		{
			name: "fk_assessment_session_patient_id",
			stmt: `ALTER TABLE "assessment_session" ADD CONSTRAINT "fk_assessment_session_patient_id" FOREIGN KEY ("patient_id") REFERENCES "patient"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_clinical_signal_session_id",
			stmt: `ALTER TABLE "clinical_signal" ADD CONSTRAINT "fk_clinical_signal_session_id" FOREIGN KEY ("session_id") REFERENCES "assessment_session"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_clinical_signal_patient_id",
			stmt: `ALTER TABLE "clinical_signal" ADD CONSTRAINT "fk_clinical_signal_patient_id" FOREIGN KEY ("patient_id") REFERENCES "patient"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_assessment_domain_score_session_id",
			stmt: `ALTER TABLE "assessment_domain_score" ADD CONSTRAINT "fk_assessment_domain_score_session_id" FOREIGN KEY ("session_id") REFERENCES "assessment_session"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_session_summary_session_id",
			stmt: `ALTER TABLE "session_summary" ADD CONSTRAINT "fk_session_summary_session_id" FOREIGN KEY ("session_id") REFERENCES "assessment_session"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_diagnostic_hypothesis_patient_id",
			stmt: `ALTER TABLE "diagnostic_hypothesis" ADD CONSTRAINT "fk_diagnostic_hypothesis_patient_id" FOREIGN KEY ("patient_id") REFERENCES "patient"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_hypothesis_history_hypothesis_id",
			stmt: `ALTER TABLE "hypothesis_history" ADD CONSTRAINT "fk_hypothesis_history_hypothesis_id" FOREIGN KEY ("hypothesis_id") REFERENCES "diagnostic_hypothesis"("id") ON DELETE CASCADE`,
		},
		{
			name: "fk_processing_run_session_id",
			stmt: `ALTER TABLE "processing_run" ADD CONSTRAINT "fk_processing_run_session_id" FOREIGN KEY ("session_id") REFERENCES "assessment_session"("id") ON DELETE CASCADE`,
		},
	}
	for _, c := range constraints {
		guarded := fmt.Sprintf(`
			DO $$
			BEGIN
				IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '%s') THEN
					%s;
				END IF;
			END $$;
		`, c.name, c.stmt)
		if err := s.db.Exec(guarded).Error; err != nil {
			return fmt.Errorf("failed to add %s: %w", c.name, err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
