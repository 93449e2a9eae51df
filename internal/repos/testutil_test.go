package repos

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/types"
)

// testDB opens the database named by TEST_POSTGRES_DSN, migrates the schema,
// and hands back a transaction that is rolled back when the test ends.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run repo integration tests")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
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
		t.Fatalf("migrate test db: %v", err)
	}
	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin test tx: %v", tx.Error)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("new test logger: %v", err)
	}
	return log
}

func seedPatient(t *testing.T, tx *gorm.DB) *types.Patient {
	t.Helper()
	p := &types.Patient{
		ID:          uuid.New(),
		DisplayName: "Test Patient",
		Active:      true,
	}
	if err := tx.Create(p).Error; err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	return p
}

func seedSession(t *testing.T, tx *gorm.DB, patientID uuid.UUID, status string) *types.AssessmentSession {
	t.Helper()
	s := &types.AssessmentSession{
		ID:          uuid.New(),
		PatientID:   patientID,
		SessionType: types.SessionTypeCheckIn,
		Status:      status,
	}
	if err := tx.Create(s).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func seedScore(t *testing.T, tx *gorm.DB, patientID, sessionID uuid.UUID, domainCode string, normalized float64, assessedAt time.Time) *types.AssessmentDomainScore {
	t.Helper()
	s := &types.AssessmentDomainScore{
		ID:              uuid.New(),
		PatientID:       patientID,
		SessionID:       sessionID,
		DomainCode:      domainCode,
		DomainName:      domainCode,
		Category:        "social",
		RawScore:        normalized,
		NormalizedScore: normalized,
		Confidence:      0.8,
		AssessedAt:      assessedAt,
	}
	if err := tx.Create(s).Error; err != nil {
		t.Fatalf("seed score: %v", err)
	}
	return s
}
