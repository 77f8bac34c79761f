package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/logger"
)

// CircuitStateModel is the GORM row for the circuit_states table, one row
// per PSP name, upserted on every breaker transition.
type CircuitStateModel struct {
	PSPName     string     `gorm:"column:psp_name;type:varchar(50);primaryKey"`
	State       string     `gorm:"column:state;type:varchar(20);not null"`
	OpenedUntil *time.Time `gorm:"column:opened_until"`
	LastChanged time.Time  `gorm:"column:last_changed;not null"`
}

func (CircuitStateModel) TableName() string { return "circuit_states" }

// CircuitStateRepository persists sony/gobreaker state transitions so a
// health dashboard or the router's PSP selection logic can read circuit
// health without holding a reference to the in-memory breakers. Satisfies
// circuitbreaker.Recorder.
type CircuitStateRepository struct {
	db *gorm.DB
}

func NewCircuitStateRepository(db *gorm.DB) *CircuitStateRepository {
	return &CircuitStateRepository{db: db}
}

// RecordTransition upserts the latest known state for pspName. Failures
// are logged rather than propagated since a missed state snapshot must
// never block the breaker itself from tripping or recovering.
func (r *CircuitStateRepository) RecordTransition(pspName string, state domain.CircuitStateName, openedUntil *time.Time) {
	model := &CircuitStateModel{
		PSPName:     pspName,
		State:       string(state),
		OpenedUntil: openedUntil,
		LastChanged: time.Now(),
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "psp_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "opened_until", "last_changed"}),
	}).Create(model).Error
	if err != nil {
		logger.With().Str("psp", pspName).Logger().Warn().Err(err).Msg("failed to persist circuit state transition")
	}
}

// GetAll returns the latest known state for every PSP, used by the
// operator health endpoint.
func (r *CircuitStateRepository) GetAll() ([]*domain.CircuitState, error) {
	var models []CircuitStateModel
	if err := r.db.Find(&models).Error; err != nil {
		return nil, err
	}
	states := make([]*domain.CircuitState, 0, len(models))
	for _, m := range models {
		states = append(states, &domain.CircuitState{
			PSPName:     m.PSPName,
			State:       domain.CircuitStateName(m.State),
			LastChanged: m.LastChanged,
			OpenedUntil: m.OpenedUntil,
		})
	}
	return states, nil
}
