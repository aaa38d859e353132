package store

import "time"

// motorStateKey is the fixed primary key of the singleton state row.
const motorStateKey = 1

// MotorState is the single persisted row holding the relay's last known
// device state.
type MotorState struct {
	LastUpdated time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	Voltage     float64   `gorm:"not null"`
	Current     float64   `gorm:"not null"`
	Power       float64   `gorm:"not null"`
	ID          uint      `gorm:"primaryKey"`
	MotorA      bool      `gorm:"not null"`
	MotorB      bool      `gorm:"not null"`
}

// TableName specifies the table name for the MotorState model.
func (MotorState) TableName() string {
	return "motor_state"
}
