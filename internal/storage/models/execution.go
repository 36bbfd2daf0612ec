// internal/storage/models/execution.go
package models

// Execution kinds.
const (
	KindEntry     = "entry"
	KindExit      = "exit"
	KindEmergency = "emergency"
	KindFallback  = "fallback"
)

// Execution records one dispatched swap or fallback transfer.
type Execution struct {
	BaseModel
	TokenAddress string  `gorm:"index;not null;type:varchar(64)"`
	Chain        string  `gorm:"not null;type:varchar(32)"`
	Venue        string  `gorm:"type:varchar(50)"`
	Kind         string  `gorm:"not null;type:varchar(20)"`
	Amount       float64 `gorm:"type:double precision"`
	Status       string  `gorm:"not null;type:varchar(20)"`
	TxRef        string  `gorm:"type:varchar(100)"`
	Cost         float64 `gorm:"type:double precision"`
	ErrorMessage string  `gorm:"type:text"`
}
