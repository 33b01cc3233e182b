package models

// State and City are static reference data; the service never writes them.
type State struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Code string `gorm:"size:2;not null;unique" json:"code"`
	Name string `gorm:"not null" json:"name"`
}

type City struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Name    string `gorm:"not null" json:"name"`
	StateID uint   `gorm:"not null;index" json:"state_id"`
	State   State  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
}
