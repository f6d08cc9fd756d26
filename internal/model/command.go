package model

import "time"

// CommandRecord is one executed cloud or local command in the audit trail.
type CommandRecord struct {
	ID         string    `gorm:"column:id;primaryKey"`
	CommandID  string    `gorm:"column:command_id;index"`
	StationID  string    `gorm:"column:station_id;index"`
	Type       string    `gorm:"column:type"`
	Params     string    `gorm:"column:params"`
	Success    bool      `gorm:"column:success"`
	Output     string    `gorm:"column:output"`
	ReturnCode int       `gorm:"column:return_code"`
	Error      string    `gorm:"column:error"`
	ExecutedAt time.Time `gorm:"column:executed_at;autoCreateTime"`
}

func (CommandRecord) TableName() string { return "command_records" }
