package model

import "time"

// SystemSetting — запись таблицы system_settings.
type SystemSetting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
	UpdatedBy string
}
