package models

import "time"

// DeviceIdentity содержит информацию об обнаруженном устройстве.
// Запись неизменяемая: создается при сканировании или первом успешном
// подключении и дальше только копируется по значению.
type DeviceIdentity struct {
	Endpoint        string `json:"endpoint"`
	DeviceID        int    `json:"device_id"`
	SerialNumber    string `json:"serial_number"`
	Name            string `json:"name"`
	FirmwareVersion string `json:"firmware_version"`
	DeviceType      string `json:"device_type"`
	AxisCount       int    `json:"axis_count"`
}

// StageStatus содержит снимок текущего состояния каретки.
// Снимок консистентный: все поля берутся под одной критической секцией,
// разорванных комбинаций позиции и флага движения не бывает.
type StageStatus struct {
	PositionMM  float64   `json:"position_mm"`
	VelocityMMs float64   `json:"velocity_mm_s"`
	IsMoving    bool      `json:"is_moving"`
	IsHomed     bool      `json:"is_homed"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConfigRecord описывает сохраняемый профиль конфигурации.
type ConfigRecord struct {
	Endpoint         string          `json:"endpoint"`
	PositionLimitsMM [2]float64      `json:"position_limits_mm"`
	MaxVelocityMMs   float64         `json:"max_velocity_mm_s"`
	ReadingRateHz    float64         `json:"reading_rate_hz"`
	DeviceIdentity   *DeviceIdentity `json:"device_identity"`
	SavedAt          time.Time       `json:"saved_at"`
	SavedAtReadable  string          `json:"saved_at_readable"`
}

// DiscoveryRecord описывает результат сканирования портов.
type DiscoveryRecord struct {
	DiscoveredDevices []DeviceIdentity `json:"discovered_devices"`
	ScanTimestamp     time.Time        `json:"scan_timestamp"`
	ScanTimestampStr  string           `json:"scan_timestamp_readable"`
	DeviceCount       int              `json:"device_count"`
}
