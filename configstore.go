package zaber

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hdrlab/zaberAdapter/models"
	"github.com/sirupsen/logrus"
)

// ConfigStore сохраняет и загружает профили конфигурации в JSON-файлах.
type ConfigStore struct {
	logger *logrus.Logger
}

// NewConfigStore создает хранилище профилей.
func NewConfigStore(logger *logrus.Logger) *ConfigStore {
	return &ConfigStore{logger: logger}
}

// Промежуточная форма для разбора: указатели позволяют отличить
// отсутствующее поле от нулевого значения и подставить значения по
// умолчанию - те же, что при создании свежей конфигурации.
type configRecordWire struct {
	Endpoint         *string       `json:"endpoint"`
	PositionLimitsMM *[2]float64   `json:"position_limits_mm"`
	MaxVelocityMMs   *float64      `json:"max_velocity_mm_s"`
	ReadingRateHz    *float64      `json:"reading_rate_hz"`
	DeviceIdentity   *identityWire `json:"device_identity"`
}

type identityWire struct {
	Endpoint        *string `json:"endpoint"`
	DeviceID        *int    `json:"device_id"`
	SerialNumber    *string `json:"serial_number"`
	Name            *string `json:"name"`
	FirmwareVersion *string `json:"firmware_version"`
	DeviceType      *string `json:"device_type"`
	AxisCount       *int    `json:"axis_count"`
}

// Save записывает профиль, перезаписывая существующий файл с тем же именем.
// Ошибка записи возвращается вызывающему: без профиля автоподключение при
// следующем запуске работать не будет, молчать об этом нельзя.
func (s *ConfigStore) Save(filename string, record models.ConfigRecord) error {
	record.SavedAt = time.Now()
	record.SavedAtReadable = record.SavedAt.Format("2006-01-02 15:04:05")

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal config: %v", ErrConfigPersist, err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		s.logger.WithField("file", filename).WithError(err).Error("Failed to save configuration")
		return fmt.Errorf("%w: %v", ErrConfigPersist, err)
	}

	s.logger.WithField("file", filename).Info("Configuration saved")
	return nil
}

// Load читает и разбирает профиль. Отсутствующий файл - ErrConfigNotFound,
// некорректный JSON - ErrConfigParse. Пропущенные поля получают значения
// по умолчанию; паспорт устройства либо разбирается целиком, либо
// отбрасывается.
func (s *ConfigStore) Load(filename string) (models.ConfigRecord, error) {
	var record models.ConfigRecord

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.WithField("file", filename).Warn("Configuration file not found")
			return record, fmt.Errorf("%w: %s", ErrConfigNotFound, filename)
		}
		return record, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	var wire configRecordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		s.logger.WithField("file", filename).WithError(err).Error("Failed to parse configuration")
		return record, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	record = models.ConfigRecord{
		Endpoint:         "auto",
		PositionLimitsMM: [2]float64{0, 100},
		MaxVelocityMMs:   10.0,
		ReadingRateHz:    100.0,
	}
	if wire.Endpoint != nil {
		record.Endpoint = *wire.Endpoint
	}
	if wire.PositionLimitsMM != nil {
		record.PositionLimitsMM = *wire.PositionLimitsMM
	}
	if wire.MaxVelocityMMs != nil {
		record.MaxVelocityMMs = *wire.MaxVelocityMMs
	}
	if wire.ReadingRateHz != nil {
		record.ReadingRateHz = *wire.ReadingRateHz
	}
	if identity, ok := wire.DeviceIdentity.complete(); ok {
		record.DeviceIdentity = identity
	} else if wire.DeviceIdentity != nil {
		s.logger.WithField("file", filename).Warn("Device identity record is incomplete, ignoring it")
	}

	s.logger.WithField("file", filename).Info("Configuration loaded")
	return record, nil
}

// complete собирает паспорт, только если присутствуют все поля.
func (w *identityWire) complete() (*models.DeviceIdentity, bool) {
	if w == nil {
		return nil, false
	}
	if w.Endpoint == nil || w.DeviceID == nil || w.SerialNumber == nil || w.Name == nil ||
		w.FirmwareVersion == nil || w.DeviceType == nil || w.AxisCount == nil {
		return nil, false
	}
	return &models.DeviceIdentity{
		Endpoint:        *w.Endpoint,
		DeviceID:        *w.DeviceID,
		SerialNumber:    *w.SerialNumber,
		Name:            *w.Name,
		FirmwareVersion: *w.FirmwareVersion,
		DeviceType:      *w.DeviceType,
		AxisCount:       *w.AxisCount,
	}, true
}

// SaveConfig сохраняет текущие параметры и паспорт последнего устройства
// в файл профиля контроллера.
func (c *Controller) SaveConfig() error {
	c.mu.Lock()
	endpoint := c.endpoint
	if endpoint == "" {
		endpoint = c.cfg.Endpoint
	}
	record := models.ConfigRecord{
		Endpoint:         endpoint,
		PositionLimitsMM: [2]float64{c.cfg.MinPositionMM, c.cfg.MaxPositionMM},
		MaxVelocityMMs:   c.cfg.MaxVelocityMMs,
		ReadingRateHz:    c.cfg.ReadingRateHz,
	}
	if c.identity != nil {
		ident := *c.identity
		record.DeviceIdentity = &ident
	}
	c.mu.Unlock()

	return c.store.Save(c.cfg.ConfigFile, record)
}

// LoadConfig загружает профиль и применяет его к конфигурации контроллера.
// При любой ошибке конфигурация в памяти остается нетронутой.
func (c *Controller) LoadConfig() error {
	record, err := c.store.Load(c.cfg.ConfigFile)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cfg.Endpoint = record.Endpoint
	c.cfg.MinPositionMM = record.PositionLimitsMM[0]
	c.cfg.MaxPositionMM = record.PositionLimitsMM[1]
	c.cfg.MaxVelocityMMs = record.MaxVelocityMMs
	c.cfg.ReadingRateHz = record.ReadingRateHz
	if record.DeviceIdentity != nil {
		ident := *record.DeviceIdentity
		c.identity = &ident
	}
	c.mu.Unlock()
	return nil
}
