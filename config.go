package zaber

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultConfigFile - имя файла профиля по умолчанию.
const DefaultConfigFile = "zaber_config.json"

// MaxReadingRateHz ограничивает частоту фонового опроса позиции.
// Выше 100 Гц последовательный транспорт все равно не успевает.
const MaxReadingRateHz = 100.0

// Config хранит модель конфигурации каретки.
type Config struct {
	// Endpoint - адрес транспорта (имя последовательного порта)
	// или "auto" для автоопределения.
	Endpoint string
	// Пределы позиции в мм. Все команды движения жестко
	// ограничиваются этим диапазоном.
	MinPositionMM float64
	MaxPositionMM float64
	// Максимальная допустимая скорость в мм/с (по модулю).
	MaxVelocityMMs float64
	// Желаемая частота чтения позиции в Гц, не более MaxReadingRateHz.
	ReadingRateHz float64
	// Файл профиля для сохранения/загрузки конфигурации.
	ConfigFile string
	LogLevel   string
}

// Load загружает конфигурацию из переменных окружения.
func Load() *Config {
	endpoint := os.Getenv("STAGE_ENDPOINT")
	if endpoint == "" {
		endpoint = "auto"
	}

	configFile := os.Getenv("STAGE_CONFIG_FILE")
	if configFile == "" {
		configFile = DefaultConfigFile
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		Endpoint:       endpoint,
		MinPositionMM:  getEnvAsFloat("STAGE_MIN_POSITION_MM", 0.0),
		MaxPositionMM:  getEnvAsFloat("STAGE_MAX_POSITION_MM", 100.0),
		MaxVelocityMMs: getEnvAsFloat("STAGE_MAX_VELOCITY_MM_S", 10.0),
		ReadingRateHz:  getEnvAsFloat("STAGE_READING_RATE_HZ", 100.0),
		ConfigFile:     configFile,
		LogLevel:       logLevel,
	}
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := os.Getenv(key)
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return fallback
	}
	return value
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	if c.MinPositionMM > c.MaxPositionMM {
		return fmt.Errorf("position limits are inverted: min=%.3f > max=%.3f", c.MinPositionMM, c.MaxPositionMM)
	}
	if c.MaxVelocityMMs <= 0 {
		return fmt.Errorf("max velocity must be positive, got %.3f", c.MaxVelocityMMs)
	}
	if c.ReadingRateHz <= 0 {
		return fmt.Errorf("reading rate must be positive, got %.3f", c.ReadingRateHz)
	}
	return nil
}

// PollInterval возвращает период фонового опроса, полученный из
// запрошенной частоты чтения. Частота сверху ограничена MaxReadingRateHz,
// поэтому период не бывает меньше 10 мс.
func (c *Config) PollInterval() time.Duration {
	rate := c.ReadingRateHz
	if rate > MaxReadingRateHz {
		rate = MaxReadingRateHz
	}
	return time.Duration(float64(time.Second) / rate)
}
