// Package zaber - обертка над SDK контроллера движения для одноосевой
// линейной каретки: обнаружение устройств на последовательных портах,
// команды движения с программными пределами, фоновое чтение позиции
// до 100 Гц и сохранение конфигурации в JSON.
package zaber

import (
	"fmt"
	"io"
	"os"

	"github.com/hdrlab/zaberAdapter/models"
	"github.com/hdrlab/zaberAdapter/motion"
	"github.com/sirupsen/logrus"
)

// Client является основной точкой входа для взаимодействия с библиотекой.
type Client struct {
	controller *Controller
	discovery  *Discovery
	config     *Config
	logger     *logrus.Logger
}

// New создает и возвращает новый экземпляр клиента поверх переданной
// реализации motion.Connector. Соединение при этом не открывается:
// для подключения вызывается Connect.
func New(cfg *Config, connector motion.Connector) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logrus.New()

	if cfg.LogLevel == "off" || cfg.LogLevel == "none" {
		logger.SetOutput(io.Discard)
	} else {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
		logger.SetOutput(os.Stdout)
	}

	// Настраиваем форматтер с понятным форматом времени
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		ForceColors:     true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	controller := NewController(cfg, connector, logger)

	return &Client{
		controller: controller,
		discovery:  controller.discovery,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Connect подключается к каретке и запускает фоновый опрос позиции.
func (c *Client) Connect() error {
	return c.controller.Connect()
}

// Disconnect останавливает опрос и закрывает соединение.
func (c *Client) Disconnect() {
	c.controller.Disconnect()
}

// Home запускает поиск нулевой позиции (неблокирующий).
func (c *Client) Home() error {
	return c.controller.Home()
}

// MoveTo запускает перемещение в абсолютную позицию в мм.
func (c *Client) MoveTo(positionMM float64) error {
	return c.controller.MoveTo(positionMM)
}

// SetVelocity задает скорость непрерывного движения в мм/с.
func (c *Client) SetVelocity(velocityMMs float64) error {
	return c.controller.SetVelocity(velocityMMs)
}

// Stop останавливает движение каретки.
func (c *Client) Stop() error {
	return c.controller.Stop()
}

// Position возвращает последнюю кешированную позицию в мм.
func (c *Client) Position() float64 {
	return c.controller.Position()
}

// DistanceFromHome возвращает расстояние от нулевой отметки в мм.
func (c *Client) DistanceFromHome() float64 {
	return c.controller.DistanceFromHome()
}

// Status возвращает снимок текущего состояния каретки.
func (c *Client) Status() models.StageStatus {
	return c.controller.Status()
}

// IsConnected сообщает, установлено ли подключение.
func (c *Client) IsConnected() bool {
	return c.controller.IsConnected()
}

// IsHomed сообщает, выполнена ли калибровка.
func (c *Client) IsHomed() bool {
	return c.controller.IsHomed()
}

// IsMoving сообщает, движется ли каретка.
func (c *Client) IsMoving() bool {
	return c.controller.IsMoving()
}

// DeviceInfo возвращает паспорт подключенного устройства.
func (c *Client) DeviceInfo() *models.DeviceIdentity {
	return c.controller.DeviceInfo()
}

// ScanDevices сканирует порты и возвращает все найденные устройства.
func (c *Client) ScanDevices() []models.DeviceIdentity {
	return c.discovery.Scan()
}

// SaveDiscoveredDevices сохраняет результат сканирования в JSON-файл.
func (c *Client) SaveDiscoveredDevices(devices []models.DeviceIdentity, filename string) error {
	return c.discovery.SaveDiscovered(devices, filename)
}

// SaveConfig сохраняет текущую конфигурацию в файл профиля.
func (c *Client) SaveConfig() error {
	return c.controller.SaveConfig()
}

// LoadConfig загружает конфигурацию из файла профиля.
func (c *Client) LoadConfig() error {
	return c.controller.LoadConfig()
}

// GetLogger возвращает используемый логгер.
func (c *Client) GetLogger() *logrus.Logger {
	return c.logger
}

// CreateStage создает клиента и сразу подключается к каретке.
func CreateStage(cfg *Config, connector motion.Connector) (*Client, error) {
	client, err := New(cfg, connector)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// LoadStageFromConfig загружает профиль и подключается по сохраненным
// параметрам.
func LoadStageFromConfig(configFile string, connector motion.Connector) (*Client, error) {
	cfg := Load()
	if configFile != "" {
		cfg.ConfigFile = configFile
	}

	client, err := New(cfg, connector)
	if err != nil {
		return nil, err
	}
	if err := client.LoadConfig(); err != nil {
		return nil, err
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// DiscoverAllDevices сканирует все порты и сохраняет найденные устройства
// в discovered_devices.json для последующего использования.
func DiscoverAllDevices(connector motion.Connector) ([]models.DeviceIdentity, error) {
	cfg := Load()
	client, err := New(cfg, connector)
	if err != nil {
		return nil, err
	}

	devices := client.ScanDevices()
	if len(devices) > 0 {
		if err := client.SaveDiscoveredDevices(devices, "discovered_devices.json"); err != nil {
			return devices, err
		}
	}
	return devices, nil
}
