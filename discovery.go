package zaber

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/hdrlab/zaberAdapter/models"
	"github.com/hdrlab/zaberAdapter/motion"
	"github.com/sirupsen/logrus"
)

// Discovery перечисляет кандидатные порты и опрашивает каждый на предмет
// подключенных устройств.
type Discovery struct {
	connector motion.Connector
	logger    *logrus.Logger

	// Endpoints переопределяет платформенный список кандидатов.
	// Пустой срез означает список по умолчанию.
	Endpoints []string
}

// NewDiscovery создает сканер устройств поверх переданного коннектора.
func NewDiscovery(connector motion.Connector, logger *logrus.Logger) *Discovery {
	return &Discovery{connector: connector, logger: logger}
}

// Scan обходит кандидатные порты и возвращает паспорта всех найденных
// устройств. Порт, который не открылся или оказался пустым, молча
// пропускается: большинство кандидатов в списке не заняты, это ожидаемо.
// Scan как целое не завершается ошибкой никогда.
func (d *Discovery) Scan() []models.DeviceIdentity {
	var discovered []models.DeviceIdentity

	d.logger.Info("Scanning for stage devices...")
	for _, endpoint := range d.candidates() {
		conn, err := d.connector.Open(endpoint)
		if err != nil {
			continue
		}

		devices, err := conn.DetectDevices()
		if err == nil {
			for _, device := range devices {
				identity := readIdentity(device, endpoint)
				discovered = append(discovered, identity)
				d.logger.WithFields(logrus.Fields{
					"endpoint": endpoint,
					"name":     identity.Name,
					"serial":   identity.SerialNumber,
				}).Info("Found device")
			}
		}
		_ = conn.Close()
	}

	d.logger.WithField("count", len(discovered)).Info("Device scan finished")
	return discovered
}

// SaveDiscovered записывает результат сканирования в JSON-файл.
func (d *Discovery) SaveDiscovered(devices []models.DeviceIdentity, filename string) error {
	now := time.Now()
	record := models.DiscoveryRecord{
		DiscoveredDevices: devices,
		ScanTimestamp:     now,
		ScanTimestampStr:  now.Format("2006-01-02 15:04:05"),
		DeviceCount:       len(devices),
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal discovered devices: %v", ErrConfigPersist, err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		d.logger.WithField("file", filename).WithError(err).Error("Failed to save discovered devices")
		return fmt.Errorf("%w: %v", ErrConfigPersist, err)
	}

	d.logger.WithFields(logrus.Fields{"file": filename, "count": len(devices)}).Info("Discovered devices saved")
	return nil
}

func (d *Discovery) candidates() []string {
	if len(d.Endpoints) > 0 {
		return d.Endpoints
	}
	return candidateEndpoints()
}

// candidateEndpoints возвращает платформенный список портов для
// сканирования. Список конечный и ограниченный: произвольные адреса
// не перебираются.
func candidateEndpoints() []string {
	if runtime.GOOS == "windows" {
		ports := make([]string, 0, 19)
		for i := 1; i < 20; i++ {
			ports = append(ports, fmt.Sprintf("COM%d", i))
		}
		return ports
	}

	ports := make([]string, 0, 20)
	for i := 0; i < 10; i++ {
		ports = append(ports, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for i := 0; i < 10; i++ {
		ports = append(ports, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	return ports
}

// readIdentity собирает паспорт устройства. Если паспорт не читается,
// устройство все равно считается рабочим: подставляется заглушка с id 0.
func readIdentity(device motion.Device, endpoint string) models.DeviceIdentity {
	identity, err := device.Identity()
	if err != nil {
		return models.DeviceIdentity{
			Endpoint:        endpoint,
			DeviceID:        0,
			SerialNumber:    "unknown",
			Name:            "Unknown Device",
			FirmwareVersion: "",
			DeviceType:      "",
			AxisCount:       1,
		}
	}

	return models.DeviceIdentity{
		Endpoint:        endpoint,
		DeviceID:        device.DeviceID(),
		SerialNumber:    identity.SerialNumber,
		Name:            identity.Name,
		FirmwareVersion: identity.FirmwareVersion,
		DeviceType:      identity.DeviceType,
		AxisCount:       device.AxisCount(),
	}
}
