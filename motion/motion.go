// Package motion описывает границу с SDK контроллера движения.
// Библиотека не реализует транспорт самостоятельно: всё общение с
// устройством делегируется внешней реализации этих интерфейсов
// (вендорский SDK или его обертка). Все длины в миллиметрах,
// все скорости в мм/с.
package motion

// Identity содержит паспортные данные устройства, как их сообщает SDK.
type Identity struct {
	SerialNumber    string
	Name            string
	FirmwareVersion string
	DeviceType      string
}

// Connector открывает соединение по адресу транспорта (например, имени
// последовательного порта).
type Connector interface {
	Open(endpoint string) (Connection, error)
}

// Connection представляет открытое соединение, на котором может
// находиться несколько устройств.
type Connection interface {
	// DetectDevices перечисляет устройства, подключенные на этом соединении.
	DetectDevices() ([]Device, error)
	Close() error
}

// Device представляет одно устройство на соединении.
type Device interface {
	// Identity считывает паспортные данные устройства.
	Identity() (Identity, error)
	DeviceID() int
	AxisCount() int
	// Axis возвращает ось по индексу, начиная с 1.
	Axis(n int) (Axis, error)
}

// Axis представляет одну управляемую ось устройства.
//
// Команды Home и MoveAbsolute неблокирующие: возврат без ошибки означает,
// что контроллер принял команду, а не что движение завершилось. Завершение
// отслеживается опросом IsBusy/Position.
type Axis interface {
	Home() error
	MoveAbsolute(positionMM float64) error
	MoveVelocity(velocityMMs float64) error
	Stop() error
	Position() (float64, error)
	IsBusy() (bool, error)
	IsHomed() (bool, error)
}
