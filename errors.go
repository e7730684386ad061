package zaber

import "errors"

// Ошибки, возвращаемые операциями библиотеки. Проверяются через errors.Is;
// обернутые варианты несут контекст конкретного вызова.
var (
	// ErrNotConnected возвращается командами, выданными до подключения.
	ErrNotConnected = errors.New("stage is not connected")

	// ErrNotHomed возвращается командами движения до завершения поиска
	// нулевой позиции: пока каретка не откалибрована, позиция неизвестна
	// и движение небезопасно. Stop под это ограничение не попадает.
	ErrNotHomed = errors.New("stage is not homed")

	// ErrNoDeviceFound возвращается, когда автоопределение не нашло
	// ни одного устройства ни по сохраненному адресу, ни при сканировании.
	ErrNoDeviceFound = errors.New("no device found")

	// ErrCommandRejected возвращается, когда контроллер отклонил команду.
	ErrCommandRejected = errors.New("command rejected by controller")

	// Ошибки работы с профилями конфигурации.
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigParse    = errors.New("config file is malformed")
	ErrConfigPersist  = errors.New("config file could not be written")
)
