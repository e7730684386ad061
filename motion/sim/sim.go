// Package sim содержит программную имитацию каретки: позволяет гонять
// библиотеку и тесты без подключенного оборудования. Перемещения
// выполняются мгновенно; сценарии движения и сбоев задаются извне
// через сеттеры.
package sim

import (
	"fmt"
	"sync"

	"github.com/hdrlab/zaberAdapter/motion"
)

// Connector реализует motion.Connector поверх набора виртуальных кареток,
// привязанных к именам портов.
type Connector struct {
	mu     sync.Mutex
	stages map[string]*Stage
}

// NewConnector создает пустой коннектор. Каретки добавляются через Attach.
func NewConnector() *Connector {
	return &Connector{stages: make(map[string]*Stage)}
}

// Attach привязывает виртуальную каретку к имени порта.
func (c *Connector) Attach(endpoint string, stage *Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages[endpoint] = stage
}

// Open открывает соединение с виртуальной кареткой. Порт без каретки
// ведет себя как незанятый: возвращается ошибка открытия.
func (c *Connector) Open(endpoint string) (motion.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stage, ok := c.stages[endpoint]
	if !ok {
		return nil, fmt.Errorf("endpoint %s: port is not available", endpoint)
	}
	return &connection{stage: stage}, nil
}

type connection struct {
	stage *Stage
}

func (c *connection) DetectDevices() ([]motion.Device, error) {
	return []motion.Device{&device{stage: c.stage}}, nil
}

func (c *connection) Close() error { return nil }

type device struct {
	stage *Stage
}

func (d *device) Identity() (motion.Identity, error) {
	d.stage.mu.Lock()
	defer d.stage.mu.Unlock()
	if d.stage.identityErr != nil {
		return motion.Identity{}, d.stage.identityErr
	}
	return d.stage.identity, nil
}

func (d *device) DeviceID() int {
	d.stage.mu.Lock()
	defer d.stage.mu.Unlock()
	return d.stage.deviceID
}

func (d *device) AxisCount() int {
	d.stage.mu.Lock()
	defer d.stage.mu.Unlock()
	return d.stage.axisCount
}

func (d *device) Axis(n int) (motion.Axis, error) {
	d.stage.mu.Lock()
	defer d.stage.mu.Unlock()
	if n < 1 || n > d.stage.axisCount {
		return nil, fmt.Errorf("axis %d out of range (device has %d)", n, d.stage.axisCount)
	}
	return &axis{stage: d.stage}, nil
}

type axis struct {
	stage *Stage
}

func (a *axis) Home() error {
	s := a.stage
	s.mu.Lock()
	defer s.mu.Unlock()
	s.homeCalls++
	if s.commandErr != nil {
		return s.commandErr
	}
	s.homed = true
	s.position = 0
	s.busy = false
	return nil
}

func (a *axis) MoveAbsolute(positionMM float64) error {
	s := a.stage
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moveTargets = append(s.moveTargets, positionMM)
	if s.commandErr != nil {
		return s.commandErr
	}
	s.position = positionMM
	s.busy = false
	return nil
}

func (a *axis) MoveVelocity(velocityMMs float64) error {
	s := a.stage
	s.mu.Lock()
	defer s.mu.Unlock()
	s.velocityCmds = append(s.velocityCmds, velocityMMs)
	if s.commandErr != nil {
		return s.commandErr
	}
	s.busy = velocityMMs != 0
	return nil
}

func (a *axis) Stop() error {
	s := a.stage
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	if s.commandErr != nil {
		return s.commandErr
	}
	s.busy = false
	return nil
}

func (a *axis) Position() (float64, error) {
	s := a.stage
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positionErr != nil {
		return 0, s.positionErr
	}
	return s.position, nil
}

func (a *axis) IsBusy() (bool, error) {
	s := a.stage
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busyErr != nil {
		return false, s.busyErr
	}
	return s.busy, nil
}

func (a *axis) IsHomed() (bool, error) {
	s := a.stage
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homed, nil
}

// Stage - одна виртуальная каретка с одной или несколькими осями.
// Все методы потокобезопасны.
type Stage struct {
	mu sync.Mutex

	identity  motion.Identity
	deviceID  int
	axisCount int

	position float64
	homed    bool
	busy     bool

	moveTargets  []float64
	velocityCmds []float64
	homeCalls    int
	stopCalls    int

	identityErr error
	positionErr error
	busyErr     error
	commandErr  error
}

// NewStage создает виртуальную каретку с одной осью.
func NewStage(identity motion.Identity, deviceID int) *Stage {
	return &Stage{
		identity:  identity,
		deviceID:  deviceID,
		axisCount: 1,
	}
}

// SetPosition выставляет текущую позицию, имитируя движение каретки.
func (s *Stage) SetPosition(positionMM float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = positionMM
}

// SetBusy выставляет флаг движения.
func (s *Stage) SetBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
}

// SetHomed выставляет флаг выполненной калибровки.
func (s *Stage) SetHomed(homed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.homed = homed
}

// FailIdentity заставляет чтение паспорта возвращать err (nil отключает сбой).
func (s *Stage) FailIdentity(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identityErr = err
}

// FailPosition заставляет чтение позиции возвращать err.
func (s *Stage) FailPosition(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positionErr = err
}

// FailBusy заставляет чтение флага движения возвращать err.
func (s *Stage) FailBusy(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busyErr = err
}

// FailCommands заставляет все команды движения возвращать err.
func (s *Stage) FailCommands(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandErr = err
}

// VelocityCommands возвращает копию всех принятых команд скорости.
func (s *Stage) VelocityCommands() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.velocityCmds))
	copy(out, s.velocityCmds)
	return out
}

// MoveTargets возвращает копию всех принятых целей абсолютных перемещений.
func (s *Stage) MoveTargets() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.moveTargets))
	copy(out, s.moveTargets)
	return out
}

// HomeCalls возвращает число принятых команд калибровки.
func (s *Stage) HomeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homeCalls
}

// StopCalls возвращает число принятых команд остановки.
func (s *Stage) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}
