package zaber

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hdrlab/zaberAdapter/models"
	"github.com/hdrlab/zaberAdapter/motion"
	"github.com/sirupsen/logrus"
)

// pollStopTimeout ограничивает ожидание завершения горутины опроса
// при отключении. Зависший опрос не считается фатальным.
const pollStopTimeout = time.Second

// Controller владеет одним подключением к каретке: выдает команды движения
// с ограничением параметров, ведет кеш состояния и фоновый опрос позиции.
//
// Доступ к SDK со стороны команд и со стороны опросчика сериализуется
// отдельным мьютексом ioMu: потокобезопасность внешней реализации
// motion.Connector не предполагается. Под мьютексом состояния mu
// устройство никогда не вызывается.
type Controller struct {
	cfg       *Config
	connector motion.Connector
	logger    *logrus.Logger
	store     *ConfigStore
	discovery *Discovery

	ioMu sync.Mutex

	mu        sync.Mutex
	conn      motion.Connection
	axis      motion.Axis
	sessionID string
	endpoint  string // разрешенный адрес; пустой, пока Endpoint="auto" не разрешен
	identity  *models.DeviceIdentity
	connected bool
	position  float64
	velocity  float64
	moving    bool
	homed     bool

	pollStop chan struct{}
	pollDone chan struct{}
}

// NewController создает контроллер каретки поверх переданного коннектора.
func NewController(cfg *Config, connector motion.Connector, logger *logrus.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		connector: connector,
		logger:    logger,
		store:     NewConfigStore(logger),
		discovery: NewDiscovery(connector, logger),
	}
}

// Connect подключается к каретке.
//
// При Endpoint="auto" сначала используется адрес из ранее загруженного
// профиля, иначе выполняется сканирование портов. После открытия соединения
// берутся первое устройство и его первая ось, считываются паспорт,
// состояние калибровки и начальная позиция, затем запускается фоновый
// опрос. Повторный вызов на уже подключенном контроллере успешен и ничего
// не переоткрывает.
func (c *Controller) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		c.logger.Debug("Connect called while already connected")
		return nil
	}
	endpoint := c.endpoint
	if endpoint == "" {
		endpoint = c.cfg.Endpoint
	}
	savedIdentity := c.identity
	c.mu.Unlock()

	firstDiscovery := false
	if endpoint == "auto" {
		if savedIdentity != nil && savedIdentity.Endpoint != "" {
			endpoint = savedIdentity.Endpoint
			c.logger.WithField("endpoint", endpoint).Info("Using saved device endpoint")
		} else {
			devices := c.discovery.Scan()
			if len(devices) == 0 {
				c.logger.Error("Auto-detection found no devices")
				return ErrNoDeviceFound
			}
			ident := devices[0]
			endpoint = ident.Endpoint
			savedIdentity = &ident
			firstDiscovery = true
			c.logger.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"name":     ident.Name,
			}).Info("Auto-detected device")
		}
	}

	c.ioMu.Lock()
	conn, err := c.connector.Open(endpoint)
	if err != nil {
		c.ioMu.Unlock()
		c.logger.WithField("endpoint", endpoint).WithError(err).Error("Connection failed")
		return fmt.Errorf("open endpoint %s: %w", endpoint, err)
	}

	devices, err := conn.DetectDevices()
	if err != nil || len(devices) == 0 {
		_ = conn.Close()
		c.ioMu.Unlock()
		c.logger.WithField("endpoint", endpoint).Error("No devices detected on endpoint")
		if err != nil {
			return fmt.Errorf("detect devices on %s: %w", endpoint, err)
		}
		return fmt.Errorf("%w: endpoint %s has no attached devices", ErrNoDeviceFound, endpoint)
	}

	device := devices[0]
	axis, err := device.Axis(1)
	if err != nil {
		_ = conn.Close()
		c.ioMu.Unlock()
		c.logger.WithField("endpoint", endpoint).WithError(err).Error("Failed to address first axis")
		return fmt.Errorf("get axis 1 on %s: %w", endpoint, err)
	}

	if savedIdentity == nil {
		ident := readIdentity(device, endpoint)
		savedIdentity = &ident
		firstDiscovery = true
	}

	homed, err := axis.IsHomed()
	if err != nil {
		c.logger.WithError(err).Debug("Initial homed-state read failed, assuming not homed")
		homed = false
	}
	position, err := axis.Position()
	if err != nil {
		c.logger.WithError(err).Debug("Initial position read failed, defaulting to 0.0")
		position = 0.0
	}

	c.ioMu.Unlock()

	sessionID := uuid.New().String()
	stop := make(chan struct{})
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.axis = axis
	c.sessionID = sessionID
	c.endpoint = endpoint
	c.identity = savedIdentity
	c.connected = true
	c.position = position
	c.velocity = 0
	c.moving = false
	c.homed = homed
	c.pollStop = stop
	c.pollDone = done
	c.mu.Unlock()

	go c.pollLoop(axis, sessionID, c.cfg.PollInterval(), stop, done)

	if firstDiscovery {
		if err := c.SaveConfig(); err != nil {
			c.logger.WithError(err).Warn("Failed to persist configuration after first connection")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"sessionID": sessionID,
		"endpoint":  endpoint,
		"name":      savedIdentity.Name,
	}).Info("Connected to stage")
	return nil
}

// Disconnect останавливает опрос, по возможности останавливает движение и
// закрывает соединение. Никогда не возвращает ошибку: все сбои нижнего
// уровня поглощаются и логируются.
func (c *Controller) Disconnect() {
	c.stopPolling()

	c.mu.Lock()
	conn := c.conn
	axis := c.axis
	sessionID := c.sessionID
	c.conn = nil
	c.axis = nil
	c.connected = false
	c.mu.Unlock()

	c.ioMu.Lock()
	if axis != nil {
		if err := axis.Stop(); err != nil {
			c.logger.WithError(err).Debug("Stop on disconnect failed")
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.WithError(err).Debug("Close on disconnect failed")
		}
	}
	c.ioMu.Unlock()

	c.logger.WithField("sessionID", sessionID).Info("Disconnected")
}

// Home запускает поиск нулевой позиции.
//
// Команда неблокирующая: флаг homed взводится сразу после того, как
// контроллер принял команду, а не после физического завершения. Фактическое
// окончание калибровки отслеживается опросом IsMoving/Position.
func (c *Controller) Home() error {
	axis, err := c.session()
	if err != nil {
		return err
	}

	c.ioMu.Lock()
	err = axis.Home()
	c.ioMu.Unlock()
	if err != nil {
		c.logger.WithError(err).Error("Homing command failed")
		return fmt.Errorf("%w: home: %v", ErrCommandRejected, err)
	}

	c.mu.Lock()
	c.homed = true
	c.mu.Unlock()

	c.logger.Info("Homing started")
	return nil
}

// SetVelocity задает скорость непрерывного движения в мм/с (отрицательная -
// обратное направление). Значение ограничивается ±MaxVelocityMMs; если
// последняя известная позиция уже на пределе хода, скорость в сторону
// предела обнуляется. Требует выполненной калибровки.
func (c *Controller) SetVelocity(velocityMMs float64) error {
	axis, err := c.session()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.homed {
		c.mu.Unlock()
		return ErrNotHomed
	}
	position := c.position
	c.mu.Unlock()

	velocity := clamp(velocityMMs, -c.cfg.MaxVelocityMMs, c.cfg.MaxVelocityMMs)

	// Мягкая проверка пределов по кешированной позиции. Гарантию дает
	// только ограничение абсолютных перемещений: при непрерывном движении
	// выход за предел обязан отлавливать вызывающий по статусу.
	if position <= c.cfg.MinPositionMM && velocity < 0 {
		velocity = 0
	} else if position >= c.cfg.MaxPositionMM && velocity > 0 {
		velocity = 0
	}

	c.ioMu.Lock()
	err = axis.MoveVelocity(velocity)
	c.ioMu.Unlock()
	if err != nil {
		c.logger.WithField("velocity", velocity).WithError(err).Error("Set velocity failed")
		return fmt.Errorf("%w: move velocity %.3f: %v", ErrCommandRejected, velocity, err)
	}

	c.mu.Lock()
	c.velocity = velocity
	c.mu.Unlock()
	return nil
}

// Stop останавливает движение. Единственная команда, доступная без
// калибровки: аварийная остановка должна работать всегда.
func (c *Controller) Stop() error {
	axis, err := c.session()
	if err != nil {
		return err
	}

	c.ioMu.Lock()
	err = axis.Stop()
	c.ioMu.Unlock()
	if err != nil {
		c.logger.WithError(err).Error("Stop command failed")
		return fmt.Errorf("%w: stop: %v", ErrCommandRejected, err)
	}

	c.mu.Lock()
	c.velocity = 0
	c.mu.Unlock()
	return nil
}

// MoveTo запускает перемещение в абсолютную позицию в мм. Цель жестко
// ограничивается диапазоном [MinPositionMM, MaxPositionMM] - это
// авторитетная точка контроля пределов. Команда неблокирующая; прогресс
// отслеживается по IsMoving/Position. Требует выполненной калибровки.
func (c *Controller) MoveTo(positionMM float64) error {
	axis, err := c.session()
	if err != nil {
		return err
	}

	c.mu.Lock()
	homed := c.homed
	c.mu.Unlock()
	if !homed {
		return ErrNotHomed
	}

	target := clamp(positionMM, c.cfg.MinPositionMM, c.cfg.MaxPositionMM)

	c.ioMu.Lock()
	err = axis.MoveAbsolute(target)
	c.ioMu.Unlock()
	if err != nil {
		c.logger.WithField("target", target).WithError(err).Error("Move to position failed")
		return fmt.Errorf("%w: move absolute %.3f: %v", ErrCommandRejected, target, err)
	}
	return nil
}

// Position возвращает последнюю кешированную позицию в мм.
// Свежесть ограничена одним периодом опроса; устройство не вызывается.
func (c *Controller) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// DistanceFromHome возвращает модуль текущей позиции - расстояние от
// нулевой отметки. Осмысленно только после калибровки.
func (c *Controller) DistanceFromHome() float64 {
	return math.Abs(c.Position())
}

// Status возвращает консистентный снимок состояния каретки.
func (c *Controller) Status() models.StageStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.StageStatus{
		PositionMM:  c.position,
		VelocityMMs: c.velocity,
		IsMoving:    c.moving,
		IsHomed:     c.homed,
		Timestamp:   time.Now(),
	}
}

// IsConnected сообщает, установлено ли подключение.
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsHomed сообщает, выполнена ли калибровка.
func (c *Controller) IsHomed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.homed
}

// IsMoving сообщает, движется ли каретка по данным последнего опроса.
func (c *Controller) IsMoving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moving
}

// DeviceInfo возвращает копию паспорта подключенного устройства или nil,
// если устройство еще не обнаруживалось.
func (c *Controller) DeviceInfo() *models.DeviceIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return nil
	}
	ident := *c.identity
	return &ident
}

// session возвращает ось активного подключения либо ErrNotConnected.
func (c *Controller) session() (motion.Axis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.axis == nil {
		return nil, ErrNotConnected
	}
	return c.axis, nil
}

// stopPolling посылает кооперативный сигнал остановки и ждет выхода
// горутины опроса не дольше pollStopTimeout.
func (c *Controller) stopPolling() {
	c.mu.Lock()
	stop := c.pollStop
	done := c.pollDone
	c.pollStop = nil
	c.pollDone = nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)

	select {
	case <-done:
	case <-time.After(pollStopTimeout):
		c.logger.Warn("Polling goroutine did not exit in time, proceeding with disconnect")
	}
}

// pollLoop - фоновый цикл чтения позиции и флага движения.
// Разовый сбой чтения пропускает итерацию с сохранением старого кеша;
// цикл не может быть убит одиночной ошибкой устройства.
func (c *Controller) pollLoop(axis motion.Axis, sessionID string, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	log := c.logger.WithField("sessionID", sessionID)
	log.WithField("interval", interval).Info("Starting position polling goroutine")
	defer log.Info("Position polling goroutine stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.ioMu.Lock()
			position, errPos := axis.Position()
			moving, errBusy := axis.IsBusy()
			c.ioMu.Unlock()

			if errPos != nil {
				log.WithError(errPos).Debug("Position read failed, keeping stale cache")
				continue
			}
			if errBusy != nil {
				log.WithError(errBusy).Debug("Busy read failed, keeping stale cache")
				continue
			}

			c.mu.Lock()
			c.position = position
			c.moving = moving
			if !moving {
				// каретка остановилась сама (конец перемещения или
				// торможение) - кешированная скорость больше не актуальна
				c.velocity = 0
			}
			c.mu.Unlock()
		}
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
