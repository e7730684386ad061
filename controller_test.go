package zaber_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	zaber "github.com/hdrlab/zaberAdapter"
	"github.com/hdrlab/zaberAdapter/motion"
	"github.com/hdrlab/zaberAdapter/motion/sim"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "portA"

// testConfig возвращает конфигурацию с быстрым опросом и временным
// файлом профиля, чтобы тесты не пересекались между собой.
func testConfig(t *testing.T) *zaber.Config {
	t.Helper()
	return &zaber.Config{
		Endpoint:       testEndpoint,
		MinPositionMM:  0,
		MaxPositionMM:  100,
		MaxVelocityMMs: 10,
		ReadingRateHz:  100,
		ConfigFile:     filepath.Join(t.TempDir(), "zaber_config.json"),
		LogLevel:       "off",
	}
}

// setupClient создает клиента поверх одной виртуальной каретки.
func setupClient(t *testing.T, cfg *zaber.Config) (*zaber.Client, *sim.Stage) {
	t.Helper()

	stage := sim.NewStage(motion.Identity{
		SerialNumber:    "49942",
		Name:            "X-LSM100A",
		FirmwareVersion: "7.38",
		DeviceType:      "linear stage",
	}, 50081)

	connector := sim.NewConnector()
	connector.Attach(testEndpoint, stage)

	client, err := zaber.New(cfg, connector)
	require.NoError(t, err, "Не удалось создать клиент")
	return client, stage
}

// connectHomed подключается и выполняет калибровку.
func connectHomed(t *testing.T, client *zaber.Client) {
	t.Helper()
	require.NoError(t, client.Connect(), "Не удалось подключиться")
	require.NoError(t, client.Home(), "Не удалось выполнить калибровку")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestConnectReadsInitialState(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	stage.SetPosition(42.5)
	stage.SetHomed(true)

	require.NoError(t, client.Connect())
	defer client.Disconnect()

	require.True(t, client.IsConnected())
	require.True(t, client.IsHomed())
	require.InDelta(t, 42.5, client.Position(), 1e-9)

	info := client.DeviceInfo()
	require.NotNil(t, info)
	require.Equal(t, testEndpoint, info.Endpoint)
	require.Equal(t, 50081, info.DeviceID)
	require.Equal(t, "49942", info.SerialNumber)
	require.Equal(t, "X-LSM100A", info.Name)
	require.Equal(t, 1, info.AxisCount)
}

func TestConnectIdempotent(t *testing.T) {
	client, _ := setupClient(t, testConfig(t))
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	require.NoError(t, client.Connect(), "Повторный Connect должен быть успешным без переоткрытия")
	require.True(t, client.IsConnected())
}

func TestConnectIdentityFallback(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	stage.FailIdentity(errors.New("identity query timed out"))

	require.NoError(t, client.Connect(), "Сбой чтения паспорта не должен срывать подключение")
	defer client.Disconnect()

	info := client.DeviceInfo()
	require.NotNil(t, info)
	require.Equal(t, 0, info.DeviceID)
	require.Equal(t, "Unknown Device", info.Name)
}

func TestCommandsRequireConnection(t *testing.T) {
	client, _ := setupClient(t, testConfig(t))

	require.ErrorIs(t, client.Home(), zaber.ErrNotConnected)
	require.ErrorIs(t, client.MoveTo(10), zaber.ErrNotConnected)
	require.ErrorIs(t, client.SetVelocity(1), zaber.ErrNotConnected)
	require.ErrorIs(t, client.Stop(), zaber.ErrNotConnected)
}

func TestHomeSetsFlagOnAcceptance(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	require.False(t, client.IsHomed())
	require.NoError(t, client.Home())
	// Флаг взводится сразу по принятию команды, не по завершению движения
	require.True(t, client.IsHomed())
	require.Equal(t, 1, stage.HomeCalls())
}

func TestHomeRejectedLeavesFlagUnchanged(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	stage.FailCommands(errors.New("device fault"))
	err := client.Home()
	require.ErrorIs(t, err, zaber.ErrCommandRejected)
	require.False(t, client.IsHomed())
}

func TestMoveToClampsTarget(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	connectHomed(t, client)
	defer client.Disconnect()

	require.NoError(t, client.MoveTo(150.0))
	require.NoError(t, client.MoveTo(-25.0))
	require.NoError(t, client.MoveTo(60.0))

	require.Equal(t, []float64{100.0, 0.0, 60.0}, stage.MoveTargets(),
		"Контроллер должен получать только ограниченные цели")

	waitFor(t, func() bool { return client.Position() == 60.0 },
		"Кешированная позиция должна отразить последнее перемещение")
	require.GreaterOrEqual(t, client.Position(), 0.0)
	require.LessOrEqual(t, client.Position(), 100.0)
}

func TestMoveToRequiresHoming(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	require.ErrorIs(t, client.MoveTo(50), zaber.ErrNotHomed)
	require.Empty(t, stage.MoveTargets(), "До калибровки команды не должны доходить до контроллера")
}

func TestSetVelocityClampsToMaximum(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	connectHomed(t, client)
	defer client.Disconnect()

	require.NoError(t, client.SetVelocity(25.0))
	require.NoError(t, client.SetVelocity(-25.0))
	require.NoError(t, client.SetVelocity(3.5))

	require.Equal(t, []float64{10.0, -10.0, 3.5}, stage.VelocityCommands(),
		"Контроллер должен получать ровно ограниченную скорость, не исходную")
}

func TestSetVelocityRequiresHoming(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	require.ErrorIs(t, client.SetVelocity(5), zaber.ErrNotHomed)
	require.Empty(t, stage.VelocityCommands())
}

func TestSetVelocityZeroedAtLimits(t *testing.T) {
	cfg := testConfig(t)
	client, stage := setupClient(t, cfg)
	stage.SetPosition(100.0)
	stage.SetHomed(true)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	// Каретка на верхнем пределе: движение вверх обнуляется
	require.NoError(t, client.SetVelocity(5.0))
	require.Equal(t, []float64{0.0}, stage.VelocityCommands())

	// Движение от предела проходит как есть
	require.NoError(t, client.SetVelocity(-5.0))
	require.Equal(t, []float64{0.0, -5.0}, stage.VelocityCommands())

	// Симметрично на нижнем пределе
	stage.SetPosition(0.0)
	waitFor(t, func() bool { return client.Position() == 0.0 }, "Опрос должен увидеть нижний предел")
	require.NoError(t, client.SetVelocity(-5.0))
	cmds := stage.VelocityCommands()
	require.Equal(t, 0.0, cmds[len(cmds)-1])
}

func TestStopAllowedWithoutHoming(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	require.False(t, client.IsHomed())
	require.NoError(t, client.Stop(), "Аварийная остановка должна работать без калибровки")
	require.Equal(t, 1, stage.StopCalls())
	require.Equal(t, 0.0, client.Status().VelocityMMs)
}

func TestPollerUpdatesStatus(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	connectHomed(t, client)
	defer client.Disconnect()

	require.NoError(t, client.SetVelocity(5.0))
	stage.SetPosition(55.0)

	waitFor(t, func() bool {
		status := client.Status()
		return status.PositionMM == 55.0 && status.IsMoving
	}, "Опрос должен увидеть движение и новую позицию")

	// Естественная остановка: флаг движения гаснет, кешированная скорость обнуляется
	stage.SetBusy(false)
	waitFor(t, func() bool {
		status := client.Status()
		return !status.IsMoving && status.VelocityMMs == 0.0
	}, "Опрос должен обнулить скорость после естественной остановки")
}

func TestPollerSurvivesReadFailures(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	stage.SetPosition(10.0)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	stage.FailPosition(errors.New("transient read glitch"))
	stage.SetPosition(33.0)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 10.0, client.Position(), "При сбое чтения кеш должен оставаться прежним")

	stage.FailPosition(nil)
	waitFor(t, func() bool { return client.Position() == 33.0 },
		"После восстановления чтения опрос должен продолжиться")
}

func TestDisconnectStopsPoller(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	stage.SetPosition(10.0)
	require.NoError(t, client.Connect())

	client.Disconnect()
	require.False(t, client.IsConnected())
	require.Equal(t, 1, stage.StopCalls(), "Отключение должно останавливать движение")

	stage.SetPosition(77.0)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 10.0, client.Position(), "После отключения опрос не должен менять кеш")

	require.ErrorIs(t, client.MoveTo(10), zaber.ErrNotConnected)
}

func TestAutoConnectScansAndPersists(t *testing.T) {
	// Автоопределение обходит платформенный список кандидатов
	endpoint := "/dev/ttyUSB3"
	if runtime.GOOS == "windows" {
		endpoint = "COM3"
	}

	stage := sim.NewStage(motion.Identity{
		SerialNumber: "11111",
		Name:         "X-LSM050A",
	}, 50080)
	connector := sim.NewConnector()
	connector.Attach(endpoint, stage)

	cfg := testConfig(t)
	cfg.Endpoint = "auto"
	client, err := zaber.New(cfg, connector)
	require.NoError(t, err)

	require.NoError(t, client.Connect())
	defer client.Disconnect()

	info := client.DeviceInfo()
	require.NotNil(t, info)
	require.Equal(t, endpoint, info.Endpoint)

	// Первое успешное подключение сохраняет профиль с паспортом
	_, err = os.Stat(cfg.ConfigFile)
	require.NoError(t, err, "Профиль должен быть сохранен после первого подключения")
}

func TestAutoConnectNoDevices(t *testing.T) {
	cfg := testConfig(t)
	cfg.Endpoint = "auto"
	client, err := zaber.New(cfg, sim.NewConnector())
	require.NoError(t, err)

	require.ErrorIs(t, client.Connect(), zaber.ErrNoDeviceFound)
	require.False(t, client.IsConnected())
}

func TestDistanceFromHome(t *testing.T) {
	client, stage := setupClient(t, testConfig(t))
	stage.SetPosition(-12.5)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	require.InDelta(t, 12.5, client.DistanceFromHome(), 1e-9)
}
