package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	zaber "github.com/hdrlab/zaberAdapter"
	"github.com/hdrlab/zaberAdapter/motion"
	"github.com/hdrlab/zaberAdapter/motion/sim"
	"github.com/joho/godotenv"
)

// runStep - обертка для выполнения одного шага демонстрации.
func runStep(name string, fn func() error) {
	log.Printf("--- Запуск шага: %s ---", name)

	if err := fn(); err != nil {
		log.Fatalf("Ошибка выполнения на шаге %s: %v", name, err)
	}

	log.Printf("--- Шаг %s выполнен успешно ---", name)
	fmt.Println("==================================================")
}

func main() {
	// 1) Загрузка конфигурации
	err := godotenv.Load("./.env")
	if err != nil {
		log.Printf("Warning: Could not load .env file. Using default values or environment variables: %v", err)
	}

	cfg := zaber.Load()
	log.Printf("Конфигурация загружена: Endpoint=%s, Limits=[%.1f, %.1f] mm, MaxVelocity=%.1f mm/s, Rate=%.1f Hz",
		cfg.Endpoint, cfg.MinPositionMM, cfg.MaxPositionMM, cfg.MaxVelocityMMs, cfg.ReadingRateHz)

	// 2) Подготовка транспорта. Аппаратной привязки библиотека не несет:
	// здесь используется виртуальная каретка, реальная подставляется
	// реализацией motion.Connector поверх вендорского SDK.
	connector := sim.NewConnector()
	connector.Attach("/dev/ttyUSB0", sim.NewStage(motion.Identity{
		SerialNumber:    "49942",
		Name:            "X-LSM100A",
		FirmwareVersion: "7.38",
		DeviceType:      "linear stage",
	}, 50081))

	client, err := zaber.New(cfg, connector)
	if err != nil {
		log.Fatalf("Ошибка создания клиента: %v", err)
	}
	defer client.Disconnect()

	// 3) Сканирование портов
	runStep("ScanDevices", func() error {
		devices := client.ScanDevices()
		printAsJSON("DiscoveredDevices", devices)
		if len(devices) > 0 {
			return client.SaveDiscoveredDevices(devices, "discovered_devices.json")
		}
		return nil
	})

	// 4) Подключение
	runStep("Connect", func() error {
		if err := client.Connect(); err != nil {
			return err
		}
		printAsJSON("DeviceInfo", client.DeviceInfo())
		return nil
	})

	// 5) Калибровка
	runStep("Home", func() error {
		if err := client.Home(); err != nil {
			return err
		}
		// Команда неблокирующая: дожидаемся фактической остановки по статусу
		waitUntilIdle(client)
		printAsJSON("StatusAfterHoming", client.Status())
		return nil
	})

	// 6) Абсолютное перемещение с ограничением пределов
	runStep("MoveTo", func() error {
		if err := client.MoveTo(cfg.MaxPositionMM + 50.0); err != nil {
			return err
		}
		waitUntilIdle(client)
		log.Printf("Позиция после перемещения за предел: %.3f mm (предел %.3f mm)",
			client.Position(), cfg.MaxPositionMM)
		printAsJSON("StatusAfterMove", client.Status())
		return nil
	})

	// 7) Непрерывное движение и остановка
	runStep("VelocitySweep", func() error {
		if err := client.SetVelocity(-cfg.MaxVelocityMMs / 2); err != nil {
			return err
		}
		time.Sleep(200 * time.Millisecond)
		printAsJSON("StatusWhileMoving", client.Status())
		return client.Stop()
	})

	// 8) Сохранение конфигурации
	runStep("SaveConfig", func() error {
		return client.SaveConfig()
	})

	log.Println("Демонстрация завершена.")
}

// waitUntilIdle ждет, пока каретка не остановится, с ограничением времени.
func waitUntilIdle(client *zaber.Client) {
	deadline := time.Now().Add(5 * time.Second)
	for client.IsMoving() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
}

// printAsJSON форматирует данные в JSON и выводит в лог
func printAsJSON(name string, data interface{}) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.Printf("Ошибка маршалинга JSON для %s: %v", name, err)
		return
	}
	fmt.Printf("--- %s ---\n%s\n", name, string(jsonData))
}
