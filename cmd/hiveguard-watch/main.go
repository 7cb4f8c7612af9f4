// hiveguard-watch 消费端命令行工具：
// 从本地计时镜像恢复气泵计时，查询服务端激活历史与实时读数；
// --follow 模式下直接订阅设备的气泵主题并维护本地镜像。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"hiveguard-telemetry/internal/apiclient"
	"hiveguard-telemetry/internal/config"
	"hiveguard-telemetry/internal/models"
	"hiveguard-telemetry/internal/timerstate"
	"hiveguard-telemetry/internal/topic"

	mqttcommon "hiveguard-telemetry/internal/mqtt"

	"go.uber.org/zap"
)

func main() {
	var (
		apiURL    = flag.String("api", "http://localhost:8080", "telemetry API base URL")
		tenantID  = flag.String("tenant", "", "tenant id (for history queries)")
		secret    = flag.String("secret", "", "tenant MQTT secret")
		deviceID  = flag.String("device", "", "device id")
		statePath = flag.String("state", defaultStatePath(), "local timer mirror path")
		follow    = flag.Bool("follow", false, "subscribe to the device's pump topic and keep the mirror updated")
		broker    = flag.String("broker", "tcp://localhost:1883", "MQTT broker (follow mode)")
	)
	flag.Parse()

	if *deviceID == "" {
		log.Fatal("-device is required")
	}

	store, err := timerstate.NewStore(*statePath)
	if err != nil {
		log.Fatalf("Failed to open timer mirror: %v", err)
	}
	defer store.Close()

	// 先从本地镜像恢复计时展示（不依赖服务器）
	if state, err := store.Load(*deviceID); err != nil {
		log.Printf("Timer mirror unreadable: %v", err)
	} else if state != nil {
		fmt.Printf("Air pump running for %s (since %s)\n",
			models.FormatDuration(state.Elapsed),
			state.StartedAt.Local().Format("15:04:05"),
		)
	} else {
		fmt.Println("Air pump not running (no local timer state)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := apiclient.New(*apiURL)

	if health, err := client.Healthz(ctx); err != nil {
		fmt.Printf("Service unreachable: %v\n", err)
	} else {
		fmt.Printf("Service: %s (broker connected: %v, open sessions: %d)\n",
			health.Status, health.MQTTConnected, health.OpenSessions)
	}

	if *tenantID != "" {
		printHistory(ctx, client, *tenantID, *deviceID)
	}

	if *secret != "" {
		fmt.Println("Fetching current readings...")
		readings, err := client.CurrentReadings(ctx, *secret, *deviceID, 10*time.Second)
		switch {
		case err == apiclient.ErrTimeout:
			fmt.Println("Unable to reach sensors")
		case err != nil:
			fmt.Printf("Readings failed: %v\n", err)
		default:
			fmt.Printf("Temperature: %.1f°C  Humidity: %.1f%%\n", readings.Temperature, readings.Humidity)
		}
	}

	if !*follow {
		return
	}
	if *secret == "" {
		log.Fatal("-secret is required with -follow")
	}

	followPump(ctx, store, *broker, *secret, *deviceID)
}

// printHistory 打印最近10条激活历史
func printHistory(ctx context.Context, client *apiclient.Client, tenantID, deviceID string) {
	list, err := client.ListActivations(ctx, tenantID, deviceID)
	if err != nil {
		fmt.Printf("History failed: %v\n", err)
		return
	}

	if list.CurrentSession != nil {
		fmt.Printf("Server reports pump running since %s\n",
			list.CurrentSession.StartedAt.Local().Format("15:04:05"))
	}

	fmt.Printf("Last %d activations:\n", len(list.Activations))
	for _, record := range list.Activations {
		fmt.Printf("  %s  %s\n", record.Date, record.Duration)
	}
}

// followPump 订阅气泵主题并维护本地计时镜像
func followPump(ctx context.Context, store *timerstate.Store, broker, secret, deviceID string) {
	zapLogger := zap.NewNop()

	mqttCfg := &config.MQTTConfig{
		Broker:        broker,
		ClientID:      "hiveguard-watch-" + deviceID,
		RetryInterval: 5 * time.Second,
	}
	conn, err := mqttcommon.NewClient(mqttCfg, zapLogger)
	if err != nil {
		log.Fatalf("Failed to connect to broker: %v", err)
	}
	defer conn.Disconnect()

	pumpTopic := topic.Encode(secret, deviceID, topic.MetricAirPump)
	err = conn.Subscribe(pumpTopic, 1, func(_ string, payload []byte) error {
		state := strings.TrimSpace(string(payload))
		switch models.PumpState(state) {
		case models.PumpOn:
			if err := store.Save(deviceID, time.Now()); err != nil {
				log.Printf("Failed to save timer state: %v", err)
			}
			fmt.Println("Air pump ON — timer started")
		case models.PumpOff:
			if err := store.Clear(deviceID); err != nil {
				log.Printf("Failed to clear timer state: %v", err)
			}
			fmt.Println("Air pump OFF — timer cleared")
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}

	fmt.Printf("Following %s (ctrl-c to stop)\n", pumpTopic)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hiveguard-watch.db"
	}
	return filepath.Join(home, ".hiveguard-watch.db")
}
