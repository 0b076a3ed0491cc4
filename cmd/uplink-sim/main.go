package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"uplinkdash/telemetry-server/internal/logging"
	"uplinkdash/telemetry-server/internal/synthetic"
)

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	interval := flag.Duration("interval", 30*time.Second, "Interval between published rounds (one uplink per synthetic device)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for generated readings")
	qos := flag.Int("qos", 0, "MQTT QoS for published uplinks")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")

	flag.Parse()

	logger := logging.New(os.Stdout, *logLevel)

	clientID := fmt.Sprintf("uplink-sim-%s", uuid.NewString()[:8])
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("failed to connect to broker", "broker", *brokerAddr, "error", token.Error())
		os.Exit(1)
	}
	logger.Info("connected to MQTT broker", "broker", *brokerAddr, "client_id", clientID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen := synthetic.New(*seed)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	publish := func(at time.Time) {
		uplinks, err := gen.Tick(at)
		if err != nil {
			logger.Error("failed to generate uplinks", "error", err)
			return
		}

		for _, u := range uplinks {
			topic := fmt.Sprintf("application/%s/device/%s/event/up", u.ApplicationID, u.DevEUI)
			token := client.Publish(topic, byte(*qos), false, u.Body)
			token.Wait()
			if err := token.Error(); err != nil {
				logger.Error("publish failed", "topic", topic, "error", err)
				continue
			}
			logger.Debug("published uplink", "topic", topic, "bytes", len(u.Body))
		}
		logger.Info("published synthetic round", "devices", len(uplinks), "time", at.UTC().Format(time.RFC3339))
	}

	publish(time.Now())

	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case now := <-ticker.C:
			publish(now)
		}
	}
}
