package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/homekitknock/knockd/internal/banner"
	"github.com/homekitknock/knockd/internal/config"
	"github.com/homekitknock/knockd/internal/device"
	"github.com/homekitknock/knockd/internal/logger"
	"github.com/homekitknock/knockd/internal/rtsp"
	"github.com/homekitknock/knockd/internal/sip"
)

func main() {
	cfg := config.Load()
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	// Synthetic devices stand in for the camera and audio hardware.
	camera := device.NewPatternCamera(640, 480)
	mic := device.NewToneSource(16000, 440)
	speaker := device.NewDiscardSink(16000)
	encoder := device.NewCannedAAC(16000)

	client, err := sip.NewClient(cfg, mic, speaker)
	if err != nil {
		slog.Error("SIP engine startup failed", "error", err)
		os.Exit(1)
	}

	server := rtsp.NewServer(cfg, camera, encoder)
	if err := server.Listen(); err != nil {
		slog.Error("RTSP server startup failed", "error", err)
		os.Exit(1)
	}

	banner.Print("knockd - doorbell engine", []banner.ConfigLine{
		{Label: "SIP account", Value: cfg.SIPUser + "@" + cfg.SIPDomain},
		{Label: "SIP proxy", Value: cfg.ProxyHostPort()},
		{Label: "Ring target", Value: cfg.RingTarget},
		{Label: "SIP port", Value: strconv.Itoa(client.LocalSIPPort())},
		{Label: "RTP port", Value: strconv.Itoa(client.LocalRTPPort())},
		{Label: "RTSP port", Value: strconv.Itoa(server.Port())},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go client.Run(ctx)
	go server.Run(ctx)

	go logEvents(client)

	// SIGUSR1 stands in for the doorbell button
	button := make(chan os.Signal, 1)
	signal.Notify(button, syscall.SIGUSR1)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-button:
			slog.Info("Button pressed", "target", cfg.RingTarget)
			if err := client.Ring(cfg.RingTarget); err != nil {
				slog.Warn("Ring failed", "error", err)
			}
		case sig := <-stop:
			slog.Info("Shutting down", "signal", sig.String())
			cancel()
			time.Sleep(200 * time.Millisecond)
			return
		}
	}
}

func logEvents(client *sip.Client) {
	for evt := range client.Events() {
		switch evt.Type {
		case sip.EventDTMF:
			slog.Info("DTMF key", "digit", string(evt.Digit))
		case sip.EventRingTick:
			slog.Debug("Ring tick")
		case sip.EventRegisterFailed:
			slog.Warn("Registration failed", "detail", evt.Detail)
		default:
			slog.Info("Engine event", "type", evt.Type.String(), "detail", evt.Detail)
		}
	}
}
