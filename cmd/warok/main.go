package main

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log"
	"log/slog"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	sloggger "github.com/jnjlab/warok/cmd/warok/log"
	"github.com/jnjlab/warok/internal/bot"
	"github.com/jnjlab/warok/internal/config"
	"github.com/jnjlab/warok/internal/device"
	"github.com/jnjlab/warok/internal/event"
	"github.com/jnjlab/warok/internal/remote/discord"
	ngrokremote "github.com/jnjlab/warok/internal/remote/ngrok"
	"github.com/jnjlab/warok/internal/remote/telegram"
	"github.com/jnjlab/warok/internal/server"
	"github.com/jnjlab/warok/internal/utils"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

var (
	buildID   string
	buildTime string
)

// wrapWithRecover wraps a function with panic recovery logic
func wrapWithRecover(logger *slog.Logger, f func() error) func() error {
	return func() error {
		defer func() {
			if r := recover(); r != nil {
				stackTrace := debug.Stack()
				errMsg := fmt.Sprintf("panic recovered: %v\nStacktrace: %s", r, stackTrace)
				logger.Error(errMsg)
				sloggger.FlushLog()
			}
		}()
		return f()
	}
}

func main() {

	_ = buildID
	_ = buildTime

	// .env can carry tokens that should not live in the YAML config
	_ = godotenv.Load()

	err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %s", err.Error())
		return
	}

	if config.Warok.AutoStart.DelaySeconds <= 0 {
		config.Warok.AutoStart.DelaySeconds = 60
	}

	logger, err := sloggger.NewLogger(config.Warok.Debug.Log, config.Warok.LogSaveDirectory, "")
	if err != nil {
		log.Fatalf("Error starting logger: %s", err.Error())
	}
	defer sloggger.FlushAndClose()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	eventListener := event.NewListener(logger)
	manager := bot.NewSupervisorManager(logger, eventListener)

	srv, err := server.New(logger, manager)
	if err != nil {
		log.Fatalf("Error starting local server: %s", err.Error())
	}

	localAddr := fmt.Sprintf("http://localhost:%d", config.Warok.ServerPort)
	var ngrokTunnel *ngrokremote.Tunnel
	if config.Warok.Ngrok.Enabled {
		if config.Warok.Ngrok.Authtoken == "" && os.Getenv("NGROK_AUTHTOKEN") == "" {
			logger.Warn("ngrok enabled but no authtoken set; skipping tunnel start")
		} else {
			opts := ngrokremote.Options{
				LocalAddr:     localAddr,
				Authtoken:     config.Warok.Ngrok.Authtoken,
				Region:        config.Warok.Ngrok.Region,
				Domain:        config.Warok.Ngrok.Domain,
				BasicAuthUser: config.Warok.Ngrok.BasicAuthUser,
				BasicAuthPass: config.Warok.Ngrok.BasicAuthPass,
			}
			tunnel, err := ngrokremote.Start(ctx, logger, opts)
			if err != nil {
				logger.Error("ngrok tunnel failed to start", slog.Any("error", err))
			} else if config.Warok.Ngrok.SendURL {
				go event.Send(event.TunnelEstablished(event.Text("warok", "remote access available"), tunnel.URL()))
			}
			ngrokTunnel = tunnel
		}
	}

	capture := func(ctx context.Context, target string) ([]byte, error) {
		cfg, found := config.GetTarget(target)
		if !found {
			return nil, fmt.Errorf("target %s not found", target)
		}
		img, err := device.NewWeston(cfg.Device.Display, logger).Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	if config.Warok.Discord.Enabled {
		discordBot, err := discord.NewBot(
			config.Warok.Discord.Token,
			config.Warok.Discord.ChannelID,
			manager,
			config.Warok.Discord.UseWebhook,
			config.Warok.Discord.WebhookURL,
		)
		if err != nil {
			logger.Error("Discord could not been initialized", slog.Any("error", err))
			return
		}
		discordBot.SetCapture(capture)

		eventListener.Register(discordBot.Handle)
		g.Go(wrapWithRecover(logger, func() error {
			return discordBot.Start(ctx)
		}))
	}

	if config.Warok.Telegram.Enabled {
		telegramBot, err := telegram.NewBot(config.Warok.Telegram.Token, config.Warok.Telegram.ChatID, manager, logger)
		if err != nil {
			logger.Error("Telegram could not been initialized", slog.Any("error", err))
			return
		}

		eventListener.Register(telegramBot.Handle)
		g.Go(wrapWithRecover(logger, func() error {
			defer telegramBot.Close()
			return telegramBot.Start(ctx)
		}))
	}

	if config.Warok.FirstRun {
		logger.Info("First run detected, save the settings through /api/config to finish setup")
	}

	if config.Warok.AutoStart.Enabled && !config.Warok.FirstRun {
		go func() {
			logger.Info("Auto start enabled, waiting before starting targets",
				slog.Int("delaySeconds", config.Warok.AutoStart.DelaySeconds))
			utils.Sleep(config.Warok.AutoStart.DelaySeconds * 1000)
			for _, name := range manager.AvailableSupervisors() {
				target := name
				go func() {
					if err := manager.Start(ctx, target); err != nil {
						logger.Error("auto start failed",
							slog.String("target", target), slog.Any("error", err))
					}
				}()
			}
		}()
	}

	g.Go(wrapWithRecover(logger, func() error {
		defer cancel()
		return srv.Listen(config.Warok.ServerPort)
	}))

	g.Go(wrapWithRecover(logger, func() error {
		defer cancel()
		return eventListener.Listen(ctx)
	}))

	g.Go(wrapWithRecover(logger, func() error {
		<-ctx.Done()
		logger.Info("Warok shutting down...")
		cancel()
		manager.StopAll()
		err = srv.Stop()
		if err != nil {
			logger.Error("error stopping local server", slog.Any("error", err))
		}
		if ngrokTunnel != nil {
			if closeErr := ngrokTunnel.Close(); closeErr != nil {
				logger.Error("error stopping ngrok tunnel", slog.Any("error", closeErr))
			}
		}

		return err
	}))

	err = g.Wait()
	if err != nil {
		cancel()
		logger.Error("Error running Warok", slog.Any("error", err))
		return
	}

	sloggger.FlushAndClose()
}
