package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/clashwatch/cwbot/internal/bot"
	"github.com/clashwatch/cwbot/internal/clash"
	"github.com/clashwatch/cwbot/internal/config"
	"github.com/clashwatch/cwbot/internal/db/sqlite"
	"github.com/clashwatch/cwbot/internal/handlers"
	"github.com/clashwatch/cwbot/internal/infrastructure/telegram"
	"github.com/clashwatch/cwbot/internal/lifecycle"
	"github.com/clashwatch/cwbot/internal/observability"
	"github.com/clashwatch/cwbot/internal/ratelimit"
	"github.com/clashwatch/cwbot/internal/warnotify"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithField("error", err.Error()).Fatalln("cant load config")
	}
	log.SetFormatter(&config.CwFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	recoverable(func() {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
		if err != nil {
			log.WithError(err).Errorln("cant initialize bot api")
			time.Sleep(1 * time.Second)
			log.Fatalln("exiting")
		}
		if log.Level(cfg.LogLevel) == log.TraceLevel {
			botAPI.Debug = true
		}
		defer botAPI.StopReceivingUpdates()

		dbClient := sqlite.NewSQLiteClient("bot.db")
		defer dbClient.Close()

		observability.Init(cfg.MetricsAddr)

		clock := ratelimit.SystemClock{}
		registry := ratelimit.NewRegistry(dbClient, clock, cfg.RateLimit.ViolationTTL)
		gate := ratelimit.NewGate(cfg.RateLimit, registry, clock)

		ops := telegram.NewOperations(botAPI)
		coc := clash.NewClient(cfg.ClashAPIBaseURL, cfg.ClashAPIToken)
		tracker := warnotify.NewTracker(dbClient, ops, clock, cfg.WarNotify.ReminderMin, cfg.WarNotify.ReminderMax, cfg.DefaultLanguage)
		scheduler := warnotify.NewScheduler(cfg.WarNotify, dbClient, coc, tracker)

		components := lifecycle.NewRuntime()
		components.Register("war-scheduler", scheduler)
		if err := components.Start(ctx); err != nil {
			log.WithError(err).Fatalln("cant start components")
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer stopCancel()
			if err := components.Stop(stopCtx); err != nil {
				log.WithError(err).Errorln("component shutdown failed")
			}
		}()

		service := bot.NewService(botAPI, dbClient, cfg)
		updateProcessor := bot.NewUpdateProcessor(service, gate,
			handlers.NewAdmin(service, registry, ops),
			handlers.NewClans(service, dbClient, coc, ops),
		)

		updateConfig := api.NewUpdate(0)
		updateConfig.Timeout = 60
		updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)

		for {
			select {
			case err := <-errorChan:
				log.WithError(err).Fatalln("bot api get updates error")
			case update := <-updateChan:
				if err := updateProcessor.Process(ctx, &update); err != nil {
					log.WithError(err).Errorln("cant process update")
				}
			case <-ctx.Done():
				log.WithError(ctx.Err()).Errorln("no more updates")
				return
			}
		}
	})
}

func recoverable(f func()) {
	defer func() {
		if err := recover(); err != nil {
			log.Errorf(`panic with message: %s, %s\n`, err, identifyPanic())
			time.Sleep(5 * time.Second)
			recoverable(f)
		}
	}()
	log.Debug("going recoverable")
	f()
}

func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}

	return fmt.Sprintf("pc:%x", pc)
}
