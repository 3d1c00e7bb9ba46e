package impl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evkuzin/weatherlogger/storage"
	"github.com/evkuzin/weatherlogger/weather_station"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

var buttons = tgbotapi.NewReplyKeyboard(
	tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton("avg stats"),
	),
)

// summaryWindow is the longest average reported by the bot.
const summaryWindow = 12 * time.Hour

// Telegram answers every chat message with the latest reading and recent
// averages. Send failures are logged only.
type Telegram struct {
	tg      *tgbotapi.BotAPI
	source  ReadingSource
	archive storage.Adapter
	logger  *logrus.Logger
	now     func() time.Time
}

// NewTelegram reads from archive when it is not nil and from source
// otherwise or when the archive fails.
func NewTelegram(key string, debug bool, source ReadingSource, archive storage.Adapter, logger *logrus.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(key)
	if err != nil {
		return nil, err
	}
	bot.Debug = debug
	logger.Infof("Telegram authorized on account %s", bot.Self.UserName)
	return &Telegram{tg: bot, source: source, archive: archive, logger: logger, now: time.Now}, nil
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.tg.GetUpdatesChan(u)
	defer t.tg.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				t.logger.Warn("telegram updates closed")
				updates = nil
				continue
			}
			if update.Message == nil {
				continue
			}
			t.reply(update.Message)
		}
	}
}

func (t *Telegram) reply(in *tgbotapi.Message) {
	log := t.logger.WithField("task", t.Name())
	if in.From != nil {
		log.Infof("[%s] %s", in.From.UserName, in.Text)
	}
	msg := tgbotapi.NewMessage(in.Chat.ID, summary(t.readings(log), t.now()))
	msg.ReplyToMessageID = in.MessageID
	msg.ReplyMarkup = buttons
	if _, err := t.tg.Send(msg); err != nil {
		log.Warnf("error: %s", err)
	}
}

func (t *Telegram) readings(log *logrus.Entry) []weather_station.Reading {
	if t.archive != nil {
		readings, err := t.archive.GetEvents(summaryWindow)
		if err == nil {
			return readings
		}
		log.Warnf("cannot query archive, using log files: %s", err)
	}
	readings, err := t.source.Readings()
	if err != nil {
		log.Warnf("cannot load readings: %s", err)
	}
	return readings
}

// summary formats the last reading and the averages over the last 12h, 6h
// and 1h.
func summary(readings []weather_station.Reading, now time.Time) string {
	last, ok := latest(readings)
	if !ok {
		return "No readings yet\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current: %.1f°C %.1f%% at %s\n",
		last.Temperature, last.Humidity,
		time.Unix(last.Timestamp, 0).UTC().Format("2006-01-02 15:04"))
	for _, window := range []time.Duration{12 * time.Hour, 6 * time.Hour, time.Hour} {
		avg, ok := average(readings, now.Add(-window).Unix())
		if !ok {
			fmt.Fprintf(&b, "%s avg: n/a\n", shortDuration(window))
			continue
		}
		fmt.Fprintf(&b, "%s avg: %.1f°C %.1f%%\n", shortDuration(window), avg.Temperature, avg.Humidity)
	}
	return b.String()
}

func shortDuration(d time.Duration) string {
	return fmt.Sprintf("%dh", int(d/time.Hour))
}
