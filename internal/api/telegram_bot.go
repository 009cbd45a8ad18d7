// Package api provides handlers for external APIs and interfaces
package api

import (
	"context"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lmoreira/aquaflow/internal/entities"
	"github.com/lmoreira/aquaflow/internal/usecases"
)

// TelegramBot handles interactions with the Telegram API
type TelegramBot struct {
	bot         *tgbotapi.BotAPI
	useCase     *usecases.FlowUseCase
	alertChatID int64
}

// NewTelegramBot creates a new Telegram bot handler. alertChatID is the
// chat that receives leak alerts; zero disables push alerts.
func NewTelegramBot(botToken string, useCase *usecases.FlowUseCase, alertChatID int64) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %v", err)
	}

	return &TelegramBot{
		bot:         bot,
		useCase:     useCase,
		alertChatID: alertChatID,
	}, nil
}

// Start begins listening for and handling Telegram messages
func (t *TelegramBot) Start() {
	log.Printf("Authorized on Telegram account %s", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	log.Println("Bot is now listening for messages...")

	for update := range updates {
		if update.Message == nil {
			continue
		}

		// Log incoming messages
		log.Printf("Received message from %s (ID: %d): %s",
			update.Message.From.UserName,
			update.Message.From.ID,
			update.Message.Text)

		t.handleMessage(update)
	}
}

// RunAlertNotifier polls for unnotified leak events and pushes them to the
// alert chat. Blocks until the context is cancelled.
func (t *TelegramBot) RunAlertNotifier(ctx context.Context, interval time.Duration) {
	if t.alertChatID == 0 {
		log.Println("No alert chat configured, leak alerts disabled")
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	log.Printf("Leak alert notifier running every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Alert notifier stopped")
			return
		case <-ticker.C:
			t.sendPendingAlerts()
		}
	}
}

// sendPendingAlerts delivers every unnotified leak event to the alert chat
func (t *TelegramBot) sendPendingAlerts() {
	events, err := t.useCase.GetUnnotifiedLeakEvents()
	if err != nil {
		log.Printf("Error fetching unnotified leak events: %v", err)
		return
	}

	for _, ev := range events {
		msg := tgbotapi.NewMessage(t.alertChatID, t.useCase.FormatLeakEvent(ev))
		if _, err := t.bot.Send(msg); err != nil {
			log.Printf("Error sending leak alert for event %d: %v", ev.ID, err)
			continue
		}
		if err := t.useCase.MarkLeakNotified(ev.ID); err != nil {
			log.Printf("Error marking leak event %d notified: %v", ev.ID, err)
		}
	}
}

// handleMessage processes a Telegram message update
func (t *TelegramBot) handleMessage(update tgbotapi.Update) {
	msg := tgbotapi.NewMessage(update.Message.Chat.ID, "")

	switch {
	case update.Message.IsCommand():
		t.handleCommand(update.Message, &msg)
	default:
		t.handleNonCommand(update.Message, &msg)
	}

	log.Printf("Sending response to user %s", update.Message.From.UserName)
	if _, err := t.bot.Send(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

// handleCommand processes commands like /start, /usage, etc.
func (t *TelegramBot) handleCommand(message *tgbotapi.Message, msg *tgbotapi.MessageConfig) {
	switch message.Command() {
	case "start":
		log.Printf("Handling /start command for user %s", message.From.UserName)
		msg.Text = "Welcome to the aquaflow monitor! Use /usage to see your water consumption or /help for more information."

	case "help":
		log.Printf("Handling /help command for user %s", message.From.UserName)
		msg.Text = "Available commands:\n" +
			"/start - Start the bot\n" +
			"/usage [today|week|month] - Show water consumption\n" +
			"/report - Show hourly consumption over the last 24h\n" +
			"/forecast - Show predicted consumption\n" +
			"/leaks - Show recent leak events\n" +
			"/status - Show the current reading per sensor\n" +
			"/channels - List the monitored sensors\n" +
			"/help - Show this help message"

	case "usage":
		args := message.CommandArguments()
		log.Printf("Handling /usage command with args '%s' for user %s", args, message.From.UserName)
		t.handleUsageCommand(args, msg)

	case "report":
		log.Printf("Handling /report command for user %s", message.From.UserName)
		t.handleReportCommand(msg)

	case "forecast":
		log.Printf("Handling /forecast command for user %s", message.From.UserName)
		t.handleForecastCommand(msg)

	case "leaks":
		log.Printf("Handling /leaks command for user %s", message.From.UserName)
		t.handleLeaksCommand(msg)

	case "status":
		log.Printf("Handling /status command for user %s", message.From.UserName)
		t.handleStatusCommand(msg)

	case "channels":
		log.Printf("Handling /channels command for user %s", message.From.UserName)
		t.handleChannelsCommand(msg)

	default:
		log.Printf("Received unknown command /%s from user %s", message.Command(), message.From.UserName)
		msg.Text = "Unknown command. Use /help to see available commands."
	}
}

// handleUsageCommand processes the /usage [period] command
func (t *TelegramBot) handleUsageCommand(args string, msg *tgbotapi.MessageConfig) {
	period := args
	if period == "" {
		period = "today"
	}

	summary, err := t.useCase.SummarizePeriod(period)
	if err != nil {
		msg.Text = "Please specify a valid period: /usage today, /usage week or /usage month."
		log.Printf("Error summarizing period: %v", err)
		return
	}

	msg.Text = t.useCase.FormatSummary(period, summary)
}

// handleReportCommand processes the /report command
func (t *TelegramBot) handleReportCommand(msg *tgbotapi.MessageConfig) {
	hours, err := t.useCase.HourlyVolumes(entities.ChannelMains, time.Now().Add(-24*time.Hour))
	if err != nil {
		msg.Text = "Error fetching hourly data. Please try again later."
		log.Printf("Error fetching hourly volumes: %v", err)
		return
	}

	msg.Text = t.useCase.FormatHourlyReport(hours)
}

// handleForecastCommand processes the /forecast command
func (t *TelegramBot) handleForecastCommand(msg *tgbotapi.MessageConfig) {
	forecasts, err := t.useCase.GetForecasts(entities.ModelMovingAverage)
	if err != nil {
		msg.Text = "Error fetching forecast data. Please try again later."
		log.Printf("Error fetching forecasts: %v", err)
		return
	}

	msg.Text = t.useCase.FormatForecasts(forecasts)
}

// handleLeaksCommand processes the /leaks command
func (t *TelegramBot) handleLeaksCommand(msg *tgbotapi.MessageConfig) {
	events, err := t.useCase.GetLeakEvents(time.Now().AddDate(0, 0, -7))
	if err != nil {
		msg.Text = "Error fetching leak data. Please try again later."
		log.Printf("Error fetching leak events: %v", err)
		return
	}

	if len(events) == 0 {
		msg.Text = "No leak events in the last 7 days. 🎉"
		return
	}

	msg.Text = fmt.Sprintf("%d leak event(s) in the last 7 days:\n\n", len(events))
	for _, ev := range events {
		msg.Text += t.useCase.FormatLeakEvent(ev) + "\n\n"
	}
}

// handleStatusCommand processes the /status command
func (t *TelegramBot) handleStatusCommand(msg *tgbotapi.MessageConfig) {
	status, err := t.useCase.FormatStatus()
	if err != nil {
		msg.Text = "Error fetching sensor status. Please try again later."
		log.Printf("Error fetching status: %v", err)
		return
	}

	msg.Text = status
}

// handleChannelsCommand processes the /channels command
func (t *TelegramBot) handleChannelsCommand(msg *tgbotapi.MessageConfig) {
	channels, err := t.useCase.GetChannels()
	if err != nil {
		msg.Text = "Error fetching sensor data. Please try again later."
		log.Printf("Error fetching channels: %v", err)
		return
	}

	if len(channels) == 0 {
		msg.Text = "No sensors have reported yet."
		return
	}

	lastUpdate, _ := t.useCase.GetLastUpdateTime()

	msg.Text = "Monitored sensors:\n\n"
	for _, channel := range channels {
		msg.Text += "• " + channel + "\n"
	}
	msg.Text += "\nUse /status to see the current readings."
	msg.Text += fmt.Sprintf("\n\n🕒 Last update: %s", lastUpdate.Format("2006-01-02 15:04:05"))
}

// handleNonCommand processes regular messages through the NL interpreter
func (t *TelegramBot) handleNonCommand(message *tgbotapi.Message, msg *tgbotapi.MessageConfig) {
	log.Printf("Received non-command message from user %s: %s", message.From.UserName, message.Text)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	response, err := t.useCase.HandleNaturalLanguageQuery(ctx, message.Text)
	if err != nil {
		msg.Text = "I don't understand. Use /help to see available commands."
		log.Printf("Error handling natural language query: %v", err)
		return
	}

	msg.Text = response
}
