package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-sentinel/internal/signal"
)

// Notification 封装告警上下文。
type Notification struct {
	Key        signal.Key
	Level      signal.Level
	Regime     signal.Regime
	Title      string
	Message    string
	Price      decimal.Decimal
	Value      decimal.Decimal
	Source     string
	DetectedAt time.Time
	Channels   []string
}

// NotificationFromEvent builds the outbound message for an emitted event.
func NotificationFromEvent(ev signal.Event, channels []string) Notification {
	return Notification{
		Key:        ev.Key,
		Level:      ev.Level,
		Regime:     ev.Regime,
		Title:      fmt.Sprintf("%s %s", ev.Level, ev.Key),
		Message:    ev.Message,
		Price:      ev.Reading.Price,
		Value:      ev.Reading.Value,
		Source:     ev.Reading.Source,
		DetectedAt: ev.DetectedAt,
		Channels:   channels,
	}
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// NotificationError reports a failed delivery on one channel.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送 HTML 文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if err := n.send(ctx, renderHTML(note)); err != nil {
		return &NotificationError{Channel: "telegram", Err: err}
	}
	n.logger.Info().Str("key", note.Key.String()).
		Str("level", string(note.Level)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && result.Description != "" {
			return fmt.Errorf("telegram 响应码异常: %d: %s", resp.StatusCode, result.Description)
		}
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}
	if decodeErr == nil && !result.OK {
		return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
	}
	return nil
}

func levelEmoji(l signal.Level) string {
	switch l {
	case signal.LevelCritical:
		return "🚨"
	case signal.LevelWarning:
		return "⚠️"
	case signal.LevelGreen:
		return "✅"
	default:
		return "ℹ️"
	}
}

func renderHTML(note Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n", levelEmoji(note.Level), html.EscapeString(note.Title))
	if note.Message != "" {
		b.WriteString(html.EscapeString(note.Message))
		b.WriteString("\n")
	}
	if note.Regime != "" {
		fmt.Fprintf(&b, "Regime: <code>%s</code>\n", note.Regime)
	}
	if !note.Price.IsZero() {
		fmt.Fprintf(&b, "Price: %s\n", note.Price.StringFixed(2))
	}
	if note.Source != "" {
		fmt.Fprintf(&b, "Source: %s\n", html.EscapeString(note.Source))
	}
	if !note.DetectedAt.IsZero() {
		fmt.Fprintf(&b, "<i>%s UTC</i>", note.DetectedAt.UTC().Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds the log channel.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify never fails.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	var evt *zerolog.Event
	switch note.Level {
	case signal.LevelCritical:
		evt = n.logger.Error()
	case signal.LevelWarning:
		evt = n.logger.Warn()
	default:
		evt = n.logger.Info()
	}
	evt.Str("key", note.Key.String()).
		Str("level", string(note.Level)).
		Str("regime", string(note.Regime)).
		Str("price", note.Price.String()).
		Str("value", note.Value.String()).
		Msg(note.Message)
	return nil
}

// MultiNotifier fans a notification out to every channel; one failing channel
// does not stop the others.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier drops nil entries.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of channels.
func (m *MultiNotifier) Len() int { return len(m.notifiers) }

// Notify delivers to all channels and joins the failures.
func (m *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*MultiNotifier)(nil)
)
