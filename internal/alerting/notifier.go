package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sol-outflow-alerts/internal/ledger"
)

// Alert 描述一次大额转出。
type Alert struct {
	Account      string
	SentLamports int64
	Slot         uint64
	ObservedAt   time.Time
	ExplorerURL  string
}

// NewAlert 构造告警, 链接指向 explorerBase 下的账户页面。
func NewAlert(account string, sentLamports int64, slot uint64, observedAt time.Time, explorerBase string) Alert {
	return Alert{
		Account:      account,
		SentLamports: sentLamports,
		Slot:         slot,
		ObservedAt:   observedAt.UTC(),
		ExplorerURL:  AccountURL(explorerBase, account),
	}
}

// AccountURL 返回账户在区块浏览器中的地址。
func AccountURL(base, account string) string {
	if base == "" {
		base = "https://solscan.io"
	}
	return fmt.Sprintf("%s/account/%s", strings.TrimRight(base, "/"), account)
}

// SentSOL 返回可读的转出金额 (两位小数)。
func (a Alert) SentSOL() string {
	return ledger.FormatSOL(a.SentLamports)
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

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

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, alert Alert) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(alert),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		// url 中包含 bot token, 不能出现在日志里
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("account", alert.Account).
		Str("sent_sol", alert.SentSOL()).
		Msg("告警已发送 (Telegram)")
	return nil
}

// RenderMessage 生成各通道共用的告警文本。
func RenderMessage(alert Alert) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("🚨 %s SOL sent from %s\n", alert.SentSOL(), alert.Account))
	builder.WriteString(fmt.Sprintf("Time: %s\n", alert.ObservedAt.UTC().Format(time.RFC3339)))
	if alert.Slot != 0 {
		builder.WriteString(fmt.Sprintf("Slot: %d\n", alert.Slot))
	}
	if alert.ExplorerURL != "" {
		builder.WriteString(alert.ExplorerURL)
	}
	return builder.String()
}

// Multi 将告警分发到所有通道并合并错误。
type Multi []Notifier

// Notify 即使部分通道失败也会投递到全部通道。
func (m Multi) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = Multi(nil)
)
