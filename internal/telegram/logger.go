package telegram

import (
	"fmt"
	"log/slog"
	"strings"
)

// slogBotLogger adapts slog.Logger to tgbotapi.BotLogger so library logs go
// through slog. The library logs request URLs, which embed the bot token.
type slogBotLogger struct {
	log   *slog.Logger
	token string
}

func (s *slogBotLogger) Println(v ...any) {
	s.log.Warn(s.redact(fmt.Sprint(v...)))
}

func (s *slogBotLogger) Printf(format string, v ...any) {
	s.log.Warn(s.redact(fmt.Sprintf(format, v...)))
}

func (s *slogBotLogger) redact(msg string) string {
	if s.token == "" {
		return msg
	}
	return strings.ReplaceAll(msg, s.token, "<redacted>")
}
