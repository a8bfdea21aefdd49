// Package telegram is the chat front end: it long-polls the Bot API, hands
// each photo or video to the sanitization pipeline and replies with the
// cleaned file.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/safesend/safesend/internal/attachment"
	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/media"
	"github.com/safesend/safesend/internal/outcome"
	"github.com/safesend/safesend/internal/pipeline"
)

const maxLimiters = 10_000

// Processor is the part of the pipeline the bot depends on.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request, emit pipeline.EmitFunc) outcome.Result
}

// client is the subset of *tgbotapi.BotAPI the bot uses.
type client interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot runs the Telegram front end.
type Bot struct {
	api       client
	proc      Processor
	cfg       config.TelegramConfig
	sanitizer config.SanitizerConfig
	http      *http.Client
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New connects to the Bot API with the configured token.
func New(log *slog.Logger, cfg config.TelegramConfig, sanitizer config.SanitizerConfig, proc Processor) (*Bot, error) {
	if !cfg.Enabled() {
		return nil, errors.New("telegram bot token is not configured")
	}
	if log == nil {
		log = slog.Default()
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{
		log:   log.With(slog.String("component", "tgbotapi")),
		token: cfg.BotToken,
	})
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", redactURL(err))
	}
	b := newBot(log, api, cfg, sanitizer, proc)
	b.logger.Info("authorized", slog.String("username", api.Self.UserName))
	return b, nil
}

func newBot(log *slog.Logger, api client, cfg config.TelegramConfig, sanitizer config.SanitizerConfig, proc Processor) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		api:       api,
		proc:      proc,
		cfg:       cfg,
		sanitizer: sanitizer,
		http:      &http.Client{},
		logger:    log.With(slog.String("adapter", "telegram")),
		limiters:  map[int64]*rate.Limiter{},
	}
}

// Start begins long polling. Each update is handled on its own goroutine so
// a long video never blocks the loop.
func (b *Bot) Start(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := b.api.GetUpdatesChan(updateConfig)
	connCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.logger.Info("start polling")
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-connCtx.Done():
				b.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					b.logger.Info("updates channel closed")
					return
				}
				if update.Message == nil {
					continue
				}
				msg := update.Message
				b.wg.Add(1)
				go func() {
					defer b.wg.Done()
					b.handleMessage(connCtx, msg)
				}()
			}
		}
	}()
}

// Stop ends polling, cancels in-flight requests and waits for them to clean
// up, or for ctx to expire.
func (b *Bot) Stop(ctx context.Context) error {
	b.logger.Info("stop")
	if b.cancel != nil {
		b.cancel()
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inbound is a media attachment extracted from a message.
type inbound struct {
	kind     media.MediaType
	source   string
	fileID   string
	name     string
	mime     string
	size     int64
	document bool
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	log := b.logger.With(slog.Int64("chat_id", chatID))
	if msg.From != nil {
		log = log.With(slog.Int64("user_id", msg.From.ID))
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error("handle message panicked", slog.Any("panic", p))
			b.reply(chatID, genericErrorText, "")
		}
	}()

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.reply(chatID, welcomeText(b.sanitizer), tgbotapi.ModeMarkdown)
		case "help":
			b.reply(chatID, helpText, tgbotapi.ModeMarkdown)
		default:
			b.reply(chatID, unsupportedText, "")
		}
		return
	}

	in, ok := extractMedia(msg)
	if !ok {
		if strings.TrimSpace(msg.Text) != "" || msg.Document != nil {
			b.reply(chatID, unsupportedText, "")
		}
		return
	}
	log = log.With(slog.String("source", in.source))
	log.Info("media received", slog.Int64("declared_size", in.size))

	if !b.allow(chatID) {
		log.Warn("rate limited")
		b.reply(chatID, rateLimitedText, "")
		return
	}

	b.reply(chatID, processingText(in.kind), "")

	body := &lazyDownload{
		ctx:     ctx,
		client:  b.http,
		resolve: b.api.GetFileDirectURL,
		fileID:  in.fileID,
		timeout: b.cfg.DownloadTimeout(),
	}
	defer body.Close()

	res := b.proc.Process(ctx, pipeline.Request{
		Kind: in.kind,
		Name: in.name,
		Mime: in.mime,
		Size: in.size,
		Body: body,
	}, func(ctx context.Context, out pipeline.Output) error {
		return b.sendResult(ctx, chatID, msg.MessageID, in, out)
	})

	switch {
	case res.OK():
		log.Info("sent cleaned file")
	case res.Kind == outcome.KindCanceled:
		log.Info("request canceled")
	default:
		log.Info("request failed", slog.String("kind", string(res.Kind)))
		b.reply(chatID, failureText(res.Reason), "")
	}
}

func (b *Bot) sendResult(_ context.Context, chatID int64, replyTo int, in inbound, out pipeline.Output) error {
	rc, err := out.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	file := tgbotapi.FileReader{Name: out.Filename, Reader: rc}
	caption := doneCaption(in.kind)
	var c tgbotapi.Chattable
	switch {
	case in.document:
		doc := tgbotapi.NewDocument(chatID, file)
		doc.Caption, doc.ParseMode, doc.ReplyToMessageID = caption, tgbotapi.ModeMarkdown, replyTo
		c = doc
	case in.kind == media.MediaTypeVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption, video.ParseMode, video.ReplyToMessageID = caption, tgbotapi.ModeMarkdown, replyTo
		video.SupportsStreaming = true
		c = video
	default:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption, photo.ParseMode, photo.ReplyToMessageID = caption, tgbotapi.ModeMarkdown, replyTo
		c = photo
	}
	if _, err := b.api.Send(c); err != nil {
		return fmt.Errorf("send cleaned file: %w", redactURL(err))
	}
	return nil
}

func (b *Bot) reply(chatID int64, text, parseMode string) {
	message := tgbotapi.NewMessage(chatID, text)
	message.ParseMode = parseMode
	if _, err := b.api.Send(message); err != nil {
		b.logger.Warn("send message failed", slog.Int64("chat_id", chatID), slog.Any("error", redactURL(err)))
	}
}

// allow applies the per-chat rate limit. A non-positive limit disables it.
func (b *Bot) allow(chatID int64) bool {
	if b.cfg.RateLimitPerMinute <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.limiters[chatID]
	if !ok {
		if len(b.limiters) >= maxLimiters {
			b.pruneLimiters()
		}
		n := b.cfg.RateLimitPerMinute
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		b.limiters[chatID] = lim
	}
	return lim.Allow()
}

// pruneLimiters drops limiters that have refilled completely; they carry no
// state a fresh limiter would not. Caller holds mu.
func (b *Bot) pruneLimiters() {
	for id, lim := range b.limiters {
		if lim.Tokens() >= float64(lim.Burst()) {
			delete(b.limiters, id)
		}
	}
}

func extractMedia(msg *tgbotapi.Message) (inbound, bool) {
	switch {
	case len(msg.Photo) > 0:
		photo := pickTelegramPhoto(msg.Photo)
		return inbound{
			kind:   media.MediaTypeImage,
			source: "photo",
			fileID: photo.FileID,
			mime:   "image/jpeg",
			size:   int64(photo.FileSize),
		}, true
	case msg.Video != nil:
		return inbound{
			kind:   media.MediaTypeVideo,
			source: "video",
			fileID: msg.Video.FileID,
			name:   msg.Video.FileName,
			mime:   msg.Video.MimeType,
			size:   int64(msg.Video.FileSize),
		}, true
	case msg.VideoNote != nil:
		return inbound{
			kind:   media.MediaTypeVideo,
			source: "video_note",
			fileID: msg.VideoNote.FileID,
			mime:   "video/mp4",
			size:   int64(msg.VideoNote.FileSize),
		}, true
	case msg.Document != nil:
		kind, ok := attachment.MapMediaType("document", msg.Document.MimeType, msg.Document.FileName)
		if !ok {
			return inbound{}, false
		}
		return inbound{
			kind:     kind,
			source:   "document",
			fileID:   msg.Document.FileID,
			name:     msg.Document.FileName,
			mime:     msg.Document.MimeType,
			size:     int64(msg.Document.FileSize),
			document: true,
		}, true
	}
	return inbound{}, false
}

func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}
