package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"emby-entitlement-bot/internal/config"
	"emby-entitlement-bot/internal/domain"
	"emby-entitlement-bot/internal/domain/model"
	"emby-entitlement-bot/internal/domain/ports/adapter"
	"emby-entitlement-bot/internal/infra/metrics"
	"emby-entitlement-bot/internal/infra/redis"
	"emby-entitlement-bot/internal/usecase"
)

// Ensure interface compliance:
var _ adapter.Notifier = (*Bot)(nil)

const (
	rateLimitPerWindow = 20
	rateLimitWindow    = time.Minute
	maxBatchCodes      = 20
)

// Bot is the Telegram transport: it polls for updates with a worker pool,
// routes commands into the use cases, and doubles as the Notifier the sweeper
// sends expiry messages through.
type Bot struct {
	api       *tgbotapi.BotAPI
	cfg       *config.BotConfig
	serverURL string
	bindings  usecase.BindingUseCase
	codes     usecase.CodeUseCase
	limiter   *redis.RateLimiter
	log       *zerolog.Logger

	workers       int
	cancelPolling context.CancelFunc

	// send is the outbound edge; tests swap it for a recorder.
	send func(chatID int64, text string) error
}

func NewBot(
	cfg *config.BotConfig,
	serverURL string,
	bindings usecase.BindingUseCase,
	codes usecase.CodeUseCase,
	limiter *redis.RateLimiter,
	logger *zerolog.Logger,
) (*Bot, error) {
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	if bindings == nil || codes == nil {
		return nil, errors.New("use cases are nil")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}

	botLog := logger.With().Str("component", "TelegramBot").Logger()
	b := &Bot{
		api:       api,
		cfg:       cfg,
		serverURL: serverURL,
		bindings:  bindings,
		codes:     codes,
		limiter:   limiter,
		log:       &botLog,
		workers:   workers,
	}
	b.send = b.sendAPI
	return b, nil
}

// Send implements adapter.Notifier.
func (b *Bot) Send(ctx context.Context, telegramID int64, text string) error {
	return b.send(telegramID, text)
}

func (b *Bot) sendAPI(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}

// StartPolling polls Telegram and fans updates out to the worker pool.
// It runs until ctx is canceled.
func (b *Bot) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	b.cancelPolling = cancel

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case update, ok := <-updateChan:
					if !ok {
						return
					}
					b.handleUpdate(ctx, update)
				case <-ctx.Done():
					return
				}
			}
		}(i + 1)
	}

	go func() {
		defer close(updateChan)
		for {
			select {
			case update := <-updates:
				select {
				case updateChan <- update:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	b.log.Info().Int("workers", b.workers).Msg("Telegram polling started")
	<-ctx.Done()
	b.api.StopReceivingUpdates()
	wg.Wait()
	return nil
}

// StopPolling stops the polling loop gracefully.
func (b *Bot) StopPolling() {
	if b.cancelPolling != nil {
		b.cancelPolling()
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	from := msg.From

	if !msg.IsCommand() {
		b.reply(from.ID, "Send /help for the list of commands.")
		return
	}

	command := msg.Command()
	metrics.IncTelegramCommand(command)

	allowed, err := b.limiter.Allow(ctx,
		redis.UserCommandKey(from.ID, command), rateLimitPerWindow, rateLimitWindow)
	if err != nil {
		// Redis trouble must not lock users out.
		b.log.Warn().Err(err).Msg("rate limiter unavailable")
		allowed = true
	}
	if !allowed {
		metrics.IncTelegramRateLimited()
		b.reply(from.ID, "⏳ Too many requests, slow down.")
		return
	}

	reply := b.dispatch(ctx, from.ID, from.UserName, command, msg.CommandArguments())
	if reply != "" {
		b.reply(from.ID, reply)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.send(chatID, text); err != nil {
		b.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
	}
}

func (b *Bot) dispatch(ctx context.Context, tgID int64, username, command, args string) string {
	fields := strings.Fields(args)

	switch command {
	case "start", "help":
		return helpText(b.bindings.IsAdmin(tgID))

	case "register":
		if len(fields) != 1 {
			return "Usage: /register <code>"
		}
		res, err := b.bindings.Register(ctx, tgID, username, fields[0])
		if err != nil {
			return renderError(err)
		}
		metrics.IncRegistrations()
		b.notifyAdmins(adminRegistrationNotice(res))
		return registrationMessage(res, b.serverURL)

	case "renew":
		if len(fields) != 1 {
			return "Usage: /renew <code>"
		}
		res, err := b.bindings.Renew(ctx, tgID, fields[0])
		if err != nil {
			return renderError(err)
		}
		metrics.IncRenewals("self")
		return renewalMessage(res)

	case "my_info":
		binding, err := b.bindings.Info(ctx, tgID)
		if err != nil {
			return renderError(err)
		}
		return infoMessage(binding, time.Now())

	case "user_list":
		if !b.bindings.IsAdmin(tgID) {
			return renderError(domain.ErrNotAuthorized)
		}
		bindings, err := b.bindings.List(ctx)
		if err != nil {
			return renderError(err)
		}
		return userListMessage(bindings, time.Now())

	case "code_list":
		if !b.bindings.IsAdmin(tgID) {
			return renderError(domain.ErrNotAuthorized)
		}
		codes, err := b.codes.List(ctx, true)
		if err != nil {
			return renderError(err)
		}
		return codeListMessage(codes)

	case "token_gen":
		return b.generateCodes(ctx, tgID, model.CodeKindRegister, fields)

	case "renew_gen":
		return b.generateCodes(ctx, tgID, model.CodeKindRenew, fields)

	case "renew_user":
		if len(fields) != 2 {
			return "Usage: /renew_user <emby_username> <days>"
		}
		days, err := strconv.Atoi(fields[1])
		if err != nil {
			return renderError(domain.ErrInvalidArgument)
		}
		res, err := b.bindings.AdminRenew(ctx, tgID, fields[0], days)
		if err != nil {
			return renderError(err)
		}
		metrics.IncRenewals("admin")
		return renewalMessage(res)

	case "user_del":
		if len(fields) != 1 {
			return "Usage: /user_del <emby_username>"
		}
		binding, err := b.bindings.AdminDelete(ctx, tgID, fields[0])
		if err != nil {
			return renderError(err)
		}
		return "🗑 Deleted account " + binding.EmbyUsername + "."

	default:
		return "Unknown command. Send /help for the list of commands."
	}
}

func (b *Bot) generateCodes(ctx context.Context, tgID int64, kind model.CodeKind, fields []string) string {
	if !b.bindings.IsAdmin(tgID) {
		return renderError(domain.ErrNotAuthorized)
	}
	if len(fields) < 1 || len(fields) > 2 {
		return "Usage: /" + genCommandName(kind) + " <days> [count]"
	}
	days, err := strconv.Atoi(fields[0])
	if err != nil {
		return renderError(domain.ErrInvalidArgument)
	}
	count := 1
	if len(fields) == 2 {
		count, err = strconv.Atoi(fields[1])
		if err != nil || count < 1 || count > maxBatchCodes {
			return renderError(domain.ErrInvalidArgument)
		}
	}

	tokens := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := b.codes.Issue(ctx, kind, days)
		if err != nil {
			return renderError(err)
		}
		metrics.IncCodesIssued(string(kind))
		tokens = append(tokens, code.Code)
	}
	return codesIssuedMessage(kind, days, tokens)
}

func genCommandName(kind model.CodeKind) string {
	if kind == model.CodeKindRenew {
		return "renew_gen"
	}
	return "token_gen"
}

func (b *Bot) notifyAdmins(text string) {
	for _, adminID := range b.cfg.AdminIDs {
		if err := b.send(adminID, text); err != nil {
			b.log.Warn().Err(err).Int64("admin_id", adminID).Msg("failed to notify admin")
		}
	}
}
