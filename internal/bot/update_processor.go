package bot

import (
	"context"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/clashwatch/cwbot/internal/ratelimit"
)

const (
	UpdateTimeout = 5 * time.Minute
)

// UpdateProcessor routes incoming updates: command messages pass the rate
// limit gate first, then every registered handler in order until one claims
// the update.
type UpdateProcessor struct {
	s              Service
	gate           *ratelimit.Gate
	updateHandlers []Handler
}

func NewUpdateProcessor(s Service, gate *ratelimit.Gate, handlers ...Handler) *UpdateProcessor {
	return &UpdateProcessor{
		s:              s,
		gate:           gate,
		updateHandlers: handlers,
	}
}

func (up *UpdateProcessor) Process(ctx context.Context, u *api.Update) error {
	if u == nil {
		return errors.New("update is nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if u.Message != nil && time.Since(time.Unix(int64(u.Message.Date), 0)) > UpdateTimeout {
		log.WithField("age", time.Since(time.Unix(int64(u.Message.Date), 0))).Debug("Skipping outdated update")
		return nil
	}

	chat := u.FromChat()
	user := u.SentFrom()

	if command := CommandFromUpdate(u); command != "" && chat != nil && user != nil {
		lang := up.s.GetLanguage(ctx, chat.ID, user)
		decision := up.gate.Check(ctx, user.ID, chat.ID, command, lang)
		if !decision.Allowed {
			if decision.Message != "" {
				reply := api.NewMessage(chat.ID, decision.Message)
				reply.ReplyParameters = api.ReplyParameters{
					ChatID:                   chat.ID,
					MessageID:                u.Message.MessageID,
					AllowSendingWithoutReply: true,
				}
				reply.DisableNotification = true
				if _, err := up.s.GetBot().Send(reply); err != nil {
					log.WithField("error", err.Error()).Error("failed to send rate limit reply")
				}
			}
			return nil
		}
	}

	for _, handler := range up.updateHandlers {
		if handler == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			proceed, err := handler.Handle(ctx, u, chat, user)
			if err != nil {
				return errors.WithMessage(err, "handling error")
			}
			if !proceed {
				log.Trace("not proceeding")
				return nil
			}
		}
	}
	return nil
}

// CommandFromUpdate extracts the bare command name ("clan_info") from a
// command message, stripping the bot mention suffix. Empty for anything
// that is not a command.
func CommandFromUpdate(u *api.Update) string {
	if u == nil || u.Message == nil || !u.Message.IsCommand() {
		return ""
	}
	command := u.Message.Command()
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}
	return command
}

func GetUpdatesChans(ctx context.Context, bot *api.BotAPI, config api.UpdateConfig) (api.UpdatesChannel, chan error) {
	ch := make(chan api.Update, bot.Buffer)
	chErr := make(chan error)

	go func() {
		defer close(ch)
		defer close(chErr)
		for {
			select {
			case <-ctx.Done():
				chErr <- ctx.Err()
				return
			default:
				updates, err := bot.GetUpdates(config)
				if err != nil {
					chErr <- err
					return
				}

				for _, update := range updates {
					if update.UpdateID >= config.Offset {
						config.Offset = update.UpdateID + 1
						select {
						case ch <- update:
						case <-ctx.Done():
							chErr <- ctx.Err()
							return
						}
					}
				}
			}
		}
	}()

	return ch, chErr
}

func GetUN(user *api.User) string {
	if user == nil {
		return ""
	}
	userName := user.UserName
	if len(userName) == 0 {
		userName = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	return userName
}
