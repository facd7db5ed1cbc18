package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/clashwatch/cwbot/internal/bot"
	"github.com/clashwatch/cwbot/internal/i18n"
	"github.com/clashwatch/cwbot/internal/ratelimit"
)

const defaultManualBlockMinutes = 60

type adminOps interface {
	IsChatAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Admin exposes the block registry to chat administrators: listing active
// blocks, manual block/unblock and per-user violation statistics.
type Admin struct {
	s        bot.Service
	registry *ratelimit.Registry
	ops      adminOps
}

func NewAdmin(s bot.Service, registry *ratelimit.Registry, ops adminOps) *Admin {
	return &Admin{s: s, registry: registry, ops: ops}
}

func (a *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	command := bot.CommandFromUpdate(u)
	if command == "" || chat == nil || user == nil {
		return true, nil
	}

	switch command {
	case "blocked", "block", "unblock", "violations":
	default:
		return true, nil
	}

	lang := a.s.GetLanguage(ctx, chat.ID, user)
	isAdmin, err := a.ops.IsChatAdmin(ctx, chat.ID, user.ID)
	if err != nil {
		a.getLogEntry().WithField("error", err.Error()).Error("failed to check admin rights")
		return false, nil
	}
	if !isAdmin {
		a.reply(chat.ID, u.Message.MessageID, i18n.Get("This command is for administrators only", lang))
		return false, nil
	}

	switch command {
	case "blocked":
		a.handleBlocked(ctx, chat, lang, u.Message)
	case "block":
		a.handleBlock(ctx, chat, user, lang, u.Message)
	case "unblock":
		a.handleUnblock(ctx, chat, lang, u.Message)
	case "violations":
		a.handleViolations(ctx, chat, lang, u.Message)
	}
	return false, nil
}

func (a *Admin) handleBlocked(ctx context.Context, chat *api.Chat, lang string, msg *api.Message) {
	blocks, err := a.registry.ListBlocked(ctx, chat.ID)
	if err != nil {
		a.getLogEntry().WithField("error", err.Error()).Error("failed to list blocks")
		a.reply(chat.ID, msg.MessageID, "storage error")
		return
	}
	if len(blocks) == 0 {
		a.reply(chat.ID, msg.MessageID, i18n.Get("No one is blocked in this chat", lang))
		return
	}

	var b strings.Builder
	b.WriteString(i18n.Get("Blocked users:", lang))
	now := time.Now()
	for _, block := range blocks {
		b.WriteString(fmt.Sprintf("\n• %d — %s (%s)",
			block.UserID,
			block.Reason,
			ratelimit.HumanizeDuration(block.BlockedUntil.Sub(now), lang),
		))
	}
	a.reply(chat.ID, msg.MessageID, b.String())
}

func (a *Admin) handleBlock(ctx context.Context, chat *api.Chat, admin *api.User, lang string, msg *api.Message) {
	targetID, args := targetFromMessage(msg)
	if targetID == 0 {
		a.reply(chat.ID, msg.MessageID, "usage: /block <user_id> [minutes], or reply to a message")
		return
	}
	minutes := defaultManualBlockMinutes
	if len(args) > 0 {
		if parsed, err := strconv.Atoi(args[0]); err == nil && parsed > 0 {
			minutes = parsed
		}
	}

	block, err := a.registry.ManualBlock(ctx, chat.ID, targetID, time.Duration(minutes)*time.Minute, admin.ID)
	if err != nil {
		a.getLogEntry().WithField("error", err.Error()).Error("failed to block user")
		a.reply(chat.ID, msg.MessageID, "storage error")
		return
	}
	a.reply(chat.ID, msg.MessageID, fmt.Sprintf("%s (%s)",
		i18n.Get("User blocked", lang),
		ratelimit.HumanizeDuration(block.BlockedUntil.Sub(block.BlockedAt), lang),
	))
}

func (a *Admin) handleUnblock(ctx context.Context, chat *api.Chat, lang string, msg *api.Message) {
	targetID, _ := targetFromMessage(msg)
	if targetID == 0 {
		a.reply(chat.ID, msg.MessageID, "usage: /unblock <user_id>, or reply to a message")
		return
	}

	removed, err := a.registry.Unblock(ctx, chat.ID, targetID)
	if err != nil {
		a.getLogEntry().WithField("error", err.Error()).Error("failed to unblock user")
		a.reply(chat.ID, msg.MessageID, "storage error")
		return
	}
	if removed {
		a.reply(chat.ID, msg.MessageID, i18n.Get("User unblocked", lang))
		return
	}
	// No block existed, still a success.
	a.reply(chat.ID, msg.MessageID, i18n.Get("User was not blocked", lang))
}

func (a *Admin) handleViolations(ctx context.Context, chat *api.Chat, lang string, msg *api.Message) {
	targetID, _ := targetFromMessage(msg)
	if targetID == 0 {
		a.reply(chat.ID, msg.MessageID, "usage: /violations <user_id>, or reply to a message")
		return
	}

	violations, err := a.registry.UserStats(ctx, chat.ID, targetID)
	if err != nil {
		a.getLogEntry().WithField("error", err.Error()).Error("failed to load violations")
		a.reply(chat.ID, msg.MessageID, "storage error")
		return
	}
	if len(violations) == 0 {
		a.reply(chat.ID, msg.MessageID, i18n.Get("No violations on record", lang))
		return
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d:", targetID))
	for _, violation := range violations {
		b.WriteString(fmt.Sprintf("\n• %s /%s ×%d → %s",
			violation.ViolatedAt.Format("2006-01-02 15:04"),
			violation.Command,
			violation.CommandCount,
			ratelimit.HumanizeDuration(time.Duration(violation.BlockDuration)*time.Second, lang),
		))
	}
	a.reply(chat.ID, msg.MessageID, b.String())
}

// targetFromMessage resolves the target user from a reply or from the first
// numeric argument, returning the remaining arguments.
func targetFromMessage(msg *api.Message) (int64, []string) {
	args := strings.Fields(msg.CommandArguments())
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		return msg.ReplyToMessage.From.ID, args
	}
	if len(args) == 0 {
		return 0, nil
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, nil
	}
	return targetID, args[1:]
}

func (a *Admin) reply(chatID int64, messageID int, text string) {
	reply := api.NewMessage(chatID, text)
	reply.ReplyParameters = api.ReplyParameters{
		ChatID:                   chatID,
		MessageID:                messageID,
		AllowSendingWithoutReply: true,
	}
	reply.DisableNotification = true
	if _, err := a.s.GetBot().Send(reply); err != nil {
		a.getLogEntry().WithField("error", err.Error()).Error("failed to send reply")
	}
}

func (a *Admin) getLogEntry() *log.Entry {
	return log.WithField("object", "Admin")
}
