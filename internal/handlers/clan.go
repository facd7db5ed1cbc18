package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/clashwatch/cwbot/internal/bot"
	"github.com/clashwatch/cwbot/internal/clash"
	"github.com/clashwatch/cwbot/internal/db"
	"github.com/clashwatch/cwbot/internal/i18n"
	"github.com/clashwatch/cwbot/internal/ratelimit"
)

type clanFetcher interface {
	CurrentWar(ctx context.Context, clanTag string) (*clash.WarSnapshot, error)
	ClanByTag(ctx context.Context, clanTag string) (*clash.ClanInfo, error)
}

type clanStore interface {
	UpsertClan(ctx context.Context, clan *db.Clan) error
	GetClan(ctx context.Context, chatID int64) (*db.Clan, error)
	GetNotifyPreference(ctx context.Context, chatID, userID int64) (*db.NotifyPreference, error)
	SetNotifyPreference(ctx context.Context, pref *db.NotifyPreference) error
}

// Clans binds a chat to a Clash of Clans clan and answers war queries
// against the live API.
type Clans struct {
	s     bot.Service
	store clanStore
	coc   clanFetcher
	ops   adminOps
}

func NewClans(s bot.Service, store clanStore, coc clanFetcher, ops adminOps) *Clans {
	return &Clans{s: s, store: store, coc: coc, ops: ops}
}

func (c *Clans) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	command := bot.CommandFromUpdate(u)
	if command == "" || chat == nil || user == nil {
		return true, nil
	}

	lang := c.s.GetLanguage(ctx, chat.ID, user)
	switch command {
	case "reg_clan":
		c.handleRegister(ctx, chat, user, lang, u.Message)
	case "clan_info":
		c.handleInfo(ctx, chat, lang, u.Message)
	case "war_status":
		c.handleWarStatus(ctx, chat, lang, u.Message)
	case "notify_on":
		c.handleNotify(ctx, chat, user, lang, u.Message, true)
	case "notify_off":
		c.handleNotify(ctx, chat, user, lang, u.Message, false)
	default:
		return true, nil
	}
	return false, nil
}

func (c *Clans) handleRegister(ctx context.Context, chat *api.Chat, user *api.User, lang string, msg *api.Message) {
	isAdmin, err := c.ops.IsChatAdmin(ctx, chat.ID, user.ID)
	if err != nil {
		c.getLogEntry().WithField("error", err.Error()).Error("failed to check admin rights")
		return
	}
	if !isAdmin {
		c.reply(chat.ID, msg.MessageID, i18n.Get("This command is for administrators only", lang))
		return
	}

	tag := NormalizeClanTag(msg.CommandArguments())
	if tag == "" {
		c.reply(chat.ID, msg.MessageID, "usage: /reg_clan <clan tag>")
		return
	}

	info, err := c.coc.ClanByTag(ctx, tag)
	if err != nil {
		c.getLogEntry().WithField("error", err.Error()).Error("failed to fetch clan")
		c.reply(chat.ID, msg.MessageID, i18n.Get("Too many requests, please try again later", lang))
		return
	}
	if info == nil {
		c.reply(chat.ID, msg.MessageID, fmt.Sprintf(i18n.Get("Clan not found: %s", lang), tag))
		return
	}

	if err := c.store.UpsertClan(ctx, &db.Clan{
		Tag:          info.Tag,
		ChatID:       chat.ID,
		Name:         info.Name,
		RegisteredAt: time.Now(),
	}); err != nil {
		c.getLogEntry().WithField("error", err.Error()).Error("failed to save clan")
		c.reply(chat.ID, msg.MessageID, "storage error")
		return
	}
	c.reply(chat.ID, msg.MessageID, fmt.Sprintf(i18n.Get("Clan registered: %s", lang), info.Name))
}

func (c *Clans) handleInfo(ctx context.Context, chat *api.Chat, lang string, msg *api.Message) {
	clan, err := c.registeredClan(ctx, chat.ID, lang, msg)
	if clan == nil || err != nil {
		return
	}

	info, err := c.coc.ClanByTag(ctx, clan.Tag)
	if err != nil || info == nil {
		if err != nil {
			c.getLogEntry().WithField("error", err.Error()).Error("failed to fetch clan")
		}
		c.reply(chat.ID, msg.MessageID, i18n.Get("Too many requests, please try again later", lang))
		return
	}
	c.reply(chat.ID, msg.MessageID, fmt.Sprintf("%s %s\n%s", info.Name, info.Tag,
		fmt.Sprintf(i18n.Get("Level %d, %d members", lang), info.Level, info.Members)))
}

func (c *Clans) handleWarStatus(ctx context.Context, chat *api.Chat, lang string, msg *api.Message) {
	clan, err := c.registeredClan(ctx, chat.ID, lang, msg)
	if clan == nil || err != nil {
		return
	}

	war, err := c.coc.CurrentWar(ctx, clan.Tag)
	if err != nil {
		c.getLogEntry().WithField("error", err.Error()).Error("failed to fetch war")
		c.reply(chat.ID, msg.MessageID, i18n.Get("Too many requests, please try again later", lang))
		return
	}
	if war == nil || war.State == clash.WarStateNotInWar || war.State == clash.WarStateEnded {
		c.reply(chat.ID, msg.MessageID, i18n.Get("The clan is not at war right now", lang))
		return
	}
	if war.State == clash.WarStatePreparation {
		remaining := time.Until(war.StartTime.Time)
		c.reply(chat.ID, msg.MessageID, fmt.Sprintf(i18n.Get("War against %s starts in %s", lang),
			war.Opponent.Name, ratelimit.HumanizeDuration(remaining, lang)))
		return
	}

	remaining := time.Until(war.EndTime.Time)
	text := fmt.Sprintf(i18n.Get("War against %s: %s remaining", lang),
		war.Opponent.Name, ratelimit.HumanizeDuration(remaining, lang))
	text += fmt.Sprintf("\n⭐ %d : %d", war.Clan.Stars, war.Opponent.Stars)
	c.reply(chat.ID, msg.MessageID, text)
}

func (c *Clans) handleNotify(ctx context.Context, chat *api.Chat, user *api.User, lang string, msg *api.Message, enable bool) {
	if err := c.store.SetNotifyPreference(ctx, &db.NotifyPreference{
		UserID:        user.ID,
		ChatID:        chat.ID,
		AllowMentions: enable,
		AllowDM:       enable,
	}); err != nil {
		c.getLogEntry().WithField("error", err.Error()).Error("failed to save notify preference")
		c.reply(chat.ID, msg.MessageID, "storage error")
		return
	}
	key := "Mentions disabled"
	if enable {
		key = "Mentions enabled"
	}
	c.reply(chat.ID, msg.MessageID, i18n.Get(key, lang))
}

func (c *Clans) registeredClan(ctx context.Context, chatID int64, lang string, msg *api.Message) (*db.Clan, error) {
	clan, err := c.store.GetClan(ctx, chatID)
	if err != nil {
		c.getLogEntry().WithField("error", err.Error()).Error("failed to load clan")
		c.reply(chatID, msg.MessageID, "storage error")
		return nil, err
	}
	if clan == nil {
		c.reply(chatID, msg.MessageID, i18n.Get("No clan is registered for this chat", lang))
		return nil, nil
	}
	return clan, nil
}

// NormalizeClanTag uppercases a tag and ensures the leading '#'. Empty
// input normalizes to "".
func NormalizeClanTag(raw string) string {
	tag := strings.ToUpper(strings.TrimSpace(raw))
	if tag == "" {
		return ""
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return tag
}

func (c *Clans) reply(chatID int64, messageID int, text string) {
	reply := api.NewMessage(chatID, text)
	reply.ReplyParameters = api.ReplyParameters{
		ChatID:                   chatID,
		MessageID:                messageID,
		AllowSendingWithoutReply: true,
	}
	reply.DisableNotification = true
	if _, err := c.s.GetBot().Send(reply); err != nil {
		c.getLogEntry().WithField("error", err.Error()).Error("failed to send reply")
	}
}

func (c *Clans) getLogEntry() *log.Entry {
	return log.WithField("object", "Clans")
}
