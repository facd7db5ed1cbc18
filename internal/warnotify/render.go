package warnotify

import (
	"fmt"
	"strings"
	"time"

	"github.com/clashwatch/cwbot/internal/clash"
	"github.com/clashwatch/cwbot/internal/i18n"
	"github.com/clashwatch/cwbot/internal/ratelimit"
)

func renderTicker(snapshot *clash.WarSnapshot, remaining time.Duration, lang string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(
		i18n.Get("War against %s: %s remaining", lang),
		snapshot.Opponent.Name,
		ratelimit.HumanizeDuration(remaining, lang),
	))
	b.WriteString(fmt.Sprintf("\n⭐ %d : %d ⭐", snapshot.Clan.Stars, snapshot.Opponent.Stars))

	perMember := snapshot.AttacksPer
	if perMember == 0 {
		perMember = 2
	}
	used := 0
	for _, member := range snapshot.Clan.Members {
		used += len(member.Attacks)
	}
	b.WriteString(fmt.Sprintf("\n⚔️ %d/%d", used, len(snapshot.Clan.Members)*perMember))
	return b.String()
}

func renderReminder(snapshot *clash.WarSnapshot, lang string) string {
	var b strings.Builder
	b.WriteString(i18n.Get("War ends in about 6 hours! Attacks left:", lang))

	pending := snapshot.AttacksLeft()
	if len(pending) == 0 {
		b.WriteString(" " + i18n.Get("everyone has attacked", lang))
		return b.String()
	}

	perMember := snapshot.AttacksPer
	if perMember == 0 {
		perMember = 2
	}
	for _, member := range pending {
		b.WriteString(fmt.Sprintf("\n• %s — %d", member.Name, perMember-len(member.Attacks)))
	}
	return b.String()
}
