package clash

import (
	"strings"
	"time"
)

const (
	WarStateNotInWar    = "notInWar"
	WarStatePreparation = "preparation"
	WarStateInWar       = "inWar"
	WarStateEnded       = "warEnded"

	// Timestamp layout used by the Clash of Clans API.
	apiTimeLayout = "20060102T150405.000Z"
)

type (
	WarSnapshot struct {
		State      string  `json:"state"`
		TeamSize   int     `json:"teamSize"`
		StartTime  Time    `json:"startTime"`
		EndTime    Time    `json:"endTime"`
		Clan       WarClan `json:"clan"`
		Opponent   WarClan `json:"opponent"`
		AttacksPer int     `json:"attacksPerMember"`
	}

	WarClan struct {
		Tag     string      `json:"tag"`
		Name    string      `json:"name"`
		Stars   int         `json:"stars"`
		Members []WarMember `json:"members"`
	}

	WarMember struct {
		Tag     string      `json:"tag"`
		Name    string      `json:"name"`
		Attacks []WarAttack `json:"attacks"`
	}

	WarAttack struct {
		Stars                 int `json:"stars"`
		DestructionPercentage int `json:"destructionPercentage"`
	}

	ClanInfo struct {
		Tag     string `json:"tag"`
		Name    string `json:"name"`
		Level   int    `json:"clanLevel"`
		Members int    `json:"members"`
	}

	Time struct {
		time.Time
	}
)

func (t *Time) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	parsed, err := time.Parse(apiTimeLayout, raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// AttacksLeft returns members that still have unused attacks, keeping the
// roster order.
func (w *WarSnapshot) AttacksLeft() []WarMember {
	perMember := w.AttacksPer
	if perMember == 0 {
		perMember = 2
	}
	var pending []WarMember
	for _, member := range w.Clan.Members {
		if len(member.Attacks) < perMember {
			pending = append(pending, member)
		}
	}
	return pending
}
