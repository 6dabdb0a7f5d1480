package tracker

// CommandType names one outbound mutation. The values double as wire
// type discriminators.
type CommandType string

const (
	CmdDeath       CommandType = "bb-death"
	CmdBossDeath   CommandType = "bb-boss-death"
	CmdBossStart   CommandType = "bb-boss-start"
	CmdBossPause   CommandType = "bb-boss-pause"
	CmdBossResume  CommandType = "bb-boss-resume"
	CmdBossVictory CommandType = "bb-boss-victory"
	CmdBossCancel  CommandType = "bb-boss-cancel"
	CmdStartTimer  CommandType = "bb-start"
	CmdStopTimer   CommandType = "bb-stop"
	CmdReset       CommandType = "bb-reset"
	CmdSetTime     CommandType = "bb-set-time"
	CmdSetDeaths   CommandType = "bb-set-deaths"
)

// Command is one outbound mutation request. Only the fields relevant to
// the type are consulted.
type Command struct {
	Type    CommandType
	Name    string // bb-boss-victory
	Elapsed int64  // bb-set-time, milliseconds
	Deaths  int    // bb-set-deaths
}

// payload returns the wire shape for the command.
func (c Command) payload() any {
	switch c.Type {
	case CmdBossVictory:
		return bossVictoryMessage{Type: string(c.Type), Name: c.Name}
	case CmdSetTime:
		return setTimeMessage{Type: string(c.Type), Elapsed: c.Elapsed}
	case CmdSetDeaths:
		return setDeathsMessage{Type: string(c.Type), Deaths: c.Deaths}
	default:
		return commandMessage{Type: string(c.Type)}
	}
}
