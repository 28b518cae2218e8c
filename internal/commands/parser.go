package commands

import (
	"regexp"
	"strings"
)

// Command identifies a bot command verb.
type Command int

const (
	CmdNone Command = iota
	CmdRemember
	CmdForget
	CmdQuote
	CmdMash
	CmdHelp
)

func (c Command) String() string {
	switch c {
	case CmdRemember:
		return "remember"
	case CmdForget:
		return "forget"
	case CmdQuote:
		return "quote"
	case CmdMash:
		return "mash"
	case CmdHelp:
		return "help"
	default:
		return "chat"
	}
}

// Parsed is one command line split into its verb and arguments.
type Parsed struct {
	Command     Command
	AuthorToken string
	QueryText   string
}

var (
	rememberRe  = regexp.MustCompile(`(?is)^remember\s+(\S+)(?:\s+(.*))?$`)
	forgetRe    = regexp.MustCompile(`(?is)^forget\s+(\S+)(?:\s+(.*))?$`)
	quoteMashRe = regexp.MustCompile(`(?is)^quotemash(?:\s+(\S+))?(?:\s+(.*))?$`)
	quoteRe     = regexp.MustCompile(`(?is)^quote(?:\s+(\S+))?(?:\s+(.*))?$`)
	tokenMashRe = regexp.MustCompile(`(?is)^(\S+)mash$`)
	helpRe      = regexp.MustCompile(`(?i)^help$`)
)

// Parser recognizes lines addressed to the bot, e.g. "bb quote alice pizza".
type Parser struct {
	prefix *regexp.Regexp
}

func NewParser(botName string) *Parser {
	return &Parser{prefix: regexp.MustCompile(`(?is)^` + regexp.QuoteMeta(botName) + `(?:\s+(.*))?$`)}
}

// Parse returns the command on line, or false when the line is ordinary chat.
func (p *Parser) Parse(line string) (Parsed, bool) {
	m := p.prefix.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Parsed{}, false
	}
	return ParseCommand(m[1])
}

// ParseCommand parses a line with the bot prefix already removed.
func ParseCommand(rest string) (Parsed, bool) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Parsed{}, false
	}
	if m := rememberRe.FindStringSubmatch(rest); m != nil {
		return Parsed{Command: CmdRemember, AuthorToken: m[1], QueryText: strings.TrimSpace(m[2])}, true
	}
	if m := forgetRe.FindStringSubmatch(rest); m != nil {
		return Parsed{Command: CmdForget, AuthorToken: m[1], QueryText: strings.TrimSpace(m[2])}, true
	}
	// quotemash before quote and <token>mash, both of which would also match.
	if m := quoteMashRe.FindStringSubmatch(rest); m != nil {
		return Parsed{Command: CmdMash, AuthorToken: m[1], QueryText: strings.TrimSpace(m[2])}, true
	}
	if m := quoteRe.FindStringSubmatch(rest); m != nil {
		return Parsed{Command: CmdQuote, AuthorToken: m[1], QueryText: strings.TrimSpace(m[2])}, true
	}
	if m := tokenMashRe.FindStringSubmatch(rest); m != nil {
		return Parsed{Command: CmdMash, AuthorToken: m[1]}, true
	}
	if helpRe.MatchString(rest) {
		return Parsed{Command: CmdHelp}, true
	}
	return Parsed{}, false
}
