package commands

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/antoniostano/brobbot/internal/logger"
	"github.com/antoniostano/brobbot/internal/memory"
	"github.com/antoniostano/brobbot/internal/observability"
	"github.com/antoniostano/brobbot/internal/protocol"
	"github.com/antoniostano/brobbot/internal/quotes"
	"github.com/antoniostano/brobbot/internal/redact"
)

// Engine is the quote engine surface the dispatcher drives.
type Engine interface {
	Observe(ctx context.Context, authorID, text string, at time.Time)
	Remember(ctx context.Context, authorToken, queryText string) (memory.Record, error)
	Forget(ctx context.Context, authorToken, queryText string) (memory.Record, error)
	Quote(ctx context.Context, authorToken, queryText string) []memory.Record
	Mash(ctx context.Context, authorToken, queryText string) []memory.Record
	MarkQuoted(records []memory.Record)
}

// Names renders author ids for replies.
type Names interface {
	DisplayName(authorID string) string
}

const (
	replyRememberFailed = "no."
	replyForgetFailed   = "nope."
	replyQuoteEmpty     = "nah."
	replyMashEmpty      = "いいえ。"
)

var helpEntries = [][2]string{
	{"remember `user` `text`", "remember most recent message from `user` containing `text`"},
	{"forget `user` `text`", "forget most recent remembered message from `user` containing `text`"},
	{"quote [`user`] [`text`]", "quote a random remembered message that is from `user` and/or contains `text`"},
	{"quotemash [`user`] [`text`]", "quote some random remembered messages that are from `user` and/or contain `text`"},
	{"`user`mash", "quote some random remembered messages that are from `user`"},
	{"`text`mash", "quote some random remembered messages that contain `text`"},
	{"/`regex`/mash", "quote some random remembered messages that match `regex`"},
}

// Reply is the bot's answer to one command.
type Reply struct {
	Command string
	Text    string
}

// Dispatcher feeds every chat message to the quote cache and answers the
// quote commands addressed to the bot.
type Dispatcher struct {
	botName string
	parser  *Parser
	engine  Engine
	names   Names
	log     *logger.Logger
	metrics *observability.Metrics
}

func NewDispatcher(botName string, engine Engine, names Names, log *logger.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		botName: botName,
		parser:  NewParser(botName),
		engine:  engine,
		names:   names,
		log:     logger.OrNop(log).With("component", "commands"),
		metrics: metrics,
	}
}

// Handle observes msg and, when it is a command, returns the reply. The
// line is cached only after the command has run, so a command can never
// select itself as its candidate.
func (d *Dispatcher) Handle(ctx context.Context, msg protocol.ChatMessage) (Reply, bool) {
	defer d.engine.Observe(ctx, msg.AuthorID, msg.Text, msg.SentAt())

	parsed, ok := d.parser.Parse(msg.Text)
	d.metrics.IncChatMessage(parsed.Command.String())
	if !ok {
		return Reply{}, false
	}
	d.log.Debug("command", "command", parsed.Command.String(), "author_id", msg.AuthorID, "token", redact.ForLog(parsed.AuthorToken), "query", redact.ForLog(parsed.QueryText))

	reply := Reply{Command: parsed.Command.String()}
	switch parsed.Command {
	case CmdRemember:
		r, err := d.engine.Remember(ctx, parsed.AuthorToken, parsed.QueryText)
		if err != nil {
			d.logPromotionFailure(parsed, err)
			reply.Text = replyRememberFailed
			break
		}
		reply.Text = "remembering " + d.format(r)
	case CmdForget:
		r, err := d.engine.Forget(ctx, parsed.AuthorToken, parsed.QueryText)
		if err != nil {
			d.logPromotionFailure(parsed, err)
			reply.Text = replyForgetFailed
			break
		}
		reply.Text = "forgot: " + d.format(r)
	case CmdQuote:
		records := d.engine.Quote(ctx, parsed.AuthorToken, parsed.QueryText)
		if len(records) == 0 {
			reply.Text = replyQuoteEmpty
			break
		}
		reply.Text = d.format(records[0])
		d.engine.MarkQuoted(records[:1])
	case CmdMash:
		records := d.engine.Mash(ctx, parsed.AuthorToken, parsed.QueryText)
		if len(records) == 0 {
			reply.Text = replyMashEmpty
			break
		}
		lines := make([]string, 0, len(records))
		for _, r := range records {
			lines = append(lines, d.format(r))
		}
		reply.Text = strings.Join(lines, "\n\n")
		d.engine.MarkQuoted(records)
	case CmdHelp:
		reply.Text = d.Help()
	}
	return reply, true
}

// Help renders the command table.
func (d *Dispatcher) Help() string {
	lines := make([]string, 0, len(helpEntries))
	for _, e := range helpEntries {
		lines = append(lines, d.botName+" "+e[0]+" - "+e[1])
	}
	return strings.Join(lines, "\n")
}

func (d *Dispatcher) format(r memory.Record) string {
	return d.names.DisplayName(r.AuthorID) + ": " + r.Text
}

func (d *Dispatcher) logPromotionFailure(p Parsed, err error) {
	if errors.Is(err, quotes.ErrAuthorNotFound) || errors.Is(err, quotes.ErrNoCandidate) {
		return
	}
	d.log.Warn("promotion command failed", "command", p.Command.String(), "token", redact.ForLog(p.AuthorToken), "error", err)
}
