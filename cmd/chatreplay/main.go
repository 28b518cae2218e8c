package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/brobbot/internal/protocol"
)

type options struct {
	baseURL      string
	botName      string
	authors      int
	rounds       int
	interLine    time.Duration
	replyTimeout time.Duration
	lines        []string
	verbose      bool
}

type wsEnvelope struct {
	Type      string `json:"type"`
	InReplyTo string `json:"in_reply_to,omitempty"`
	Command   string `json:"command,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Text      string `json:"text,omitempty"`
}

// step is one line of the replay; command lines expect a bot_reply.
type step struct {
	msg     protocol.ChatMessage
	command bool
}

var defaultLines = []string{
	"pineapple absolutely belongs on pizza",
	"tabs are better than spaces and I will die on this hill",
	"why is the build red again",
	"what if we just rewrote it",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatreplay: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "chatreplay: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var linesRaw string
	var interLineMS int
	var replyTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "brobbot base URL")
	flag.StringVar(&cfg.botName, "bot-name", "bb", "command prefix the bot answers to")
	flag.IntVar(&cfg.authors, "authors", 3, "number of synthetic authors")
	flag.IntVar(&cfg.rounds, "rounds", 5, "number of chat rounds to replay")
	flag.IntVar(&interLineMS, "inter-line-ms", 20, "delay between lines in milliseconds")
	flag.IntVar(&replyTimeoutMS, "reply-timeout-ms", 5000, "timeout waiting for bot_reply per command in milliseconds")
	flag.StringVar(&linesRaw, "lines", "", "chat lines separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.botName) == "" {
		return options{}, fmt.Errorf("bot-name is required")
	}
	if cfg.authors <= 0 {
		return options{}, fmt.Errorf("authors must be > 0")
	}
	if cfg.rounds <= 0 {
		return options{}, fmt.Errorf("rounds must be > 0")
	}
	if interLineMS < 0 {
		interLineMS = 0
	}
	if replyTimeoutMS < 100 {
		replyTimeoutMS = 100
	}
	cfg.interLine = time.Duration(interLineMS) * time.Millisecond
	cfg.replyTimeout = time.Duration(replyTimeoutMS) * time.Millisecond

	if strings.TrimSpace(linesRaw) == "" {
		cfg.lines = append([]string(nil), defaultLines...)
	} else {
		for _, part := range strings.Split(linesRaw, "|") {
			if line := strings.TrimSpace(part); line != "" {
				cfg.lines = append(cfg.lines, line)
			}
		}
		if len(cfg.lines) == 0 {
			return options{}, fmt.Errorf("lines produced no non-empty chat lines")
		}
	}
	return cfg, nil
}

// buildScript interleaves plain chat from every author with remember, quote
// and mash commands aimed at the author who spoke last.
func buildScript(cfg options) []step {
	var script []step
	for round := 0; round < cfg.rounds; round++ {
		for a := 0; a < cfg.authors; a++ {
			author := fmt.Sprintf("replay-%d", a)
			line := cfg.lines[(round+a)%len(cfg.lines)]
			script = append(script, step{msg: chatLine(author, line)})

			asker := fmt.Sprintf("replay-%d", (a+1)%cfg.authors)
			word := firstWord(line)
			script = append(script,
				step{msg: chatLine(asker, fmt.Sprintf("%s remember %s %s", cfg.botName, author, word)), command: true},
				step{msg: chatLine(asker, fmt.Sprintf("%s quote %s", cfg.botName, author)), command: true},
			)
		}
		script = append(script, step{msg: chatLine("replay-0", cfg.botName+" quotemash"), command: true})
	}
	return script
}

func chatLine(author, text string) protocol.ChatMessage {
	return protocol.ChatMessage{
		Type:       protocol.TypeChatMessage,
		MessageID:  uuid.NewString(),
		AuthorID:   author,
		AuthorName: author,
		Text:       text,
		TSMs:       time.Now().UnixMilli(),
	}
}

func firstWord(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	replies := make(chan wsEnvelope, 64)
	readErrCh := make(chan error, 1)
	go readLoop(conn, replies, readErrCh, cfg.verbose)

	script := buildScript(cfg)
	if cfg.verbose {
		fmt.Printf("chatreplay: lines=%d authors=%d rounds=%d\n", len(script), cfg.authors, cfg.rounds)
	}

	var latencies []time.Duration
	for i, st := range script {
		st.msg.TSMs = time.Now().UnixMilli()
		sentAt := time.Now()
		if err := conn.WriteJSON(st.msg); err != nil {
			return fmt.Errorf("line %d write: %w", i+1, err)
		}
		if st.command {
			reply, err := awaitReply(replies, readErrCh, st.msg.MessageID, cfg.replyTimeout)
			if err != nil {
				return fmt.Errorf("line %d %q: %w", i+1, st.msg.Text, err)
			}
			latencies = append(latencies, time.Since(sentAt))
			if cfg.verbose {
				fmt.Printf("chatreplay: %s -> %s\n", st.msg.Text, strings.ReplaceAll(reply.Text, "\n\n", " | "))
			}
		}
		if cfg.interLine > 0 {
			time.Sleep(cfg.interLine)
		}
	}

	fmt.Println(summarize(latencies))
	return nil
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, replies chan<- wsEnvelope, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeBotReply):
			replies <- env
		case string(protocol.TypeErrorEvent):
			if verbose {
				fmt.Fprintf(os.Stderr, "chatreplay: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
		}
	}
}

func awaitReply(replies <-chan wsEnvelope, readErrCh <-chan error, messageID string, timeout time.Duration) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-replies:
			if env.InReplyTo == messageID {
				return env, nil
			}
		case err := <-readErrCh:
			return wsEnvelope{}, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timeout waiting for bot_reply")
		}
	}
}

func summarize(latencies []time.Duration) string {
	if len(latencies) == 0 {
		return "chatreplay: no commands replayed"
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	pick := func(q float64) time.Duration {
		return sorted[int(q*float64(len(sorted)-1))]
	}
	return fmt.Sprintf("chatreplay: commands=%d p50=%s p95=%s max=%s",
		len(sorted), pick(0.50), pick(0.95), sorted[len(sorted)-1])
}
