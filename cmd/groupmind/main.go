package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/groupmind/groupmind/internal/config"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "index":
		err = runIndex(os.Args[2:])
	case "search":
		err = runSearch(os.Args[2:])
	case "facts":
		err = runFacts(os.Args[2:])
	case "conflicts":
		err = runConflicts(os.Args[2:])
	case "summary":
		err = runSummary(os.Args[2:])
	case "purge":
		err = runPurge(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("groupmind %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cmdFlags holds every flag any command accepts. Commands read the fields
// they care about and ignore the rest.
type cmdFlags struct {
	opts config.ResolveOptions

	days     int
	limit    int
	factType string
	asJSON   bool
	all      bool

	// single-message index mode
	text       string
	messageID  string
	senderID   string
	senderName string
	username   string
	date       string

	args []string // positional arguments
}

func parseFlags(args []string) (*cmdFlags, error) {
	f := &cmdFlags{days: -1, limit: -1}

	// takeValue handles both "--flag value" and "--flag=value".
	i := 0
	takeValue := func(arg, name string) (string, bool, error) {
		if arg == name {
			if i+1 >= len(args) {
				return "", false, fmt.Errorf("%s requires a value", name)
			}
			i++
			return args[i], true, nil
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"="), true, nil
		}
		return "", false, nil
	}

	for ; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			f.args = append(f.args, arg)
			continue
		}
		switch arg {
		case "--json":
			f.asJSON = true
			continue
		case "--all":
			f.all = true
			continue
		}

		matched := false
		for _, opt := range []struct {
			name string
			dst  *string
		}{
			{"--config", &f.opts.ConfigPath},
			{"--db", &f.opts.CLIDBPath},
			{"--embed", &f.opts.CLIEmbed},
			{"--conversation", &f.opts.CLIConversation},
			{"--priority-user", &f.opts.CLIPriorityUser},
			{"--retention-days", &f.opts.CLIRetentionDays},
			{"--retention-schedule", &f.opts.CLIRetentionCron},
			{"--rules", &f.opts.CLIRulesPath},
			{"--type", &f.factType},
			{"--text", &f.text},
			{"--message-id", &f.messageID},
			{"--sender-id", &f.senderID},
			{"--sender-name", &f.senderName},
			{"--username", &f.username},
			{"--date", &f.date},
		} {
			v, ok, err := takeValue(arg, opt.name)
			if err != nil {
				return nil, err
			}
			if ok {
				*opt.dst = v
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		for _, opt := range []struct {
			name string
			dst  *int
		}{
			{"--days", &f.days},
			{"--limit", &f.limit},
		} {
			v, ok, err := takeValue(arg, opt.name)
			if err != nil {
				return nil, err
			}
			if ok {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					return nil, fmt.Errorf("%s must be a positive number, got %q", opt.name, v)
				}
				*opt.dst = n
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}
	return f, nil
}

func (f *cmdFlags) daysOr(fallback int) int {
	if f.days > 0 {
		return f.days
	}
	return fallback
}

func (f *cmdFlags) limitOr(fallback int) int {
	if f.limit > 0 {
		return f.limit
	}
	return fallback
}

func printUsage() {
	fmt.Printf(`groupmind %s — knowledge engine for group conversations

Usage:
  groupmind <command> [arguments]

Commands:
  index <export.json>   Index messages from a JSON export file
  index --text <text>   Index a single message (--message-id, --sender-id)
  search <query>        Hybrid keyword + semantic search over messages
  facts                 List extracted facts (decisions, tasks, events, ...)
  conflicts             Find facts that disagree about dates
  summary               Build a cited digest with a confidence label
  purge                 Delete data older than the retention window
  stats                 Show index statistics
  serve                 Run the MCP server on stdio
  config                Show resolved configuration and where it came from
  version               Print version

Common Flags:
  --config <path>           Config file (default: ~/.groupmind/config.yaml)
  --db <path>               Database file (default: ~/.groupmind/groupmind.db)
  --conversation <id>       Conversation id (or set default_conversation)
  --embed <provider/model>  Embedding model, e.g. ollama/nomic-embed-text
  --priority-user <id>      Speaker whose messages get extra search weight
  --rules <path>            Custom extraction rules (YAML)
  --retention-days <n>      Retention window in days (default: 90)

Command Flags:
  --days <n>                Age window (search/facts/conflicts: 30, summary: 7)
  --limit <n>               Maximum results
  --type <fact type>        Filter facts by type
  --all                     purge: all conversations
  --json                    Machine-readable output

Environment:
  GROUPMIND_DB, GROUPMIND_EMBED, GROUPMIND_CONVERSATION,
  GROUPMIND_PRIORITY_USER, GROUPMIND_RETENTION_DAYS, GROUPMIND_RULES
`, version)
}
