// Package command implements the Command Parser + Router of spec.md
// §4.3: a tagged-union parser over a trimmed input line, and a
// type-keyed Router generalized from the teacher's string-keyed
// CommandRegistry (internal/game/commands.go) and its lock/key
// permission model.
package command

import "strings"

// Kind discriminates the Command tagged union.
type Kind string

const (
	KindNoop           Kind = "noop"
	KindSay            Kind = "say"
	KindMove           Kind = "move"
	KindDialogueChoice Kind = "dialogue_choice"
	KindVerb           Kind = "verb"
	KindUnknown        Kind = "unknown"
	KindInvalid        Kind = "invalid"
)

// Command is one parsed input line, per spec.md §4.3.
type Command struct {
	Kind Kind

	// Say
	Message string

	// Move
	Direction string

	// DialogueChoice
	Choice int

	// Verb
	Verb string
	Args []string

	// Unknown
	Raw string

	// Invalid
	InvalidVerb  string
	InvalidUsage string
}

var directionAliases = map[string]string{
	"n": "north", "north": "north",
	"s": "south", "south": "south",
	"e": "east", "east": "east",
	"w": "west", "west": "west",
	"ne": "northeast", "northeast": "northeast",
	"nw": "northwest", "northwest": "northwest",
	"se": "southeast", "southeast": "southeast",
	"sw": "southwest", "southwest": "southwest",
	"u": "up", "up": "up",
	"d": "down", "down": "down",
}

// verbUsage lists verbs that require a non-blank argument portion and the
// usage string returned when the argument is missing, per spec.md §4.3
// ("Each command with required arguments returns Invalid(command, usage)
// when the argument portion is blank").
var verbUsage = map[string]string{
	"tell":     "tell <player> <message>",
	"teleport": "teleport <roomId>",
	"give":     "give <item> to <player>",
	"equip":    "equip <item>",
	"drop":     "drop <item>",
	"attack":   "attack <target>",
}

// verbAliases maps every recognized verb spelling (including aliases) to
// its canonical verb name. Parse looks up the whole first word here, so a
// shorter alias never shadows a longer one.
var verbAliases = map[string]string{
	"look": "look", "l": "look",
	"inventory": "inventory", "inv": "inventory", "i": "inventory",
	"quit": "quit",
	"who":  "who",
	"tell": "tell", "whisper": "tell",
	"teleport": "teleport", "tp": "teleport",
	"give":   "give",
	"equip":  "equip", "wear": "equip", "wield": "equip",
	"drop":   "drop",
	"attack": "attack", "kill": "attack", "k": "attack",
	"flee":  "flee",
	"score": "score", "stats": "score",
	"rooms": "rooms",
	"zones": "zones",
}

// Parse turns one trimmed input line into a tagged Command, per the rules
// in spec.md §4.3.
func Parse(line string) Command {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{Kind: KindNoop}
	}

	if strings.HasPrefix(trimmed, "'") {
		return Command{Kind: KindSay, Message: strings.TrimSpace(trimmed[1:])}
	}

	fields := strings.Fields(trimmed)
	head := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, fields[0]))

	if dir, ok := matchDirection(head); ok {
		return Command{Kind: KindMove, Direction: dir}
	}

	if n, ok := parseDialogueDigit(head); ok {
		return Command{Kind: KindDialogueChoice, Choice: n}
	}

	if verb, ok := matchVerb(head); ok {
		if usage, required := verbUsage[verb]; required && rest == "" {
			return Command{Kind: KindInvalid, InvalidVerb: verb, InvalidUsage: usage}
		}
		return Command{Kind: KindVerb, Verb: verb, Args: strings.Fields(rest)}
	}

	return Command{Kind: KindUnknown, Raw: trimmed}
}

func matchDirection(head string) (string, bool) {
	dir, ok := directionAliases[head]
	return dir, ok
}

func matchVerb(head string) (string, bool) {
	verb, ok := verbAliases[head]
	return verb, ok
}

func parseDialogueDigit(head string) (int, bool) {
	if len(head) != 1 {
		return 0, false
	}
	c := head[0]
	if c < '1' || c > '9' {
		return 0, false
	}
	return int(c - '0'), true
}

// Handler processes one command for one session; it returns nothing.
// Per spec.md §4.3, missing handlers are silently ignored.
type Handler func(sessionID uint64, cmd Command)

// Router is a type-keyed registry: one handler per Kind, plus a
// verb-keyed sub-registry for KindVerb, mirroring the teacher's
// string-keyed CommandRegistry generalized to the tagged-union parser.
type Router struct {
	byKind map[Kind]Handler
	byVerb map[string]Handler
}

// NewRouter constructs an empty Router; handlers register at startup via
// RegisterKind/RegisterVerb.
func NewRouter() *Router {
	return &Router{
		byKind: make(map[Kind]Handler),
		byVerb: make(map[string]Handler),
	}
}

// RegisterKind binds a handler for every Command of the given Kind except
// KindVerb, which is dispatched per-verb via RegisterVerb.
func (r *Router) RegisterKind(kind Kind, h Handler) {
	r.byKind[kind] = h
}

// RegisterVerb binds a handler for one canonical verb name.
func (r *Router) RegisterVerb(verb string, h Handler) {
	r.byVerb[verb] = h
}

// Dispatch routes cmd to its registered handler, if any.
func (r *Router) Dispatch(sessionID uint64, cmd Command) {
	if cmd.Kind == KindVerb {
		if h, ok := r.byVerb[cmd.Verb]; ok {
			h(sessionID, cmd)
		}
		return
	}
	if h, ok := r.byKind[cmd.Kind]; ok {
		h(sessionID, cmd)
	}
}
