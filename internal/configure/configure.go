// Package configure implements the interactive wizard that writes the .env
// file read by pgcrudmcp serve.
package configure

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	pgcrud "github.com/rickchristie/postgres-crud-mcp"
)

// Options configures one wizard run.
type Options struct {
	Fs   afero.Fs
	Path string
	In   io.Reader
	Out  io.Writer

	// ReadPassword reads a secret without echo. When nil the password is read
	// as a normal input line.
	ReadPassword func() (string, error)
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindRequired
	kindInt
	kindBool
	kindEnum
	kindPath
	kindOptionalPath
	kindSecret
)

type field struct {
	key     string
	hint    string
	kind    fieldKind
	options []string
	min     int
	max     int
}

type section struct {
	title  string
	fields []field
}

var sections = []section{
	{"Connection", []field{
		{key: "POSTGRES_HOST", kind: kindRequired},
		{key: "POSTGRES_PORT", kind: kindInt, min: 1, max: 65535},
		{key: "POSTGRES_DB", kind: kindRequired},
		{key: "POSTGRES_USER", kind: kindRequired},
		{key: "POSTGRES_PASSWORD", kind: kindSecret},
		{key: "POSTGRES_SSL_MODE", kind: kindEnum, options: []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}},
		{key: "POSTGRES_APPLICATION_NAME", kind: kindString},
	}},
	{"Pool", []field{
		{key: "POSTGRES_POOL_SIZE", hint: "persistent connections", kind: kindInt, min: 1},
		{key: "POSTGRES_MAX_OVERFLOW", hint: "extra connections under load", kind: kindInt, min: 0},
		{key: "POSTGRES_POOL_TIMEOUT", hint: "seconds to wait for a free connection", kind: kindInt, min: 1},
		{key: "POSTGRES_CONNECT_TIMEOUT", hint: "seconds", kind: kindInt, min: 1},
	}},
	{"Query", []field{
		{key: "POSTGRES_STATEMENT_TIMEOUT", hint: "seconds", kind: kindInt, min: 1},
		{key: "MCP_MAX_SQL_LENGTH", hint: "bytes", kind: kindInt, min: 1},
		{key: "MCP_MAX_RESULT_LENGTH", hint: "characters", kind: kindInt, min: 1},
		{key: "MCP_READ_ONLY", kind: kindBool},
	}},
	{"Server", []field{
		{key: "MCP_TRANSPORT", kind: kindEnum, options: []string{"stdio", "http"}},
		{key: "MCP_HTTP_PORT", hint: "http transport only", kind: kindInt, min: 1, max: 65535},
		{key: "MCP_HEALTH_CHECK_PATH", hint: "e.g. /healthz", kind: kindPath},
		{key: "MCP_METRICS_PATH", hint: "e.g. /metrics, - disables", kind: kindOptionalPath},
	}},
	{"Logging", []field{
		{key: "MCP_LOG_LEVEL", kind: kindEnum, options: []string{"debug", "info", "warn", "error"}},
		{key: "MCP_LOG_FORMAT", kind: kindEnum, options: []string{"json", "text"}},
		{key: "MCP_LOG_OUTPUT", hint: "stderr, stdout, or file path", kind: kindRequired},
	}},
	{"Rules", []field{
		{key: "MCP_RULES_FILE", hint: ".yaml, .yml or .json, - for none", kind: kindString},
	}},
}

// Run prompts for every setting, starting from the existing file at
// opts.Path when there is one, and writes the result back.
func Run(opts Options) error {
	values, extras, isNew, err := loadExisting(opts.Fs, opts.Path)
	if err != nil {
		return err
	}

	p := &prompter{
		scanner:      bufio.NewScanner(opts.In),
		output:       opts.Out,
		isNew:        isNew,
		readPassword: opts.ReadPassword,
	}

	fmt.Fprintf(opts.Out, "pgcrudmcp configuration wizard\n")
	fmt.Fprintf(opts.Out, "Env file: %s\n", opts.Path)

	for _, s := range sections {
		fmt.Fprintf(opts.Out, "\n=== %s ===\n", s.title)
		for _, f := range s.fields {
			values[f.key] = p.prompt(f, values[f.key])
		}
	}

	if values["MCP_TRANSPORT"] == "stdio" && values["MCP_LOG_OUTPUT"] == "stdout" {
		fmt.Fprintf(opts.Out, "\nMCP_LOG_OUTPUT=stdout conflicts with the stdio transport, using stderr.\n")
		values["MCP_LOG_OUTPUT"] = "stderr"
	}

	if err := writeEnv(opts.Fs, opts.Path, values, extras); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.Path, err)
	}

	fmt.Fprintf(opts.Out, "\nConfiguration saved to %s\n", opts.Path)
	fmt.Fprintf(opts.Out, "Run 'pgcrudmcp doctor' to check it.\n")
	return nil
}

// loadExisting returns the known values (defaults filled in), the unknown
// keys to carry over, and whether the file is new.
func loadExisting(fs afero.Fs, path string) (map[string]string, map[string]string, bool, error) {
	values := make(map[string]string)
	for _, key := range pgcrud.EnvKeys() {
		values[key] = pgcrud.EnvDefault(key)
	}
	extras := make(map[string]string)

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, nil, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !exists {
		return values, extras, true, nil
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, false, fmt.Errorf("read %s: %w", path, err)
	}
	for _, k := range v.AllKeys() {
		key := strings.ToUpper(k)
		if _, known := values[key]; known {
			values[key] = v.GetString(k)
		} else {
			extras[key] = v.GetString(k)
		}
	}
	return values, extras, false, nil
}

func writeEnv(fs afero.Fs, path string, values, extras map[string]string) error {
	var b strings.Builder
	b.WriteString("# pgcrudmcp settings, written by 'pgcrudmcp configure'.\n")
	for _, s := range sections {
		fmt.Fprintf(&b, "\n# %s\n", s.title)
		for _, f := range s.fields {
			fmt.Fprintf(&b, "%s=%s\n", f.key, quoteValue(values[f.key]))
		}
	}
	if len(extras) > 0 {
		keys := make([]string, 0, len(extras))
		for k := range extras {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n# Other\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%s\n", k, quoteValue(extras[k]))
		}
	}
	return afero.WriteFile(fs, path, []byte(b.String()), 0600)
}

// quoteValue quotes s so the dotenv parser reads it back unchanged. Single
// quotes keep the value literal; double quotes are used only when s itself
// contains a single quote.
func quoteValue(s string) string {
	if s == "" || !strings.ContainsAny(s, " \t#'\"$\\=`") {
		return s
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)
	return `"` + r.Replace(s) + `"`
}

// prompter handles reading user input and displaying prompts.
type prompter struct {
	scanner      *bufio.Scanner
	output       io.Writer
	isNew        bool
	eof          bool
	readPassword func() (string, error)
}

func (p *prompter) readLine() string {
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	p.eof = true
	return ""
}

func (p *prompter) valueLabel() string {
	if p.isNew {
		return "default"
	}
	return "current"
}

func (p *prompter) label(f field) string {
	hint := f.hint
	if f.kind == kindRequired {
		hint = "required"
		if f.hint != "" {
			hint += ", " + f.hint
		}
	}
	if hint == "" {
		return f.key
	}
	return fmt.Sprintf("%s [%s]", f.key, hint)
}

// prompt asks for one field until the input is valid. An empty line keeps
// current; "-" clears an optional field.
func (p *prompter) prompt(f field, current string) string {
	if f.kind == kindSecret {
		return p.promptSecret(f, current)
	}
	for {
		if f.kind == kindEnum {
			fmt.Fprintf(p.output, "%s (%s: %q, options: %s): ", p.label(f), p.valueLabel(), current, strings.Join(f.options, ", "))
		} else {
			fmt.Fprintf(p.output, "%s (%s: %q): ", p.label(f), p.valueLabel(), current)
		}
		input := p.readLine()
		if input == "-" && (f.kind == kindString || f.kind == kindOptionalPath) {
			return ""
		}
		if input == "" {
			if f.kind == kindRequired && current == "" && !p.eof {
				fmt.Fprintf(p.output, "  Value is required, try again.\n")
				continue
			}
			return current
		}
		value, msg := validate(f, input)
		if msg != "" {
			fmt.Fprintf(p.output, "  %s, try again.\n", msg)
			continue
		}
		return value
	}
}

func (p *prompter) promptSecret(f field, current string) string {
	state := "empty"
	if current != "" {
		state = "set"
	}
	fmt.Fprintf(p.output, "%s [input hidden, Enter keeps it] (%s: %s): ", f.key, p.valueLabel(), state)

	var input string
	if p.readPassword != nil {
		s, err := p.readPassword()
		if err != nil {
			fmt.Fprintf(p.output, "  Could not read password: %v, keeping %s value.\n", err, p.valueLabel())
			return current
		}
		input = s
	} else {
		input = p.readLine()
	}
	if input == "" {
		return current
	}
	return input
}

// validate normalizes input for f. A non-empty message reports why the input
// was rejected.
func validate(f field, input string) (string, string) {
	switch f.kind {
	case kindInt:
		n, err := strconv.Atoi(input)
		if err != nil {
			return "", fmt.Sprintf("Invalid integer %q", input)
		}
		if f.max > 0 && (n < f.min || n > f.max) {
			return "", fmt.Sprintf("Value must be between %d and %d", f.min, f.max)
		}
		if n < f.min {
			return "", fmt.Sprintf("Value must be >= %d", f.min)
		}
		return strconv.Itoa(n), ""
	case kindBool:
		switch strings.ToLower(input) {
		case "true", "t", "yes", "y", "1":
			return "true", ""
		case "false", "f", "no", "n", "0":
			return "false", ""
		}
		return "", fmt.Sprintf("Invalid value %q, use true/false/yes/no", input)
	case kindEnum:
		lower := strings.ToLower(input)
		for _, o := range f.options {
			if lower == o {
				return o, ""
			}
		}
		return "", fmt.Sprintf("Invalid value %q, must be one of: %s", input, strings.Join(f.options, ", "))
	case kindPath, kindOptionalPath:
		if !strings.HasPrefix(input, "/") {
			return "", fmt.Sprintf("Path %q must start with /", input)
		}
		return input, ""
	}
	return input, ""
}
