// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package console implements the operator's "meta" commands for inspecting
// and steering plugins.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/internal/plugin"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Error codes for console failures.
const (
	CodeInvalidCommand = "INVALID_COMMAND"
	CodeUnavailable    = "COMMAND_UNAVAILABLE"
)

// PhaseController is a phase source the console may also drive.
type PhaseController interface {
	plugin.PhaseSource
	Advance(level plugin.PhaseLevel) error
	SetPaused(paused bool)
}

// Refresher re-reads the plugin list.
type Refresher interface {
	Refresh(ctx context.Context) (plugin.RefreshReport, error)
}

// argKind says whether a verb takes an argument.
type argKind int

const (
	argNone argKind = iota
	argPlugin
	argPhase
)

type command struct {
	arg   argKind
	usage string
	help  string
	run   func(c *Console, ctx context.Context, arg string, w io.Writer) error
}

// commands is filled in init because help refers back to it.
var commands map[string]command

func init() {
	commands = map[string]command{
		"list":         {argNone, "list", "list registered plugins", (*Console).list},
		"info":         {argPlugin, "info <plugin>", "show a plugin's descriptor and state", (*Console).info},
		"load":         {argPlugin, "load <plugin>", "load an unloaded plugin", (*Console).load},
		"unload":       {argPlugin, "unload <plugin>", "unload a plugin when its phase allows", unloadWith(plugin.CauseOperatorCommand)},
		"force_unload": {argPlugin, "force_unload <plugin>", "unload a plugin now, ignoring its phase", unloadWith(plugin.CauseOperatorForced)},
		"reload":       {argPlugin, "reload <plugin>", "unload then load a plugin when its phase allows", reloadWith(plugin.CauseOperatorCommand)},
		"force_reload": {argPlugin, "force_reload <plugin>", "unload then load a plugin now", reloadWith(plugin.CauseReloadForced)},
		"cancel":       {argPlugin, "cancel <plugin>", "cancel a pending unload", (*Console).cancel},
		"purge":        {argPlugin, "purge <plugin>", "forget an unloaded plugin", (*Console).purge},
		"retry":        {argNone, "retry", "retry pending unloads now", (*Console).retry},
		"refresh":      {argNone, "refresh", "re-read the plugins directory", (*Console).refresh},
		"phase":        {argPhase, "phase <startup|changelevel|anytime>", "advance the host phase", (*Console).phase},
		"pause":        {argNone, "pause", "pause the host", pauseWith(true)},
		"unpause":      {argNone, "unpause", "unpause the host", pauseWith(false)},
		"version":      {argNone, "version", "show version information", (*Console).showVersion},
		"help":         {argNone, "help", "show this help", (*Console).help},
	}
}

// Console executes meta commands against a registry.
type Console struct {
	registry  *plugin.Registry
	phases    PhaseController
	refresher Refresher
	version   string
	logger    *slog.Logger
}

// Option configures a Console.
type Option func(*Console)

// WithRefresher enables the refresh command.
func WithRefresher(r Refresher) Option {
	return func(c *Console) {
		c.refresher = r
	}
}

// WithVersion sets the version reported by the version command.
func WithVersion(v string) Option {
	return func(c *Console) {
		c.version = v
	}
}

// WithLogger sets the console's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Console) {
		c.logger = l
	}
}

// New creates a console.
// Panics if registry or phases is nil.
func New(registry *plugin.Registry, phases PhaseController, opts ...Option) *Console {
	if registry == nil {
		panic("console: registry cannot be nil")
	}
	if phases == nil {
		panic("console: phases cannot be nil")
	}
	c := &Console{
		registry: registry,
		phases:   phases,
		version:  "dev",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute parses and runs one command line, writing its output to w.
func (c *Console) Execute(ctx context.Context, text string, w io.Writer) error {
	line, err := Parse(text)
	if err != nil {
		return err
	}
	cmd, ok := commands[line.Verb]
	if !ok {
		return oops.Code(CodeInvalidCommand).With("verb", line.Verb).Errorf("unknown command %q; try \"help\"", line.Verb)
	}
	arg := line.argument()
	switch {
	case cmd.arg == argNone && arg != "":
		return oops.Code(CodeInvalidCommand).With("verb", line.Verb).Errorf("usage: %s", cmd.usage)
	case cmd.arg != argNone && arg == "":
		return oops.Code(CodeInvalidCommand).With("verb", line.Verb).Errorf("usage: %s", cmd.usage)
	}

	c.logger.Debug("console command", "verb", line.Verb, "arg", arg)
	err = cmd.run(c, ctx, arg, w)
	observability.RecordConsoleCommand(line.Verb, err)
	if err != nil {
		errutil.LogError(c.logger, "console command failed", err)
		return err
	}
	return nil
}

// resolve finds a plugin by name, by its 1-based position in list output,
// or by ID.
func (c *Console) resolve(ref string) (plugin.ID, plugin.Status, error) {
	if id, ok := c.registry.Lookup(ref); ok {
		st, err := c.registry.QueryStatus(id)
		return id, st, err
	}
	if n, err := strconv.Atoi(ref); err == nil {
		all := c.registry.List()
		if n >= 1 && n <= len(all) {
			return all[n-1].ID, all[n-1], nil
		}
	}
	if id, err := plugin.ParseID(ref); err == nil {
		if st, err := c.registry.QueryStatus(id); err == nil {
			return id, st, nil
		}
	}
	return "", plugin.Status{}, plugin.ErrNotFound(ref)
}

func (c *Console) list(_ context.Context, _ string, w io.Writer) error {
	all := c.registry.List()
	if err := WritePluginTable(w, all); err != nil {
		return err
	}
	loaded := 0
	for _, st := range all {
		if st.State == plugin.StatusLoaded || st.State == plugin.StatusPendingUnload {
			loaded++
		}
	}
	_, err := fmt.Fprintf(w, "%d plugins, %d running (phase %s%s)\n", len(all), loaded, c.phases.CurrentPhase(), pausedSuffix(c.phases.IsPaused()))
	return err
}

func (c *Console) info(_ context.Context, ref string, w io.Writer) error {
	_, st, err := c.resolve(ref)
	if err != nil {
		return err
	}
	d := st.Descriptor
	rows := [][2]string{
		{"name", d.Name},
		{"id", st.ID.String()},
		{"version", d.Version},
		{"date", d.Date},
		{"author", d.Author},
		{"url", d.URL},
		{"logtag", d.Tag()},
		{"interface", d.InterfaceVersion},
		{"loadable", d.Loadable.String()},
		{"unloadable", d.Unloadable.String()},
		{"module", st.ModulePath},
		{"status", st.State.String()},
		{"cause", st.Displayed.String()},
		{"retained", st.Retained.String()},
	}
	if !st.LoadedAt.IsZero() {
		rows = append(rows, [2]string{"loaded_at", st.LoadedAt.UTC().Format("2006-01-02 15:04:05Z")})
	}
	if st.Reload {
		rows = append(rows, [2]string{"reload", "pending"})
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%-11s %s\n", row[0]+":", row[1]); err != nil {
			return oops.Wrap(err)
		}
	}
	return nil
}

func (c *Console) load(ctx context.Context, ref string, w io.Writer) error {
	id, st, err := c.resolve(ref)
	if err != nil {
		return err
	}
	if err := c.registry.RequestLoad(ctx, id); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Loaded %q\n", st.Descriptor.Name)
	return err
}

func unloadWith(cause plugin.UnloadCause) func(*Console, context.Context, string, io.Writer) error {
	return func(c *Console, ctx context.Context, ref string, w io.Writer) error {
		id, st, err := c.resolve(ref)
		if err != nil {
			return err
		}
		state, err := c.registry.RequestUnload(ctx, id, cause)
		if err != nil {
			return err
		}
		return writeUnloadOutcome(w, "Unloaded", st.Descriptor, state)
	}
}

func reloadWith(cause plugin.UnloadCause) func(*Console, context.Context, string, io.Writer) error {
	return func(c *Console, ctx context.Context, ref string, w io.Writer) error {
		id, st, err := c.resolve(ref)
		if err != nil {
			return err
		}
		state, err := c.registry.Reload(ctx, id, cause)
		if err != nil {
			return err
		}
		return writeUnloadOutcome(w, "Reloaded", st.Descriptor, state)
	}
}

func writeUnloadOutcome(w io.Writer, done string, d plugin.Descriptor, state plugin.RuntimeStatus) error {
	var err error
	if state == plugin.StatusPendingUnload {
		_, err = fmt.Fprintf(w, "%q cannot be unloaded now; pending until %s\n", d.Name, d.Unloadable)
	} else {
		_, err = fmt.Fprintf(w, "%s %q (%s)\n", done, d.Name, state)
	}
	return err
}

func (c *Console) cancel(_ context.Context, ref string, w io.Writer) error {
	id, st, err := c.resolve(ref)
	if err != nil {
		return err
	}
	if err := c.registry.CancelPending(id); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Cancelled pending unload of %q\n", st.Descriptor.Name)
	return err
}

func (c *Console) purge(_ context.Context, ref string, w io.Writer) error {
	id, st, err := c.resolve(ref)
	if err != nil {
		return err
	}
	if err := c.registry.Purge(id); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Purged %q\n", st.Descriptor.Name)
	return err
}

func (c *Console) retry(ctx context.Context, _ string, w io.Writer) error {
	if err := c.registry.RetryPending(ctx); err != nil {
		return err
	}
	pending := 0
	for _, st := range c.registry.List() {
		if st.State == plugin.StatusPendingUnload {
			pending++
		}
	}
	_, err := fmt.Fprintf(w, "Retried pending unloads; %d still pending\n", pending)
	return err
}

func (c *Console) refresh(ctx context.Context, _ string, w io.Writer) error {
	if c.refresher == nil {
		return oops.Code(CodeUnavailable).Errorf("refresh is not configured")
	}
	report, err := c.refresher.Refresh(ctx)
	if werr := WriteRefreshReport(w, report); werr != nil {
		return werr
	}
	return err
}

func (c *Console) phase(_ context.Context, arg string, w io.Writer) error {
	level, err := plugin.ParsePhaseLevel(arg)
	if err != nil {
		return err
	}
	if err := c.phases.Advance(level); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Phase is now %s\n", c.phases.CurrentPhase())
	return err
}

func pauseWith(paused bool) func(*Console, context.Context, string, io.Writer) error {
	return func(c *Console, _ context.Context, _ string, w io.Writer) error {
		c.phases.SetPaused(paused)
		state := "running"
		if paused {
			state = "paused"
		}
		_, err := fmt.Fprintf(w, "Host is %s\n", state)
		return err
	}
}

func (c *Console) showVersion(_ context.Context, _ string, w io.Writer) error {
	_, err := fmt.Fprintf(w, "gatekeeper %s (plugin interface %s)\n", c.version, plugin.InterfaceVersion)
	return err
}

func (c *Console) help(_ context.Context, _ string, w io.Writer) error {
	verbs := make([]string, 0, len(commands))
	for verb := range commands {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	var b strings.Builder
	b.WriteString("Commands (<plugin> is a name, list position or ID):\n")
	for _, verb := range verbs {
		fmt.Fprintf(&b, "  %-38s %s\n", commands[verb].usage, commands[verb].help)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func pausedSuffix(paused bool) string {
	if paused {
		return ", paused"
	}
	return ""
}
