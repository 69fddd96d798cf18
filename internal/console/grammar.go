// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package console

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// consoleLexer splits a line into bare words and double-quoted strings.
// Quoting lets operators name plugins that contain spaces.
var consoleLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Word", Pattern: `[^\s"]+`},
	{Name: "whitespace", Pattern: `\s+`},
})

// Line is one console command.
//
// Grammar: verb [ argument ]
type Line struct {
	Pos  lexer.Position `parser:""`
	Verb string         `parser:"@Word"`
	Arg  *string        `parser:"@(Word | String)?"`
}

// argument reports the argument, or "" when none was given.
func (l *Line) argument() string {
	if l.Arg == nil {
		return ""
	}
	return *l.Arg
}

var lineParser *participle.Parser[Line]

func init() {
	var err error
	lineParser, err = participle.Build[Line](
		participle.Lexer(consoleLexer),
		participle.Unquote("String"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to build console parser: %v", err))
	}
}

// Parse parses a console line. The verb is case-insensitive.
func Parse(text string) (*Line, error) {
	if strings.TrimSpace(text) == "" {
		return nil, oops.Code(CodeInvalidCommand).Errorf("empty command; try \"help\"")
	}
	line, err := lineParser.ParseString("", text)
	if err != nil {
		return nil, oops.Code(CodeInvalidCommand).With("line", text).Wrapf(err, "parsing console command")
	}
	line.Verb = strings.ToLower(line.Verb)
	return line, nil
}
