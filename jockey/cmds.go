package jockey

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/progrium/vidjockey/tempo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
)

func cmds(sess *Session) map[string]func([]string) error {
	slashPlay := func(args []string) error {
		sess.Play()
		return nil
	}
	slashPause := func(args []string) error {
		sess.Pause()
		return nil
	}
	slashTempo := func(args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("%w: /tempo <bpm>", ErrMissingArgument)
		}
		return sess.SetTempo(args[0])
	}
	slashNote := func(args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("%w: /note <%s>", ErrMissingArgument, noteLabels())
		}
		n, err := tempo.ParseNoteLength(args[0])
		if err != nil {
			return err
		}
		return sess.SetNoteLength(n)
	}
	slashRescan := func(args []string) error {
		sess.Rescan(true)
		return nil
	}
	slashScan := func(args []string) error {
		sess.Rescan(false)
		return nil
	}
	slashMedia := func(args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("%w: /media <dir>", ErrMissingArgument)
		}
		sess.SetMediaPath(strings.Join(args, " "))
		return nil
	}
	slashEngine := func(args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("%w: /engine <dir>", ErrMissingArgument)
		}
		sess.SetEnginePath(strings.Join(args, " "))
		return nil
	}
	slashFetch := func(args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("%w: /fetch <url>", ErrMissingArgument)
		}
		_, err := sess.Fetch(args[0])
		return err
	}
	slashQuit := func(args []string) error {
		return sess.Shutdown()
	}
	return map[string]func([]string) error{
		"/play":   slashPlay,
		"/skip":   slashPlay,
		"/next":   slashPlay,
		"/pause":  slashPause,
		"/stop":   slashPause,
		"/tempo":  slashTempo,
		"/bpm":    slashTempo,
		"/note":   slashNote,
		"/rescan": slashRescan,
		"/scan":   slashScan,
		"/media":  slashMedia,
		"/engine": slashEngine,
		"/fetch":  slashFetch,
		"/quit":   slashQuit,
	}
}

// Exec runs one slash command line such as "/tempo 128".
func (s *Session) Exec(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return fmt.Errorf("%w: empty line", ErrUnknownCommand)
	}
	c := cmds(s)[strings.ToLower(args[0])]
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}
	s.log.Debug("command", zap.Strings("args", args))
	return c(args[1:])
}

// Commands lists the accepted command names.
func (s *Session) Commands() []string {
	names := lo.Keys(cmds(s))
	sort.Strings(names)
	return names
}

func noteLabels() string {
	return strings.Join(lo.Map(tempo.NoteLengths(), func(n tempo.NoteLength, _ int) string {
		return n.Label()
	}), "|")
}
