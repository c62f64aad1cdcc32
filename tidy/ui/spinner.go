package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var SectionHeaderColor = color.New(color.BgHiBlue, color.FgHiWhite, color.Bold)

type Spinner struct {
	*spinner.Spinner
	msg string
	// Without a terminal, only the final message is written
	out io.Writer
}

// NewSpinner creates a new spinner with the given message.
// The spinner only animates when stderr is a terminal.
func NewSpinner(msg string) *Spinner {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return &Spinner{msg: msg, out: os.Stderr}
	}

	s := &Spinner{
		Spinner: spinner.New(
			spinner.CharSets[14],
			200*time.Millisecond,
			spinner.WithHiddenCursor(true),
			spinner.WithWriter(os.Stderr),
			spinner.WithSuffix(" "+msg),
		),
		msg: msg,
	}
	s.Start()
	return s
}

// UpdateMessage updates the spinner message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) UpdateMessage(msg string) {
	if s == nil {
		return
	}
	if s.Spinner != nil {
		s.Spinner.Suffix = " " + msg
	}
	s.msg = msg
}

// Success stops the spinner and prints a success message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Success(msg ...string) {
	s.stop(color.HiGreenString("✓"), msg)
}

// Warn stops the spinner and prints a warning message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Warn(msg ...string) {
	s.stop(color.HiYellowString("!"), msg)
}

// Fail stops the spinner and prints a failure message.
// This function is safe to call on a nil Spinner.
func (s *Spinner) Fail(msg ...string) {
	s.stop(color.HiRedString("✗"), msg)
}

func (s *Spinner) stop(symbol string, msg []string) {
	if s == nil {
		return
	}
	if len(msg) == 0 {
		msg = []string{s.msg}
	}

	final := fmt.Sprintf("%s %s\n", symbol, msg[0])
	if s.Spinner == nil {
		fmt.Fprint(s.out, final)
		return
	}
	s.Spinner.FinalMSG = final
	s.Stop()
}
