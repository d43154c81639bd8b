package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

var errAborted = errors.New("aborted")

// confirm asks before destructive operations. Without a terminal there is
// nobody to ask, so --yes is required.
func (a *app) confirm(message string) error {
	if a.yes {
		return nil
	}
	if !a.terminal(os.Stdin.Fd()) {
		return errors.Wrap(errAborted, "not a terminal, pass --yes to proceed")
	}

	r := bufio.NewReader(a.in)
	for {
		fmt.Fprintf(os.Stderr, "%s [y/N] ", message)

		line, err := r.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))

		switch answer {
		case "y", "yes":
			return nil
		case "", "n", "no":
			return errAborted
		}
		if err != nil {
			return errAborted
		}
	}
}
