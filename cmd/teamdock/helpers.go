package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh/terminal"
)

// promptPassword reads a password from stdin without echo. When stdin is not
// a terminal (tests, pipes) it falls back to reading a single line.
func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)

	if terminal.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := terminal.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
