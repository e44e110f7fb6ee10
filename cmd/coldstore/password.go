// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/relique/coldstore/internal/errs"
)

// stdin/stdout/stderr are package vars so tests can redirect them.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

const passwordEnvVar = "COLDSTORE_PASSWORD"

// resolvePassword returns the password to open a repository with, in
// priority order: the --password flag, the COLDSTORE_PASSWORD
// environment variable, then an interactive prompt (skipped, returning
// "", if stdin isn't a terminal — matching a scripted/non-interactive
// invocation that simply means "no password").
func resolvePassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(passwordEnvVar); v != "" {
		return v, nil
	}
	if !isTerminal() {
		return "", nil
	}
	return promptPassword("Enter your repository password (leave empty to skip encryption): ")
}

// resolveNewPassword is like resolvePassword but, when prompting
// interactively, asks for confirmation — grounded on original_source's
// get_password, which requires the password to be typed twice before a
// repository is ever turned encrypted.
func resolveNewPassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(passwordEnvVar); v != "" {
		return v, nil
	}
	if !isTerminal() {
		return "", nil
	}
	password, err := promptPassword("Enter your repository password (leave empty to skip encryption): ")
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", nil
	}
	confirm, err := promptPassword("Repeat password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", fmt.Errorf("%w: passwords don't match", errs.ErrUserInput)
	}
	return password, nil
}

func isTerminal() bool {
	f, ok := stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(stderr, prompt)
	f, ok := stdin.(*os.File)
	if !ok {
		return readLine(stdin)
	}
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}
