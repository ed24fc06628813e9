// SPDX-License-Identifier: Apache-2.0

// mock-pinentry is a scripted stand-in for the pinentry binary used during
// development and testing: it speaks the same line-oriented Assuan
// protocol over stdin/stdout as a real pinentry, but answers deterministically
// based on environment variables instead of drawing an actual dialog.
//
// MOCK_PINENTRY_RESULT selects the outcome: "ok" (default) or "cancel".
// MOCK_PINENTRY_PIN sets the passphrase returned for GETPIN (default
// "mock-passphrase").
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

func outcome() string {
	if v := os.Getenv("MOCK_PINENTRY_RESULT"); v != "" {
		return v
	}
	return "ok"
}

func pin() string {
	if v := os.Getenv("MOCK_PINENTRY_PIN"); v != "" {
		return v
	}
	return "mock-passphrase"
}

func main() {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("OK Pleased to meet you")

	cancelLine := "ERR 83886179 Operation cancelled <mock-pinentry>"

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "SETDESC"), strings.HasPrefix(line, "SETPROMPT"),
			strings.HasPrefix(line, "SETOK"), strings.HasPrefix(line, "SETCANCEL"):
			fmt.Println("OK")

		case strings.HasPrefix(line, "GETPIN"):
			if outcome() == "ok" {
				fmt.Printf("D %s\n", pin())
				fmt.Println("OK")
			} else {
				fmt.Println(cancelLine)
			}

		case strings.HasPrefix(line, "CONFIRM"), strings.HasPrefix(line, "MESSAGE"):
			if outcome() == "ok" {
				fmt.Println("OK")
			} else {
				fmt.Println(cancelLine)
			}

		case strings.HasPrefix(line, "BYE"):
			fmt.Println("OK closing connection")
			return

		default:
			fmt.Println("ERR 1 unknown command")
		}
	}
}
