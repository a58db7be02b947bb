package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// PromptYesNo asks a question on stdout and reads the answer from stdin
func PromptYesNo(question string) bool {
	return promptYesNo(os.Stdin, os.Stdout, question)
}

func promptYesNo(in io.Reader, out io.Writer, question string) bool {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s (y/n): ", question)
		response, err := reader.ReadString('\n')
		response = strings.ToLower(strings.TrimSpace(response))

		switch response {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			return false
		}
		fmt.Fprintln(out, "Please enter y or n")
	}
}
