package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

func main() {
	if err := run(); err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			fmt.Fprintln(os.Stderr, validationErr.Error())
			fmt.Fprintln(os.Stderr, "\nPlease check your .env file and ensure all required values are set correctly.")
			os.Exit(1)
		}
		slog.Error("tglogger exited with error", "error", err)
		os.Exit(1)
	}
}
