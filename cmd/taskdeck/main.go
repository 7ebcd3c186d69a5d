package main

import (
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/hitoshi/taskdeck/internal/app"
)

func main() {
	args := os.Args[1:]

	// シェルは標準出力を対話に使うため、ログは標準エラーへ出す
	var logOut io.Writer = os.Stdout
	if app.ParseCommand(args) == app.CommandShell {
		logOut = os.Stderr
	}

	if err := app.Run(logOut, args); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
