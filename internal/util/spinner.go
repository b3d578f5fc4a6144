package util

import (
	"context"

	"github.com/charmbracelet/huh/spinner"
)

type Task func()

// RunTaskWithSpinner runs task while showing a terminal spinner with msg as
// the title, stopping the spinner when the task returns.
func RunTaskWithSpinner(msg string, task Task) {
	ctx, cancel := context.WithCancel(context.Background())
	s := spinner.New().Context(ctx).Title(msg)
	go s.Run()
	task()
	cancel()
}
