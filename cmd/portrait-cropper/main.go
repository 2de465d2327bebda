package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	portraitcropper "github.com/menta2k/portrait-cropper"
)

func main() {
	root := NewRootCmd()

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(portraitcropper.Version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
