package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	portraitcropper "github.com/menta2k/portrait-cropper"
	"github.com/menta2k/portrait-cropper/pkg/types"
)

func newDecideCmd() *cobra.Command {
	var (
		width, height int
		face          string
	)

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Compute the crop decision for one face box",
		Long: `Runs the crop decision for an image size and a face box without touching
any file, and prints the decision as JSON.`,
		Example: `  portrait-cropper decide --width 400 --height 400 --face 160,120,80,80`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if width <= 0 || height <= 0 {
				return fmt.Errorf("image size must be positive, got %dx%d", width, height)
			}
			box, err := parseFace(face)
			if err != nil {
				return err
			}
			if box.Empty() {
				return fmt.Errorf("face box must have a positive area, got %s", face)
			}

			decision := portraitcropper.NewEngine(cfg.Cropper).Decide(width, height, box)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(decision)
		},
	}

	cmd.Flags().IntVar(&width, "width", 0, "image width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "image height in pixels")
	cmd.Flags().StringVar(&face, "face", "", "face box as x,y,w,h")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
	_ = cmd.MarkFlagRequired("face")

	return cmd
}

// parseFace parses "x,y,w,h"
func parseFace(s string) (types.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.Rect{}, fmt.Errorf("face must be x,y,w,h, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return types.Rect{}, fmt.Errorf("invalid face component %q: %w", p, err)
		}
		v[i] = n
	}
	return types.Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}
