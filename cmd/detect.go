package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/andresmejia3/passport/internal/codec"
	"github.com/andresmejia3/passport/internal/compose"
	"github.com/andresmejia3/passport/internal/config"
	"github.com/andresmejia3/passport/internal/pipeline"
	"github.com/andresmejia3/passport/internal/types"
	"github.com/andresmejia3/passport/internal/utils"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect [photos...]",
	Short: "Show the face anchor and placement a preset would use, without writing files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDetect(cmd.Context(), Cfg, args, cmd.OutOrStdout())
	},
}

func init() {
	detectCmd.Flags().StringP("preset", "p", "usa", "Document preset to place the face on")
	detectCmd.Flags().Bool("face-crop", true, "Scale around the detected face")
	detectCmd.Flags().Bool("auto-center", true, "Align the eyes to the preset's eye line")
	addEngineFlags(detectCmd, false)
	rootCmd.AddCommand(detectCmd)
}

func runDetect(ctx context.Context, c *config.Config, args []string, out io.Writer) error {
	spec, err := types.LookupPreset(c.Output.Preset)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	eng, err := newEngines(c, Log, false)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	defer eng.Close()

	failed := 0
	for _, path := range args {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := detectOne(ctx, eng.Detector, path, spec, c.Toggles, out); err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n\n", path, err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d photos could not be read", failed, len(args))
	}
	return nil
}

// detectOne places one photo the same way normalize would. det may be nil.
func detectOne(ctx context.Context, det pipeline.FaceDetector, path string, spec types.TargetSpec, tg types.Toggles, out io.Writer) error {
	img, err := codec.DecodeFile(path)
	if err != nil {
		return err
	}

	var anchor *types.FaceAnchor
	if det != nil {
		anchor = det.Detect(ctx, img)
	}
	b := img.Bounds()
	t := compose.ComputeTransform(b.Dx(), b.Dy(), anchor, spec, pipeline.Anchoring(tg))
	describeAnchor(out, path, b.Dx(), b.Dy(), anchor, spec, t)
	return nil
}

func describeAnchor(out io.Writer, path string, w, h int, anchor *types.FaceAnchor, spec types.TargetSpec, t types.Transform) {
	fmt.Fprintf(out, "📷 %s (%dx%d)\n", path, w, h)
	switch {
	case !anchor.HasAnchor():
		fmt.Fprintln(out, "   face:   none found, cover fit")
	case anchor.Box != nil:
		fmt.Fprintf(out, "   face:   x=%.1f y=%.1f w=%.1f h=%.1f\n", anchor.Box.X, anchor.Box.Y, anchor.Box.Width, anchor.Box.Height)
	default:
		fmt.Fprintln(out, "   face:   eyes only")
	}
	if anchor.HasEyes() {
		fmt.Fprintf(out, "   eyes:   left (%.1f, %.1f) right (%.1f, %.1f)\n",
			anchor.LeftEye.X, anchor.LeftEye.Y, anchor.RightEye.X, anchor.RightEye.Y)
	}

	eye := t.Apply(compose.EyePoint(w, h, anchor))
	g := spec.Guides()
	fmt.Fprintf(out, "   place:  scale=%.4f dx=%.1f dy=%.1f on %s %dx%d\n", t.Scale, t.DX, t.DY, spec.Name, spec.Width, spec.Height)
	fmt.Fprintf(out, "   eyes at (%.1f, %.1f), guide line y=%.1f\n\n", eye.X, eye.Y, g.EyeY)
}
