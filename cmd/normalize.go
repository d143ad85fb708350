package cmd

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/passport/internal/codec"
	"github.com/andresmejia3/passport/internal/config"
	"github.com/andresmejia3/passport/internal/pipeline"
	"github.com/andresmejia3/passport/internal/raster"
	"github.com/andresmejia3/passport/internal/types"
	"github.com/andresmejia3/passport/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [photos...]",
	Short: "Crop, center and clean up photos for a passport preset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runNormalize(cmd.Context(), Cfg, args, cmd.OutOrStdout())
	},
}

func init() {
	f := normalizeCmd.Flags()
	f.StringP("output-dir", "o", "", "Directory for results (default: next to each input)")
	f.StringP("preset", "p", "usa", "Document preset, see 'passport presets'")
	f.StringP("format", "f", "jpg", "Output format: jpg, png, webp")
	f.IntP("quality", "q", codec.DefaultQuality, "Quality for jpg/webp (1-100)")
	f.String("background", "#ffffff", "Background color as hex")

	d := types.DefaultToggles()
	f.Bool("face-crop", d.FaceCrop, "Scale and crop around the detected face")
	f.Bool("bg-remove", d.BgRemove, "Replace the background using the person mask")
	f.Bool("auto-center", d.AutoCenter, "Align the eyes to the preset's eye line")
	f.Bool("eye-guides", d.EyeGuides, "Report the preset's guide lines")
	f.Bool("red-eye", d.RedEye, "Reduce red-eye around detected eyes")
	f.Bool("lighting", d.Lighting, "Stretch levels to the full range")

	f.IntP("engines", "e", 1, "Number of photos processed in parallel")
	addEngineFlags(normalizeCmd, true)
	f.Int("max-canvas-pixels", 64<<20, "Refuse canvases larger than this many pixels")

	rootCmd.AddCommand(normalizeCmd)
}

// addEngineFlags registers the model backend flags shared by commands
// that run detection.
func addEngineFlags(cmd *cobra.Command, withSegmenter bool) {
	f := cmd.Flags()
	f.String("detector", "pigo", "Face detector: pigo, yunet, worker, none")
	f.String("cascade-dir", "cascade", "Directory holding the pigo facefinder/puploc cascades")
	f.String("yunet-model", "models/face_detection_yunet_2023mar.onnx", "YuNet onnx model (gocv builds only)")
	f.Int("min-face", 40, "Smallest face in pixels the pigo detector looks for")
	f.String("python", "python3", "Python interpreter for the model worker")
	f.String("worker-script", "python/worker.py", "Model worker script")
	if withSegmenter {
		f.String("segmenter", "worker", "Person segmenter: worker, none")
	}
}

// normalizePlan is a validated run.
type normalizePlan struct {
	Options pipeline.Options
	Inputs  []string
	Outputs map[string]string
}

func validateNormalizeFlags(c *config.Config, args []string) (*normalizePlan, error) {
	if c == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	spec, err := types.LookupPreset(c.Output.Preset)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return nil, err
	}
	format, err := codec.ParseFormat(c.Output.Format)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return nil, err
	}
	bg, err := raster.ParseHexColor(c.Output.Background)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return nil, err
	}

	if c.Output.Dir != "" {
		if info, err := os.Stat(c.Output.Dir); err == nil && !info.IsDir() {
			err := fmt.Errorf("%s is not a directory", c.Output.Dir)
			utils.ShowError("Configuration Error", err, nil)
			return nil, err
		}
	}

	if len(args) == 0 {
		err := fmt.Errorf("no input photos given")
		utils.ShowError("Configuration Error", err, nil)
		return nil, err
	}

	plan := &normalizePlan{
		Options: pipeline.Options{
			Spec:       spec,
			Toggles:    c.Toggles,
			Background: bg,
			Format:     format,
			Quality:    c.Output.Quality,
		},
		Outputs: make(map[string]string, len(args)),
	}
	claimed := make(map[string]string, len(args))

	for _, in := range args {
		info, err := os.Stat(in)
		if err != nil {
			if os.IsNotExist(err) {
				utils.ShowError("Input file does not exist", err, nil)
				return nil, err
			}
			utils.ShowError("Unable to access input file", err, nil)
			return nil, err
		}
		if info.IsDir() {
			err := fmt.Errorf("%s is a directory", in)
			utils.ShowError("Input path is a directory, expected a photo", err, nil)
			return nil, err
		}
		if _, dup := plan.Outputs[in]; dup {
			continue
		}

		out := utils.OutputPath(c.Output.Dir, in, format.Ext())
		// Prevent overwriting the input, which would destroy the original photo
		if utils.SamePath(in, out) {
			return nil, fmt.Errorf("output %s would overwrite its input", out)
		}
		if prev, taken := claimed[out]; taken {
			return nil, fmt.Errorf("%s and %s would both be written to %s", prev, in, out)
		}
		claimed[out] = in
		plan.Inputs = append(plan.Inputs, in)
		plan.Outputs[in] = out
	}
	return plan, nil
}

func runNormalize(ctx context.Context, c *config.Config, args []string, stdout io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	plan, err := validateNormalizeFlags(c, args)
	if err != nil {
		return err
	}
	if c.Output.Dir != "" {
		if err := os.MkdirAll(c.Output.Dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	eng, err := newEngines(c, Log, c.Toggles.BgRemove)
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			Log.Warn().Err(err).Msg("failed to shut down model")
		}
	}()

	orch := pipeline.New(pipeline.Config{
		Detector:        eng.Detector,
		Segmenter:       eng.Segmenter,
		MaxCanvasPixels: c.MaxCanvasPixels,
		Logger:          Log,
	})

	jobs := make([]pipeline.Job, len(plan.Inputs))
	for i, in := range plan.Inputs {
		jobs[i] = pipeline.Job{
			Name: in,
			Load: func(context.Context) (image.Image, error) { return codec.DecodeFile(in) },
		}
	}

	Log.Info().
		Int("photos", len(jobs)).
		Str("preset", plan.Options.Spec.Name).
		Str("format", string(plan.Options.Format)).
		Int("engines", c.Engines).
		Msg("normalizing")

	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetDescription("📸 Normalizing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	// onDone calls are serialized, so writes need no extra locking
	writeErrs := make(map[string]error)
	results := orch.Batch(ctx, jobs, plan.Options, c.Engines, func(r pipeline.BatchResult) {
		bar.Add(1)
		if r.Err != nil {
			return
		}
		if err := os.WriteFile(plan.Outputs[r.Name], r.Result.Encoded, 0644); err != nil {
			writeErrs[r.Name] = err
		}
		// The canvas is not needed after encoding
		r.Result.Canvas = nil
	})
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	failed := printSummary(stdout, results, plan, writeErrs)
	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d photos failed", failed, len(results))
	}
	return nil
}

// printSummary writes one row per photo and returns how many failed.
func printSummary(out io.Writer, results []pipeline.BatchResult, plan *normalizePlan, writeErrs map[string]error) int {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "PHOTO\tSTATUS\tSCALE\tFACE\tEYES\tMASK\tLEVELED\tRED-EYE PX\tOUTPUT")
	fmt.Fprintln(w, "-----\t------\t-----\t----\t----\t----\t-------\t----------\t------")

	failed := 0
	for _, r := range results {
		err := r.Err
		if err == nil {
			err = writeErrs[r.Name]
		}
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\t-\t-\t-\t%v\n", r.Name, err)
			continue
		}
		res := r.Result
		fmt.Fprintf(w, "%s\tok\t%.4f\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Name,
			res.Transform.Scale,
			yesNo(res.Anchor.HasAnchor()),
			yesNo(res.Anchor.HasEyes()),
			yesNo(res.MaskApplied),
			yesNo(res.Leveled),
			res.RedEyePixels,
			plan.Outputs[r.Name],
		)
	}
	w.Flush()

	if g := firstGuides(results); g != nil {
		fmt.Fprintf(out, "\nGuides (%s %dx%d): top y=%.1f  eyes y=%.1f  chin y=%.1f  center x=%.1f\n",
			plan.Options.Spec.Name, plan.Options.Spec.Width, plan.Options.Spec.Height,
			g.TopY, g.EyeY, g.ChinY, g.CenterX)
	}
	return failed
}

func firstGuides(results []pipeline.BatchResult) *types.Guides {
	for _, r := range results {
		if r.Result != nil && r.Result.Guides != nil {
			return r.Result.Guides
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
