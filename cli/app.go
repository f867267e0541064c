// Package cli contains the camacq command line tool.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	generalFlagConfig  = "config"
	generalFlagDebug   = "debug"
	generalFlagLogFile = "log-file"

	runFlagFrames        = "frames"
	runFlagTimeout       = "timeout"
	runFlagFrameInterval = "frame-interval"
	runFlagRestartEvery  = "restart-every"
	runFlagDropEvery     = "drop-every"
	runFlagBehavior      = "frameskip-behavior"
	runFlagLogDrops      = "log-drops"
)

var app = &cli.App{
	Name:            "camacq",
	Usage:           "acquire frames from uc480 and uEye cameras",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load cameras from `FILE`; without it one simulated camera per backend is used",
		},
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.PathFlag{
			Name:  generalFlagLogFile,
			Usage: "also write logs to `FILE`, rotated by size",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "run",
			Usage:     "acquire frames from simulated cameras and print acquisition statistics",
			UsageText: "camacq [--config FILE] run [--frames N] [other options]",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  runFlagFrames,
					Value: 100,
					Usage: "number of frames to read from each camera",
				},
				&cli.DurationFlag{
					Name:  runFlagTimeout,
					Usage: "read timeout; defaults to each camera's read_timeout",
				},
				&cli.DurationFlag{
					Name:  runFlagFrameInterval,
					Value: 5 * time.Millisecond,
					Usage: "time between frames captured by the simulated sensor",
				},
				&cli.IntFlag{
					Name:  runFlagRestartEvery,
					Usage: "restart the hardware frame counter every N captured frames",
				},
				&cli.IntFlag{
					Name:  runFlagDropEvery,
					Usage: "lose one frame in transit every N captured frames",
				},
				&cli.BoolFlag{
					Name:  runFlagLogDrops,
					Usage: "log frames dropped in transit without enabling debug logging",
				},
				&cli.StringFlag{
					Name:  runFlagBehavior,
					Usage: "override the frameskip behavior of every camera: ignore, skip or error",
				},
			},
			Action: RunAction,
		},
		{
			Name:   "policies",
			Usage:  "list frameskip behaviors",
			Action: PoliciesAction,
		},
		{
			Name:   "backends",
			Usage:  "list camera backends",
			Action: BackendsAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
