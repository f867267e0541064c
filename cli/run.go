package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"go.viam.com/camacq/components/camera/acquisition"
	"go.viam.com/camacq/components/camera/uc480"
	"go.viam.com/camacq/components/camera/uc480/fake"
	"go.viam.com/camacq/config"
	"go.viam.com/camacq/logging"
)

const (
	readBatch = 16

	logFileMaxSizeMB  = 10
	logFileMaxBackups = 3
)

// defaultCameras is used when no camera file is given.
func defaultCameras() *config.Config {
	cfg := &config.Config{}
	for _, name := range uc480.VariantNames() {
		cfg.Cameras = append(cfg.Cameras, config.Camera{
			ID:         "sim-" + name,
			Backend:    name,
			Attributes: map[string]interface{}{"width_px": 640, "height_px": 480},
		})
	}
	return cfg
}

func loadCameras(c *cli.Context) (*config.Config, error) {
	if path := c.Path(generalFlagConfig); path != "" {
		return config.Read(path)
	}
	cfg := defaultCameras()
	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. The returned func closes the log file, if any.
func newLogger(c *cli.Context, cfg *config.Config) (logging.Logger, func(), error) {
	logger := logging.NewBlankLogger("camacq")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	closeLog := func() {}
	if path := c.Path(generalFlagLogFile); path != "" {
		file := logging.NewFileAppender(path, logFileMaxSizeMB, logFileMaxBackups)
		logger.AddAppender(file)
		closeLog = func() {
			if err := file.Close(); err != nil {
				fmt.Fprintln(c.App.ErrWriter, "failed to close log file:", err)
			}
		}
	}

	logger.SetLevel(logging.INFO)
	if cfg.LogLevel != "" {
		level, err := logging.LevelFromString(cfg.LogLevel)
		if err != nil {
			closeLog()
			return nil, nil, err
		}
		logger.SetLevel(level)
	}
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	logging.ReplaceGlobal(logger)
	return logger, closeLog, nil
}

// cameraRun is what the stats table reports for one camera.
type cameraRun struct {
	backend   string
	ringBytes int
	stats     acquisition.Stats

	mu sync.Mutex
	// intervals between consecutive delivered frames, in milliseconds
	intervals []float64
}

// RunAction opens every configured camera on a simulated library, reads the requested number of
// frames from all of them concurrently and prints their statistics.
func RunAction(c *cli.Context) error {
	cfg, err := loadCameras(c)
	if err != nil {
		return err
	}
	if len(cfg.Cameras) == 0 {
		return errors.New("no cameras configured")
	}
	logger, closeLog, err := newLogger(c, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	frames := c.Int(runFlagFrames)
	if frames <= 0 {
		return errors.Errorf("--%s must be positive, got %d", runFlagFrames, frames)
	}
	var override acquisition.FrameskipBehavior
	if s := c.String(runFlagBehavior); s != "" {
		if override, err = acquisition.ParseFrameskipBehavior(s); err != nil {
			return err
		}
	}

	manager := acquisition.NewManager(logger)
	defer func() {
		if closeErr := manager.Close(context.Background()); closeErr != nil {
			logger.Errorw("failed to close cameras", "error", closeErr)
		}
	}()

	runs := make(map[string]*cameraRun, len(cfg.Cameras))
	for _, camCfg := range cfg.Cameras {
		conf := *camCfg.ConvertedAttributes
		lib := fake.NewLibrary(fake.Options{
			FrameInterval: c.Duration(runFlagFrameInterval),
			CounterBits:   conf.CounterBits,
			RestartEvery:  c.Int(runFlagRestartEvery),
			DropEvery:     c.Int(runFlagDropEvery),
		}, logger.Sublogger("fake"))
		backend, err := uc480.NewBackend(camCfg.Variant, lib, conf, logger, nil)
		if err != nil {
			return err
		}
		cam, err := manager.Open(camCfg.ID, backend, conf)
		if err != nil {
			return err
		}
		if override != "" {
			if err := cam.SetFrameskipBehavior(override); err != nil {
				return err
			}
		}
		width, height := cam.GetROI().FrameSize()
		runs[camCfg.ID] = &cameraRun{
			backend:   camCfg.Variant.Name,
			ringBytes: conf.RingSize * width * height * conf.BytesPerPixel,
		}
	}

	timeout := c.Duration(runFlagTimeout)
	if timeout <= 0 {
		timeout = -1
	}
	readCtx := c.Context
	if c.Bool(runFlagLogDrops) {
		readCtx = logging.EnableDebugMode(readCtx, "")
	}
	group, ctx := errgroup.WithContext(readCtx)
	for _, id := range manager.IDs() {
		cam, _ := manager.Get(id)
		run := runs[id]
		group.Go(func() error {
			return run.acquire(ctx, cam, frames, timeout)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, id := range manager.IDs() {
		cam, _ := manager.Get(id)
		if err := cam.Stop(c.Context); err != nil {
			return err
		}
		runs[id].stats = cam.Stats()
	}
	return printStats(c.App.Writer, manager.IDs(), runs)
}

// acquire reads n frames from cam. Frames rejected by the error behavior are counted in the
// camera stats and reading continues.
func (r *cameraRun) acquire(ctx context.Context, cam *acquisition.Camera, n int, timeout time.Duration) error {
	if err := cam.Start(ctx); err != nil {
		return err
	}
	var last time.Time
	for read := 0; read < n; {
		batch, err := cam.ReadMultiple(ctx, min(readBatch, n-read), timeout)
		switch {
		case err == nil:
		case errors.Is(err, acquisition.ErrFrameTransfer):
			continue
		default:
			return errors.Wrapf(err, "camera %q after %d frames", cam.ID(), read)
		}
		read += len(batch)
		r.mu.Lock()
		for _, frame := range batch {
			if !last.IsZero() {
				r.intervals = append(r.intervals, float64(frame.Timestamp.Sub(last))/float64(time.Millisecond))
			}
			last = frame.Timestamp
		}
		r.mu.Unlock()
	}
	return nil
}

// intervalSummary returns the mean and 99th percentile frame interval in milliseconds.
func (r *cameraRun) intervalSummary() (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.intervals) == 0 {
		return "-", "-", nil
	}
	mean, err := stats.Mean(r.intervals)
	if err != nil {
		return "", "", err
	}
	p99, err := stats.Percentile(r.intervals, 99)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%.2fms", mean), fmt.Sprintf("%.2fms", p99), nil
}

func printStats(w io.Writer, ids []string, runs map[string]*cameraRun) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{
		"Camera", "Backend", "Behavior", "Ring memory", "Acquired", "Skip count", "Restarts",
		"Silent drops", "Dropped frames", "Transfer errors", "Queue overflows", "Mean interval", "P99 interval",
	})
	for _, id := range ids {
		run := runs[id]
		s := run.stats
		mean, p99, err := run.intervalSummary()
		if err != nil {
			return errors.Wrapf(err, "summarizing frame intervals of camera %q", id)
		}
		t.AppendRow(table.Row{
			id, run.backend, string(s.FrameskipBehavior), units.BytesSize(float64(run.ringBytes)),
			s.Acquired, s.SkipCount, s.Restarts, s.SilentDrops, s.DroppedFrames, s.TransferErrors,
			s.QueueOverflows, mean, p99,
		})
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
