package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gogpu/raytrace"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

func setupLogging(ctx *cli.Context) {
	level := slog.LevelWarn
	if ctx.GlobalBool("v") {
		level = slog.LevelInfo
	}
	if ctx.GlobalBool("vv") {
		level = slog.LevelDebug
	}
	raytrace.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig merges the config file, the global flags and the command
// flags, in that order.
func loadConfig(ctx *cli.Context) (raytrace.Config, error) {
	cfg := raytrace.DefaultConfig()
	if path := ctx.GlobalString("config"); path != "" {
		var err error
		if cfg, err = raytrace.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if b := ctx.GlobalString("backend"); b != "" {
		cfg.Backend = b
	}
	if w := ctx.Int("width"); w > 0 {
		cfg.Width = uint32(w)
	}
	if h := ctx.Int("height"); h > 0 {
		cfg.Height = uint32(h)
	}
	if n := ctx.Int("subdivisions"); n >= 0 {
		cfg.Subdivisions = n
	}
	if s := ctx.String("shader"); s != "" {
		cfg.ShaderPath = s
	}
	cfg.ForceFallback = cfg.ForceFallback || ctx.Bool("fallback")
	cfg.RequireNativeRaytracing = cfg.RequireNativeRaytracing || ctx.Bool("require-native")
	return cfg, cfg.Validate()
}

func newEngine(ctx *cli.Context) (*raytrace.Engine, error) {
	setupLogging(ctx)
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return raytrace.New(raytrace.WithConfig(cfg))
}

func renderFrames(ctx *cli.Context) error {
	e, err := newEngine(ctx)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer e.Close()

	bg := context.Background()
	start := time.Now()
	if err := e.Init(bg); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	initTime := time.Since(start)

	frames := ctx.Int("frames")
	start = time.Now()
	for i := 0; i < frames; i++ {
		if err := e.Render(bg); err != nil {
			if raytrace.IsFatal(err) {
				return fmt.Errorf("render frame %d: %w", i, err)
			}
			raytrace.Logger().Warn("rtdemo: frame skipped", "frame", i, "error", err)
		}
	}
	renderTime := time.Since(start)

	w, h := e.Size()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Mode", "Extent", "Frames", "Init", "Render", "Per frame"})
	perFrame := time.Duration(0)
	if e.Frames() > 0 {
		perFrame = renderTime / time.Duration(e.Frames())
	}
	table.Append([]string{
		e.Mode().String(),
		fmt.Sprintf("%dx%d", w, h),
		strconv.FormatUint(e.Frames(), 10),
		initTime.Round(time.Microsecond).String(),
		renderTime.Round(time.Microsecond).String(),
		perFrame.Round(time.Microsecond).String(),
	})
	table.Render()
	return e.Close()
}

func printInfo(ctx *cli.Context) error {
	e, err := newEngine(ctx)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer e.Close()

	info, err := e.Info()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Property", "Value"})
	table.AppendBulk([][]string{
		{"Adapter", info.Adapter},
		{"Mode", info.Mode},
		{"Extent", fmt.Sprintf("%dx%d", info.Width, info.Height)},
		{"Triangles", strconv.Itoa(info.Triangles)},
		{"BLAS result / scratch", fmt.Sprintf("%d / %d bytes", info.BLAS.Result, info.BLAS.Scratch)},
		{"TLAS result / scratch", fmt.Sprintf("%d / %d bytes", info.TLAS.Result, info.TLAS.Scratch)},
		{"Descriptors", fmt.Sprintf("%d of %d", info.DescriptorsUsed, info.DescriptorCapacity)},
		{"Shader record", fmt.Sprintf("%d bytes", info.ShaderRecordSize)},
	})
	table.Render()
	return nil
}

func listAdapters(ctx *cli.Context) error {
	setupLogging(ctx)
	backend := ctx.GlobalString("backend")
	if backend == "" {
		backend = raytrace.DefaultConfig().Backend
	}
	infos, err := raytrace.Adapters(backend)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"#", "Name", "Vendor", "Type", "Driver", "Backend"})
	for i, a := range infos {
		table.Append([]string{
			strconv.Itoa(i),
			a.Name,
			a.Vendor,
			a.DeviceType.String(),
			a.Driver,
			a.Backend.String(),
		})
	}
	table.Render()
	return nil
}
