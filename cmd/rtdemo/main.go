// Command rtdemo renders a raytraced icosphere headlessly and reports the
// resources it uses.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	_ "github.com/gogpu/wgpu/hal/noop"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func main() {
	app := cli.NewApp()
	app.Name = "rtdemo"
	app.Usage = "render a mesh with DXR-style raytracing"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable info logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable debug logging",
		},
		cli.StringFlag{
			Name:  "config, c",
			Usage: "load settings from a TOML or YAML file",
		},
		cli.StringFlag{
			Name:  "backend, b",
			Usage: "hal backend: vulkan, metal, dx12, gl or noop",
		},
	}
	engineFlags := []cli.Flag{
		cli.IntFlag{
			Name:  "width",
			Usage: "frame width (default from config)",
		},
		cli.IntFlag{
			Name:  "height",
			Usage: "frame height (default from config)",
		},
		cli.IntFlag{
			Name:  "subdivisions",
			Value: -1,
			Usage: "icosphere subdivision level (default from config)",
		},
		cli.BoolFlag{
			Name:  "fallback",
			Usage: "use the compute fallback even on a native raytracing driver",
		},
		cli.BoolFlag{
			Name:  "require-native",
			Usage: "fail unless a native raytracing driver is present",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "render",
			Usage: "initialize the scene and render frames",
			Description: `
Build the bottom- and top-level acceleration structures for an icosphere,
compile the raytracing pipeline, write the shader tables and render the
requested number of frames to an offscreen swapchain.`,
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "frames, n",
					Value: 60,
					Usage: "number of frames to render",
				},
				cli.StringFlag{
					Name:  "shader, s",
					Usage: "WGSL raytracing library (default: embedded shader)",
				},
			}, engineFlags...),
			Action: renderFrames,
		},
		{
			Name:   "info",
			Usage:  "print prebuild sizes, descriptor use and shader record sizes",
			Flags:  engineFlags,
			Action: printInfo,
		},
		{
			Name:   "adapters",
			Usage:  "list the adapters of the selected backend",
			Action: listAdapters,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rtdemo: %v\n", err)
		os.Exit(1)
	}
}
