// Command geoflow exposes the routing core's public entry points as CLI
// subcommands, one per operation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/geoflow/router/internal/xlog"
	"github.com/geoflow/router/routing"
)

var (
	app *cli.App

	cacheCapacityFlag = &cli.IntFlag{
		Name:  "cache-capacity",
		Usage: "tile cache size, in blocks",
		Value: 64,
	}
	scratchDirFlag = &cli.StringFlag{
		Name:  "scratch-dir",
		Usage: "scratch directory for intermediate rasters (default: a unique dir under the OS temp dir)",
	}
	keepScratchFlag = &cli.BoolFlag{
		Name:  "keep-scratch-on-failure",
		Usage: "retain the scratch directory for inspection if the operation fails",
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "log at debug level",
	}

	demFlag      = &cli.StringFlag{Name: "dem", Required: true, Usage: "input DEM raster"}
	demBandFlag  = &cli.IntFlag{Name: "dem-band", Value: 1, Usage: "1-based DEM band"}
	dirFlag      = &cli.StringFlag{Name: "dir", Required: true, Usage: "input flow direction raster"}
	dirBandFlag  = &cli.IntFlag{Name: "dir-band", Value: 1, Usage: "1-based flow direction band"}
	weightFlag   = &cli.StringFlag{Name: "weight", Usage: "optional per-pixel weight raster"}
	weightBand   = &cli.IntFlag{Name: "weight-band", Value: 1, Usage: "1-based weight band"}
	channelFlag  = &cli.StringFlag{Name: "channel", Required: true, Usage: "channel mask raster (nonzero = channel)"}
	channelBand  = &cli.IntFlag{Name: "channel-band", Value: 1, Usage: "1-based channel mask band"}
	outFlag      = &cli.StringFlag{Name: "out", Required: true, Usage: "output raster path"}
	outBandFlag  = &cli.IntFlag{Name: "out-band", Value: 1, Usage: "1-based output band"}
	outflowsFlag = &cli.StringFlag{Name: "outflows", Required: true, Usage: "input vector dataset of outflow points"}
	outflowsLyr  = &cli.StringFlag{Name: "outflows-layer", Required: true, Usage: "layer name within --outflows"}
	outLayerFlag = &cli.StringFlag{Name: "out-layer", Required: true, Usage: "layer name to create in --out"}
)

func init() {
	app = &cli.App{
		Name:  "geoflow",
		Usage: "out-of-core DEM pit filling, flow routing, and watershed delineation",
		Flags: []cli.Flag{
			cacheCapacityFlag,
			scratchDirFlag,
			keepScratchFlag,
			verboseFlag,
		},
		Commands: []*cli.Command{
			{
				Name:   "fill-pits",
				Usage:  "raise every undrained depression in a DEM to its pour point's elevation",
				Flags:  []cli.Flag{demFlag, demBandFlag, outFlag, outBandFlag},
				Action: runFillPits,
			},
			{
				Name:   "flow-dir-d8",
				Usage:  "assign every DEM pixel a single steepest-descent flow direction",
				Flags:  []cli.Flag{demFlag, demBandFlag, outFlag, outBandFlag},
				Action: runFlowDirD8,
			},
			{
				Name:   "flow-accumulation-d8",
				Usage:  "accumulate upstream weight along a D8 direction raster",
				Flags:  []cli.Flag{dirFlag, dirBandFlag, weightFlag, weightBand, outFlag, outBandFlag},
				Action: runFlowAccumulationD8,
			},
			{
				Name:   "flow-dir-mfd",
				Usage:  "assign every DEM pixel a packed multiple-flow-direction distribution",
				Flags:  []cli.Flag{demFlag, demBandFlag, outFlag, outBandFlag},
				Action: runFlowDirMFD,
			},
			{
				Name:   "flow-accumulation-mfd",
				Usage:  "accumulate upstream weight along an MFD direction raster",
				Flags:  []cli.Flag{dirFlag, dirBandFlag, weightFlag, weightBand, outFlag, outBandFlag},
				Action: runFlowAccumulationMFD,
			},
			{
				Name:   "distance-to-channel-d8",
				Usage:  "compute cost-weighted D8 distance to the nearest channel pixel",
				Flags:  []cli.Flag{dirFlag, dirBandFlag, channelFlag, channelBand, weightFlag, weightBand, outFlag, outBandFlag},
				Action: runDistanceToChannelD8,
			},
			{
				Name:   "distance-to-channel-mfd",
				Usage:  "compute fraction-weighted MFD distance to the nearest channel pixel",
				Flags:  []cli.Flag{dirFlag, dirBandFlag, channelFlag, channelBand, outFlag, outBandFlag},
				Action: runDistanceToChannelMFD,
			},
			{
				Name:   "delineate-watersheds",
				Usage:  "delineate the catchment fragment draining to each outflow point",
				Flags:  []cli.Flag{dirFlag, dirBandFlag, outflowsFlag, outflowsLyr, outFlag, outLayerFlag},
				Action: runDelineateWatersheds,
			},
		},
	}
}

func optionsFromContext(c *cli.Context) routing.Options {
	opts := routing.DefaultOptions()
	opts.CacheCapacity = c.Int(cacheCapacityFlag.Name)
	opts.ScratchDir = c.String(scratchDirFlag.Name)
	opts.KeepScratchOnFailure = c.Bool(keepScratchFlag.Name)
	if c.Bool(verboseFlag.Name) {
		opts.Logger = xlog.New(slog.LevelDebug)
	}
	return opts
}

func pathBand(path string, band int) routing.PathBand {
	return routing.PathBand{Path: path, Band: band}
}

func optionalPathBand(c *cli.Context, pathFlag, bandFlag string) *routing.PathBand {
	path := c.String(pathFlag)
	if path == "" {
		return nil
	}
	pb := pathBand(path, c.Int(bandFlag))
	return &pb
}

func runFillPits(c *cli.Context) error {
	return routing.FillPits(context.Background(), optionsFromContext(c),
		pathBand(c.String(demFlag.Name), c.Int(demBandFlag.Name)),
		pathBand(c.String(outFlag.Name), c.Int(outBandFlag.Name)))
}

func runFlowDirD8(c *cli.Context) error {
	return routing.FlowDirD8(context.Background(), optionsFromContext(c),
		pathBand(c.String(demFlag.Name), c.Int(demBandFlag.Name)),
		pathBand(c.String(outFlag.Name), c.Int(outBandFlag.Name)))
}

func runFlowAccumulationD8(c *cli.Context) error {
	return routing.FlowAccumulationD8(context.Background(), optionsFromContext(c),
		pathBand(c.String(dirFlag.Name), c.Int(dirBandFlag.Name)),
		optionalPathBand(c, weightFlag.Name, weightBand.Name),
		pathBand(c.String(outFlag.Name), c.Int(outBandFlag.Name)))
}

func runFlowDirMFD(c *cli.Context) error {
	return routing.FlowDirMFD(context.Background(), optionsFromContext(c),
		pathBand(c.String(demFlag.Name), c.Int(demBandFlag.Name)),
		pathBand(c.String(outFlag.Name), c.Int(outBandFlag.Name)))
}

func runFlowAccumulationMFD(c *cli.Context) error {
	return routing.FlowAccumulationMFD(context.Background(), optionsFromContext(c),
		pathBand(c.String(dirFlag.Name), c.Int(dirBandFlag.Name)),
		optionalPathBand(c, weightFlag.Name, weightBand.Name),
		pathBand(c.String(outFlag.Name), c.Int(outBandFlag.Name)))
}

func runDistanceToChannelD8(c *cli.Context) error {
	return routing.DistanceToChannelD8(context.Background(), optionsFromContext(c),
		pathBand(c.String(dirFlag.Name), c.Int(dirBandFlag.Name)),
		pathBand(c.String(channelFlag.Name), c.Int(channelBand.Name)),
		optionalPathBand(c, weightFlag.Name, weightBand.Name),
		pathBand(c.String(outFlag.Name), c.Int(outBandFlag.Name)))
}

func runDistanceToChannelMFD(c *cli.Context) error {
	return routing.DistanceToChannelMFD(context.Background(), optionsFromContext(c),
		pathBand(c.String(dirFlag.Name), c.Int(dirBandFlag.Name)),
		pathBand(c.String(channelFlag.Name), c.Int(channelBand.Name)),
		pathBand(c.String(outFlag.Name), c.Int(outBandFlag.Name)))
}

func runDelineateWatersheds(c *cli.Context) error {
	return routing.DelineateWatersheds(context.Background(), optionsFromContext(c),
		pathBand(c.String(dirFlag.Name), c.Int(dirBandFlag.Name)),
		c.String(outflowsFlag.Name), c.String(outflowsLyr.Name),
		c.String(outFlag.Name), c.String(outLayerFlag.Name))
}

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		xlog.Default().Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		xlog.Default().Warn("failed to set GOMAXPROCS from cgroup limits", "error", err)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
