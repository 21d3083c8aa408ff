package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	flagImage     = "image"
	flagBlocks    = "blocks"
	flagBlockSize = "block-size"
	flagCache     = "cache"
	flagConfig    = "config"
	flagDebug     = "debug"
	flagFormat    = "format"
)

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	logrus.SetLevel(logrus.InfoLevel)
}

func newApp() *cli.App {
	state := &appState{}

	return &cli.App{
		Name:  "simplefs",
		Usage: "Create and manipulate SimpleFS disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagImage,
				Aliases: []string{"i"},
				Usage:   "path to the disk image",
			},
			&cli.UintFlag{
				Name:  flagBlocks,
				Usage: "size of the image in blocks; only needed when formatting a new image",
			},
			&cli.UintFlag{
				Name:  flagBlockSize,
				Usage: "size of a block in bytes",
				Value: defaultBlockSize,
			},
			&cli.BoolFlag{
				Name:  flagCache,
				Usage: "buffer writes in memory until the command finishes",
			},
			&cli.StringFlag{
				Name:  flagConfig,
				Usage: "path to a YAML config file",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: state.configure,
		Commands: []*cli.Command{
			{
				Name:   "format",
				Usage:  "Create a new, empty file system on the image",
				Action: state.format,
			},
			{
				Name:  "debug",
				Usage: "Describe the superblock and every file on the image",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagFormat,
						Usage: "output format: text, csv, or yaml",
						Value: "text",
					},
				},
				Action: state.debug,
			},
			{
				Name:   "create",
				Usage:  "Create an empty file and print its inode number",
				Action: state.create,
			},
			{
				Name:      "delete",
				Usage:     "Delete a file",
				ArgsUsage: "INUMBER",
				Action:    state.delete,
			},
			{
				Name:      "getsize",
				Usage:     "Print the size of a file",
				ArgsUsage: "INUMBER",
				Action:    state.getsize,
			},
			{
				Name:      "cat",
				Usage:     "Write the contents of a file to stdout",
				ArgsUsage: "INUMBER",
				Action:    state.cat,
			},
			{
				Name:      "copyin",
				Usage:     "Copy a file on the host into the image",
				ArgsUsage: "PATH  INUMBER",
				Action:    state.copyin,
			},
			{
				Name:      "copyout",
				Usage:     "Copy a file in the image onto the host",
				ArgsUsage: "INUMBER  PATH",
				Action:    state.copyout,
			},
			{
				Name:   "stat",
				Usage:  "Print usage statistics for the image",
				Action: state.stat,
			},
			{
				Name:      "export",
				Usage:     "Write a compressed copy of the image to ARCHIVE",
				ArgsUsage: "ARCHIVE",
				Action:    state.export,
			},
			{
				Name:      "import",
				Usage:     "Replace the image with the contents of a compressed ARCHIVE",
				ArgsUsage: "ARCHIVE",
				Action:    state.importArchive,
			},
			{
				Name:      "fuse",
				Usage:     "Mount the image at MOUNTPOINT until interrupted",
				ArgsUsage: "MOUNTPOINT",
				Action:    state.fuse,
			},
		},
	}
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		logrus.Errorf("fatal error: %s", err.Error())
		os.Exit(exitCode(err))
	}
}
