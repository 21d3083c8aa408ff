package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/blockdevice"
	"github.com/dargueta/blockfs/file_systems/common/blockcache"
	"github.com/dargueta/blockfs/file_systems/simplefs"
	"github.com/dargueta/blockfs/mountpoint"
	"github.com/dargueta/blockfs/utilities/compression"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type appState struct {
	config *Config
}

func (state *appState) configure(ctx *cli.Context) error {
	config, err := LoadConfig(ctx.String(flagConfig))
	if err != nil {
		return err
	}
	config.ApplyFlags(ctx)

	if config.Debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("debug logging enabled")
	}
	state.config = config
	return nil
}

// session is an open disk image, and the volume on it if it was mounted.
type session struct {
	image  *blockdevice.StreamDevice
	device blockfs.BlockDevice
	fs     *simplefs.FileSystem
	volume *simplefs.Volume
}

// open opens the image. Only formatting may create a new image or resize an
// existing one.
func (state *appState) open(formatting bool) (*session, error) {
	config := state.config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	totalBlocks := uint(0)
	if formatting {
		totalBlocks = config.Blocks
	} else if _, err := os.Stat(config.Image); err != nil {
		return nil, blockfs.ErrInvalidArgument.Wrap(err)
	}

	image, err := blockdevice.OpenFileDevice(config.Image, config.BlockSize, totalBlocks)
	if err != nil {
		return nil, err
	}

	s := &session{image: image, device: image}
	if config.Cache {
		s.device = blockcache.WrapDevice(image)
	}

	s.fs = simplefs.New(s.device, simplefs.WithLogger(logrus.WithField("image", config.Image)))
	return s, nil
}

// openMounted opens the image and mounts the volume on it.
func (state *appState) openMounted() (*session, error) {
	s, err := state.open(false)
	if err != nil {
		return nil, err
	}

	s.volume, err = s.fs.Mount()
	if err != nil {
		return nil, multierror.Append(err, s.image.Close()).ErrorOrNil()
	}
	return s, nil
}

// Close unmounts the volume if needed, flushes everything to the image, and
// closes it.
func (s *session) Close() error {
	var result *multierror.Error

	if s.volume != nil && s.fs.IsMounted() {
		result = multierror.Append(result, s.volume.Unmount())
	} else if flusher, ok := s.device.(blockfs.Flusher); ok {
		result = multierror.Append(result, flusher.Flush())
	}

	stats := s.image.Stats()
	logrus.WithFields(logrus.Fields{
		"reads":  stats.Reads,
		"writes": stats.Writes,
	}).Debug("closing image")

	result = multierror.Append(result, s.image.Close())
	return result.ErrorOrNil()
}

// withVolume runs `action` on the mounted volume and closes the session
// afterwards, even if `action` fails.
func (state *appState) withVolume(action func(volume *simplefs.Volume) error) (err error) {
	s, err := state.openMounted()
	if err != nil {
		return err
	}
	defer func() {
		closeErr := s.Close()
		if closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
	}()
	return action(s.volume)
}

func parseInumber(ctx *cli.Context, index int) (simplefs.Inumber, error) {
	arg := ctx.Args().Get(index)
	if arg == "" {
		return 0, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("missing argument %d: INUMBER", index+1))
	}
	value, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("not a valid inode number: %q", arg))
	}
	return simplefs.Inumber(value), nil
}

func requireArgs(ctx *cli.Context, count int) error {
	if ctx.NArg() != count {
		return blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"expected %d arguments, got %d (usage: %s %s)",
				count,
				ctx.NArg(),
				ctx.Command.Name,
				ctx.Command.ArgsUsage))
	}
	return nil
}

func (state *appState) format(ctx *cli.Context) (err error) {
	s, err := state.open(true)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := s.Close()
		if closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
	}()

	err = s.fs.Format()
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "disk formatted.")
	return nil
}

func (state *appState) debug(ctx *cli.Context) (err error) {
	s, err := state.open(false)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := s.Close()
		if closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
	}()

	outputFormat := ctx.String(flagFormat)
	if outputFormat == "text" {
		return s.fs.Debug(ctx.App.Writer)
	}

	report, err := s.fs.Report()
	if err != nil {
		return err
	}

	switch outputFormat {
	case "csv":
		return report.WriteCSV(ctx.App.Writer)
	case "yaml":
		return report.WriteYAML(ctx.App.Writer)
	default:
		return blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("unknown output format %q", outputFormat))
	}
}

func (state *appState) create(ctx *cli.Context) error {
	return state.withVolume(func(volume *simplefs.Volume) error {
		inumber, err := volume.Create()
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "created inode %d\n", inumber)
		return nil
	})
}

func (state *appState) delete(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	inumber, err := parseInumber(ctx, 0)
	if err != nil {
		return err
	}

	return state.withVolume(func(volume *simplefs.Volume) error {
		err := volume.Delete(inumber)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "inode %d deleted.\n", inumber)
		return nil
	})
}

func (state *appState) getsize(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	inumber, err := parseInumber(ctx, 0)
	if err != nil {
		return err
	}

	return state.withVolume(func(volume *simplefs.Volume) error {
		size, err := volume.GetSize(inumber)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "inode %d has size %d\n", inumber, size)
		return nil
	})
}

func copyOut(volume *simplefs.Volume, inumber simplefs.Inumber, w io.Writer) (int64, error) {
	stream, err := volume.Open(inumber, os.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer stream.Close()
	return io.Copy(w, stream)
}

func (state *appState) cat(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	inumber, err := parseInumber(ctx, 0)
	if err != nil {
		return err
	}

	return state.withVolume(func(volume *simplefs.Volume) error {
		_, err := copyOut(volume, inumber, ctx.App.Writer)
		return err
	})
}

func (state *appState) copyin(ctx *cli.Context) error {
	if err := requireArgs(ctx, 2); err != nil {
		return err
	}
	sourcePath := ctx.Args().Get(0)
	inumber, err := parseInumber(ctx, 1)
	if err != nil {
		return err
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer source.Close()

	return state.withVolume(func(volume *simplefs.Volume) error {
		stream, err := volume.Open(inumber, os.O_WRONLY)
		if err != nil {
			return err
		}
		defer stream.Close()

		copied, err := stream.ReadFrom(source)
		if simplefs.IsOutOfSpace(err) {
			logrus.WithError(err).Warnf("only %d bytes of %s fit", copied, sourcePath)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "%d bytes copied\n", copied)
		return nil
	})
}

func (state *appState) copyout(ctx *cli.Context) error {
	if err := requireArgs(ctx, 2); err != nil {
		return err
	}
	inumber, err := parseInumber(ctx, 0)
	if err != nil {
		return err
	}
	targetPath := ctx.Args().Get(1)

	return state.withVolume(func(volume *simplefs.Volume) error {
		target, err := os.Create(targetPath)
		if err != nil {
			return err
		}

		copied, err := copyOut(volume, inumber, target)
		closeErr := target.Close()
		if err != nil {
			return err
		} else if closeErr != nil {
			return closeErr
		}

		fmt.Fprintf(ctx.App.Writer, "%d bytes copied\n", copied)
		return nil
	})
}

func (state *appState) stat(ctx *cli.Context) error {
	return state.withVolume(func(volume *simplefs.Volume) error {
		stat := volume.Stat()
		superblock := volume.Superblock()

		w := ctx.App.Writer
		fmt.Fprintf(w, "volume id:      %s\n", superblock.ID())
		fmt.Fprintf(w, "block size:     %d\n", stat.BlockSize)
		fmt.Fprintf(w, "total blocks:   %d\n", stat.TotalBlocks)
		fmt.Fprintf(w, "reserved:       %d\n", stat.BlocksReserved)
		fmt.Fprintf(w, "free blocks:    %d\n", stat.BlocksFree)
		fmt.Fprintf(w, "files:          %d\n", stat.Files)
		fmt.Fprintf(w, "free inodes:    %d\n", stat.FilesFree)
		fmt.Fprintf(w, "max file size:  %d\n", stat.MaxFileSize)
		return nil
	})
}

func (state *appState) fuse(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	target := ctx.Args().Get(0)

	return state.withVolume(func(volume *simplefs.Volume) error {
		server, err := mountpoint.Mount(
			target,
			volume,
			logrus.WithField("mountpoint", target),
			mountpoint.Options{Debug: state.config.Debug})
		if err != nil {
			return err
		}

		go server.Serve()
		if err := server.WaitMount(); err != nil {
			return blockfs.ErrIOFailed.Wrap(err)
		}
		logrus.Infof("mounted at %s, press Ctrl+C to unmount", target)

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)

		go func() {
			<-signals
			logrus.Info("unmounting")
			if err := server.Unmount(); err != nil {
				logrus.WithError(err).Error("unmount failed")
			}
		}()

		server.Wait()
		return nil
	})
}

func (state *appState) export(ctx *cli.Context) (err error) {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	archivePath := ctx.Args().Get(0)

	s, err := state.open(false)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := s.Close()
		if closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
	}()

	// Refuse to archive something that isn't a volume.
	if _, _, err := s.fs.ReadSuperblock(); err != nil {
		return err
	}

	var raw bytes.Buffer
	imageSize, err := s.image.WriteTo(&raw)
	if err != nil {
		return err
	}

	archive, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	_, err = compression.CompressImage(&raw, archive)
	closeErr := archive.Close()
	if err != nil {
		return blockfs.ErrIOFailed.Wrap(err)
	} else if closeErr != nil {
		return closeErr
	}

	logrus.WithFields(logrus.Fields{
		"archive": archivePath,
		"bytes":   imageSize,
	}).Debug("image exported")
	fmt.Fprintf(ctx.App.Writer, "%d bytes exported\n", imageSize)
	return nil
}

func (state *appState) importArchive(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}
	archivePath := ctx.Args().Get(0)
	if err := state.config.Validate(); err != nil {
		return err
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return blockfs.ErrInvalidArgument.Wrap(err)
	}
	defer archive.Close()

	var raw bytes.Buffer
	imageSize, err := compression.DecompressImage(archive, &raw)
	if err != nil {
		return blockfs.ErrFileSystemCorrupted.Wrap(err)
	}
	if imageSize%int64(state.config.BlockSize) != 0 {
		return blockfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"archive holds %d bytes, not a multiple of the %d-byte block size",
				imageSize,
				state.config.BlockSize))
	}

	// Check the archive holds a volume before clobbering the image.
	probe := simplefs.New(blockdevice.NewMemoryDeviceFromBytes(raw.Bytes(), state.config.BlockSize))
	if _, _, err := probe.ReadSuperblock(); err != nil {
		return err
	}

	err = os.WriteFile(state.config.Image, raw.Bytes(), 0o644)
	if err != nil {
		return blockfs.ErrIOFailed.Wrap(err)
	}
	fmt.Fprintf(ctx.App.Writer, "%d bytes imported\n", imageSize)
	return nil
}

// exitCode maps an error to the process exit status, which is the errno the
// error would have become over FUSE.
func exitCode(err error) int {
	return int(mountpoint.ToErrno(err))
}
