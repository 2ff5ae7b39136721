package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/outofforest/vdisk"
	"github.com/outofforest/vdisk/geometry"
	"github.com/outofforest/vdisk/pkg/sizefmt"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(logger.Sugar(), os.Args[1:]); err != nil {
		logger.Sugar().Error(err)
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: vdisk <mkfs|info|mkdir|ls|put|cat|rm|stat> [flags] [path]")
	}

	switch args[0] {
	case "mkfs":
		return runMkfs(log, args[1:])
	case "info":
		return runInfo(args[1:])
	case "mkdir":
		return runMkdir(log, args[1:])
	case "ls":
		return runLs(args[1:])
	case "put":
		return runPut(log, args[1:])
	case "cat":
		return runCat(args[1:])
	case "rm":
		return runRm(log, args[1:])
	case "stat":
		return runStat(args[1:])
	default:
		return errors.Errorf("unknown command: %q", args[0])
	}
}

// preset is the YAML form of volume geometry parameters. Sizes may use the
// B/KB/MB/GB/TB ladder.
type preset struct {
	BlockSize     string `yaml:"block_size"`
	StorageSize   string `yaml:"storage_size"`
	FileInfoSize  uint8  `yaml:"file_info_size"`
	MaxNameLength uint8  `yaml:"max_name_length"`
}

func runMkfs(log *zap.SugaredLogger, args []string) error {
	flags := pflag.NewFlagSet("mkfs", pflag.ContinueOnError)
	imagePath := flags.String("image", "", "path of the image file to create")
	presetPath := flags.String("preset", "", "YAML file with geometry parameters")
	blockSize := flags.String("block-size", "4000", "block size")
	storageSize := flags.String("size", "16MB", "total image size")
	fileInfoSize := flags.Uint8("file-info-size", 12, "per-node metadata size in bytes")
	nameLength := flags.Uint8("name-length", 24, "name slot size in bytes")
	force := flags.Bool("force", false, "overwrite an existing image file")
	if err := flags.Parse(args); err != nil {
		return errors.WithStack(err)
	}
	if *imagePath == "" {
		return errors.New("--image is required")
	}

	params := geometry.Params{
		FileInfoSize:  *fileInfoSize,
		MaxNameLength: *nameLength,
	}
	var err error
	if params.BlockSize, err = sizefmt.Parse(*blockSize); err != nil {
		return err
	}
	if params.StorageSize, err = sizefmt.Parse(*storageSize); err != nil {
		return err
	}
	if *presetPath != "" {
		if params, err = loadPreset(*presetPath); err != nil {
			return err
		}
	}

	if !*force {
		if _, err := os.Stat(*imagePath); err == nil {
			return errors.Errorf("image %q already exists, use --force to overwrite", *imagePath)
		}
	}

	v, err := vdisk.New(params)
	if err != nil {
		return err
	}
	if err := v.SaveToFile(*imagePath); err != nil {
		return err
	}
	log.Infow("volume created", "image", *imagePath, "size", sizefmt.Format(params.StorageSize))
	return nil
}

func loadPreset(path string) (geometry.Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return geometry.Params{}, errors.WithStack(err)
	}
	var p preset
	if err := yaml.Unmarshal(b, &p); err != nil {
		return geometry.Params{}, errors.WithStack(err)
	}
	params := geometry.Params{
		FileInfoSize:  p.FileInfoSize,
		MaxNameLength: p.MaxNameLength,
	}
	if params.BlockSize, err = sizefmt.Parse(p.BlockSize); err != nil {
		return geometry.Params{}, err
	}
	if params.StorageSize, err = sizefmt.Parse(p.StorageSize); err != nil {
		return geometry.Params{}, err
	}
	return params, nil
}

func runInfo(args []string) error {
	v, _, err := openVolume("info", args, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = v.Close()
	}()

	geo := v.Geometry()
	freeSpace, err := v.FreeSpace()
	if err != nil {
		return err
	}
	freeNodes, err := v.FreeNodes()
	if err != nil {
		return err
	}

	fmt.Printf("block size:       %s\n", sizefmt.Format(geo.BlockSize))
	fmt.Printf("image size:       %s\n", sizefmt.Format(geo.StorageSize))
	fmt.Printf("pointer size:     %d\n", geo.PointerSize)
	fmt.Printf("blocks:           %d\n", geo.BlockCount)
	fmt.Printf("node entries:     %d (%d free)\n", geo.NodeCount, freeNodes)
	fmt.Printf("dir capacity:     %d entries\n", geo.MaxItemsPerDirectory)
	fmt.Printf("total space:      %s\n", sizefmt.Format(v.TotalSpace()))
	fmt.Printf("free space:       %s\n", sizefmt.Format(freeSpace))
	return nil
}

func runMkdir(log *zap.SugaredLogger, args []string) error {
	v, rest, err := openVolume("mkdir", args, 1)
	if err != nil {
		return err
	}
	defer func() {
		_ = v.Close()
	}()

	created, err := v.CreateDirectory(rest[0])
	if err != nil {
		return err
	}
	if !created {
		log.Infow("directory already exists", "path", rest[0])
		return nil
	}
	log.Infow("directory created", "path", rest[0])
	return v.Close()
}

func runLs(args []string) error {
	v, rest, err := openVolume("ls", args, 1)
	if err != nil {
		return err
	}
	defer func() {
		_ = v.Close()
	}()

	dirs, err := v.ListSubdirectories(rest[0])
	if err != nil {
		return err
	}
	files, err := v.ListFiles(rest[0])
	if err != nil {
		return err
	}
	for _, d := range dirs {
		fmt.Printf("<dir>   %s\n", d)
	}
	for _, f := range files {
		info, err := v.GetFile(f)
		if err != nil {
			return err
		}
		fmt.Printf("%-7s %s\n", sizefmt.Format(info.Size), f)
	}
	return nil
}

func runPut(log *zap.SugaredLogger, args []string) error {
	flags := pflag.NewFlagSet("put", pflag.ContinueOnError)
	imagePath := flags.String("image", "", "path of the image file")
	from := flags.String("from", "", "host file to copy in")
	if err := flags.Parse(args); err != nil {
		return errors.WithStack(err)
	}
	if *imagePath == "" || *from == "" || flags.NArg() != 1 {
		return errors.New("usage: put --image <image> --from <host file> <volume path>")
	}

	data, err := os.ReadFile(*from)
	if err != nil {
		return errors.WithStack(err)
	}
	v, err := vdisk.OpenFile(*imagePath)
	if err != nil {
		return err
	}
	defer func() {
		_ = v.Close()
	}()

	if err := v.WriteFileBytes(flags.Arg(0), data); err != nil {
		return err
	}
	log.Infow("file written", "path", flags.Arg(0), "size", sizefmt.Format(int64(len(data))))
	return v.Close()
}

func runCat(args []string) error {
	v, rest, err := openVolume("cat", args, 1)
	if err != nil {
		return err
	}
	defer func() {
		_ = v.Close()
	}()

	data, err := v.ReadFileBytes(rest[0])
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return errors.WithStack(err)
}

func runRm(log *zap.SugaredLogger, args []string) error {
	v, rest, err := openVolume("rm", args, 1)
	if err != nil {
		return err
	}
	defer func() {
		_ = v.Close()
	}()

	if err := v.DeleteFile(rest[0]); err != nil {
		return err
	}
	log.Infow("file deleted", "path", rest[0])
	return v.Close()
}

func runStat(args []string) error {
	v, rest, err := openVolume("stat", args, 1)
	if err != nil {
		return err
	}
	defer func() {
		_ = v.Close()
	}()

	if exists, err := v.ExistsFile(rest[0]); err != nil {
		return err
	} else if exists {
		info, err := v.GetFile(rest[0])
		if err != nil {
			return err
		}
		fmt.Printf("file      %s\n", info.Path)
		fmt.Printf("size      %s\n", sizefmt.Format(info.Size))
		fmt.Printf("modified  %s\n", info.LastModified)
		return nil
	}

	info, err := v.GetDirectory(rest[0])
	if err != nil {
		return err
	}
	fmt.Printf("directory %s\n", info.Path)
	if !info.LastModified.IsZero() {
		fmt.Printf("modified  %s\n", info.LastModified)
	}
	return nil
}

// openVolume parses the shared --image flag, requires nArgs positional
// arguments and opens the volume.
func openVolume(command string, args []string, nArgs int) (*vdisk.Volume, []string, error) {
	flags := pflag.NewFlagSet(command, pflag.ContinueOnError)
	imagePath := flags.String("image", "", "path of the image file")
	if err := flags.Parse(args); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if *imagePath == "" {
		return nil, nil, errors.Errorf("%s: --image is required", command)
	}
	if flags.NArg() != nArgs {
		return nil, nil, errors.Errorf("%s: expected %d argument(s), got %d", command, nArgs, flags.NArg())
	}
	v, err := vdisk.OpenFile(*imagePath)
	if err != nil {
		return nil, nil, err
	}
	return v, flags.Args(), nil
}
