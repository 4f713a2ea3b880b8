package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"text/tabwriter"
	"time"

	"github.com/aligator/fatvol"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func lsCmd() *cobra.Command {
	var (
		recursive bool
		exact     bool
	)
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "list a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) == 1 {
				dir = args[0]
			}

			return withImage(func(img *image) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				printInfo := func(name string, info os.FileInfo) {
					size := humanize.IBytes(uint64(info.Size()))
					if exact {
						size = fmt.Sprint(info.Size())
					}
					fmt.Fprintf(w, "%v\t%s\t%s\t%s\n", info.Mode(), size, info.ModTime().Format(time.RFC3339), name)
				}

				if !recursive {
					infos, err := afero.ReadDir(img.fs, dir)
					if err != nil {
						return err
					}
					for _, info := range infos {
						printInfo(info.Name(), info)
					}
					return w.Flush()
				}

				err := afero.Walk(img.fs, dir, func(p string, info os.FileInfo, err error) error {
					if err != nil {
						return err
					}
					if p != dir {
						printInfo(p, info)
					}
					return nil
				})
				return multierr.Append(err, w.Flush())
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "List all subdirectories")
	cmd.Flags().BoolVar(&exact, "bytes", false, "Print exact sizes in bytes")
	return cmd
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat path",
		Short: "show the attributes of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImage(func(img *image) error {
				info, err := img.fs.Stat(args[0])
				if err != nil {
					return err
				}
				e, ok := info.Sys().(fatvol.EntryInfo)
				if !ok {
					return fmt.Errorf("unexpected file info %T", info.Sys())
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "Name:\t%s\n", info.Name())
				fmt.Fprintf(w, "Mode:\t%v\n", info.Mode())
				fmt.Fprintf(w, "Size:\t%d (%s)\n", e.Size, humanize.IBytes(uint64(e.Size)))
				fmt.Fprintf(w, "Blocks:\t%d x %d\n", e.BlockCount, e.BlockSize)
				fmt.Fprintf(w, "First cluster:\t%d\n", e.FirstCluster)
				fmt.Fprintf(w, "Hidden:\t%v\n", e.Attrib.Hidden)
				fmt.Fprintf(w, "Created:\t%s\n", formatTime(e.Created))
				fmt.Fprintf(w, "Modified:\t%s\n", formatTime(e.Modified))
				fmt.Fprintf(w, "Accessed:\t%s\n", formatTime(e.Accessed))
				return w.Flush()
			})
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), humanize.Time(t))
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat path",
		Short: "print the content of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImage(func(img *image) error {
				f, err := img.fs.Open(args[0])
				if err != nil {
					return err
				}
				_, err = io.Copy(cmd.OutOrStdout(), f)
				return multierr.Append(err, f.Close())
			})
		},
	}
}

func writeCmd() *cobra.Command {
	var appendData bool
	cmd := &cobra.Command{
		Use:   "write path [source]",
		Short: "write a file from a local file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := cmd.InOrStdin()
			if len(args) == 2 {
				local, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer local.Close()
				src = local
			}

			flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			if appendData {
				flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
			}

			return withImage(func(img *image) error {
				f, err := img.fs.OpenFile(args[0], flag, 0666)
				if err != nil {
					return err
				}
				n, err := io.Copy(f, src)
				if err := multierr.Append(err, f.Close()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s written\n", humanize.IBytes(uint64(n)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&appendData, "append", "a", false, "Append to the file instead of replacing it")
	return cmd
}

func touchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch path...",
		Short: "create empty files or update their timestamps",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImage(func(img *image) error {
				now := time.Now()
				for _, name := range args {
					_, err := img.fs.Stat(name)
					if err == nil {
						if err := img.fs.Chtimes(name, now, now); err != nil {
							return err
						}
						continue
					}
					if !os.IsNotExist(err) {
						return err
					}

					f, err := img.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0666)
					if err != nil {
						return err
					}
					if err := f.Close(); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func mkdirCmd() *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "mkdir path...",
		Short: "create directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImage(func(img *image) error {
				for _, name := range args {
					var err error
					if parents {
						err = img.fs.MkdirAll(name, 0777)
					} else {
						err = img.fs.Mkdir(name, 0777)
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create missing parent directories")
	return cmd
}

func rmCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm path...",
		Short: "remove files and directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImage(func(img *image) error {
				var result error
				for _, name := range args {
					if recursive {
						result = multierr.Append(result, img.fs.RemoveAll(name))
					} else {
						result = multierr.Append(result, img.fs.Remove(name))
					}
				}
				return result
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Remove directories and their content")
	return cmd
}

func mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv source target",
		Short: "rename or move an entry",
		Long:  `Rename or move an entry. If target is an existing directory, source is moved into it.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImage(func(img *image) error {
				target := args[1]
				if info, err := img.fs.Stat(target); err == nil && info.IsDir() {
					target = path.Join(target, path.Base(args[0]))
				}
				return img.fs.Rename(args[0], target)
			})
		},
	}
}
