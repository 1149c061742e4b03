package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	pz "github.com/weberc2/httpeasy"
	"github.com/weberc2/sectorfs/pkg/filesystem"
	"github.com/weberc2/sectorfs/pkg/inspect"
	"github.com/weberc2/sectorfs/pkg/pgdevice"
	"github.com/weberc2/sectorfs/pkg/snapshot"
	. "github.com/weberc2/sectorfs/pkg/types"
)

func main() {
	pathArg := func(ctx *cli.Context) (string, error) {
		if ctx.NArg() != 1 {
			return "", fmt.Errorf("wanted exactly one path argument")
		}
		return ctx.Args().First(), nil
	}
	nameFlag := &cli.StringFlag{
		Name:     "name",
		Usage:    "the snapshot name",
		Required: true,
	}

	app := cli.App{
		Name:        appName,
		Description: "a sector-addressed filesystem on a file, ramdisk, or postgres table",
		Commands: []*cli.Command{{
			Name:        "format",
			Aliases:     []string{"mkfs"},
			Description: "write an empty filesystem to the configured device",
			Action: withConfig(func(c *Config, ctx *cli.Context) error {
				dev, closeDev, err := c.OpenDevice(true)
				if err != nil {
					return err
				}
				defer closeDev()
				fs, err := filesystem.Format(dev, c.options())
				if err != nil {
					return err
				}
				if err := fs.Close(); err != nil {
					return err
				}
				log.Printf(
					"formatted %s device with `%d` sectors (`%d` free)",
					c.Device,
					dev.Sectors(),
					fs.FreeMap.Free(),
				)
				return nil
			}),
		}, {
			Name:        "ls",
			Aliases:     []string{"list"},
			Description: "list a directory",
			Flags: []cli.Flag{&cli.BoolFlag{
				Name:    "long",
				Aliases: []string{"l"},
				Usage:   "print the inumber, type, and length of each entry",
			}},
			Action: withFileSystem(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				path := "/"
				if ctx.NArg() > 0 {
					path = ctx.Args().First()
				}
				dir, err := fs.OpenDir(nil, path)
				if err != nil {
					return err
				}
				defer dir.Close()
				names, err := fs.ReadDir(dir, ".")
				if err != nil {
					return err
				}
				for _, name := range names {
					if !ctx.Bool("long") {
						fmt.Println(name)
						continue
					}
					info, err := fs.Stat(dir, name)
					if err != nil {
						return err
					}
					kind := "f"
					if info.IsDirectory {
						kind = "d"
					}
					fmt.Printf(
						"%6d %s %10d %s\n",
						info.Inumber,
						kind,
						info.Length,
						name,
					)
				}
				return nil
			}),
		}, {
			Name:        "mkdir",
			Description: "create a directory",
			Action: withFileSystem(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				path, err := pathArg(ctx)
				if err != nil {
					return err
				}
				return fs.Mkdir(nil, path)
			}),
		}, {
			Name: "put",
			Description: "create a file from stdin. The file's length is " +
				"fixed at creation",
			Flags: []cli.Flag{&cli.Int64Flag{
				Name: "length",
				Usage: "the file length in bytes; defaults to the size of " +
					"stdin and may not be smaller",
			}},
			Action: withFileSystem(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				path, err := pathArg(ctx)
				if err != nil {
					return err
				}
				data, err := ioutil.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				length := Byte(ctx.Int64("length"))
				if length == 0 {
					length = Byte(len(data))
				}
				if length < Byte(len(data)) {
					return fmt.Errorf(
						"`%d` bytes on stdin exceed --length `%d`",
						len(data),
						length,
					)
				}
				if err := fs.Create(nil, path, length); err != nil {
					return err
				}
				in, err := fs.OpenInode(nil, path)
				if err != nil {
					return err
				}
				defer in.Close()
				if n := in.WriteAt(data, 0); n != Byte(len(data)) {
					return fmt.Errorf(
						"writing `%s`: wrote `%d` of `%d` bytes",
						path,
						n,
						len(data),
					)
				}
				return nil
			}),
		}, {
			Name:        "cat",
			Description: "write a file to stdout",
			Action: withFileSystem(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				path, err := pathArg(ctx)
				if err != nil {
					return err
				}
				data, err := fs.ReadFile(nil, path)
				if err != nil {
					return err
				}
				if _, err := os.Stdout.Write(data); err != nil {
					return fmt.Errorf("writing to stdout: %w", err)
				}
				return nil
			}),
		}, {
			Name:        "rm",
			Aliases:     []string{"remove", "rmdir"},
			Description: "remove a file or an empty directory",
			Action: withFileSystem(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				path, err := pathArg(ctx)
				if err != nil {
					return err
				}
				return fs.Remove(nil, path)
			}),
		}, {
			Name:        "stat",
			Description: "print an inode's metadata, or the volume's when no path is given",
			Action: withFileSystem(func(fs *filesystem.FileSystem, ctx *cli.Context) error {
				var v interface{}
				if ctx.NArg() > 0 {
					info, err := fs.Stat(nil, ctx.Args().First())
					if err != nil {
						return err
					}
					v = info
				} else {
					v = struct {
						Sectors     Sector `json:"sectors"`
						FreeSectors Sector `json:"freeSectors"`
					}{
						Sectors:     fs.FreeMap.Len(),
						FreeSectors: fs.FreeMap.Free(),
					}
				}
				return printJSON(v)
			}),
		}, {
			Name:        "serve",
			Description: "serve the read-only inspection API",
			Action:      withConfig(serve),
		}, {
			Name:        "snapshot",
			Description: "copy the device image to and from S3",
			Subcommands: []*cli.Command{{
				Name:        "push",
				Description: "upload the device image",
				Flags:       []cli.Flag{nameFlag},
				Action: withSnapshots(func(c *Config, snapshots *snapshot.Store, ctx *cli.Context) error {
					dev, closeDev, err := c.OpenDevice(false)
					if err != nil {
						return err
					}
					defer closeDev()
					manifest, err := snapshots.Push(ctx.String("name"), dev)
					if err != nil {
						return err
					}
					log.Printf(
						"pushed snapshot `%s` (%s) to `%s`",
						manifest.Name,
						manifest.ID,
						manifest.Key,
					)
					return nil
				}),
			}, {
				Name: "pull",
				Description: "download a snapshot onto the device. Image " +
					"files are recreated at the snapshot's size",
				Flags: []cli.Flag{nameFlag},
				Action: withSnapshots(func(c *Config, snapshots *snapshot.Store, ctx *cli.Context) error {
					manifest, err := snapshots.Manifest(ctx.String("name"))
					if err != nil {
						return err
					}
					if c.Device == DeviceFile {
						c.Sectors = manifest.Sectors
					}
					dev, closeDev, err := c.OpenDevice(true)
					if err != nil {
						return err
					}
					defer closeDev()
					if _, err := snapshots.Pull(manifest.Name, dev); err != nil {
						return err
					}
					log.Printf(
						"pulled snapshot `%s` (%s): `%d` sectors",
						manifest.Name,
						manifest.ID,
						manifest.Sectors,
					)
					return nil
				}),
			}, {
				Name:        "list",
				Aliases:     []string{"ls"},
				Description: "list snapshots",
				Action: withSnapshots(func(c *Config, snapshots *snapshot.Store, ctx *cli.Context) error {
					manifests, err := snapshots.List()
					if err != nil {
						return err
					}
					return printJSON(manifests)
				}),
			}, {
				Name:        "delete",
				Aliases:     []string{"rm"},
				Description: "delete a snapshot",
				Flags:       []cli.Flag{nameFlag},
				Action: withSnapshots(func(c *Config, snapshots *snapshot.Store, ctx *cli.Context) error {
					return snapshots.Delete(ctx.String("name"))
				}),
			}},
		}, {
			Name:        "pg",
			Description: "commands for the postgres device",
			Subcommands: []*cli.Command{{
				Name:        "table",
				Description: "commands for interacting with the backing pg table",
				Subcommands: []*cli.Command{{
					Name:        "ensure",
					Aliases:     []string{"make", "create"},
					Description: "create the table if it doesn't already exist",
					Action: withPGDevice(func(dev *pgdevice.Device, ctx *cli.Context) error {
						return dev.EnsureTable()
					}),
				}, {
					Name:        "drop",
					Aliases:     []string{"delete", "destroy"},
					Description: "drop the postgres table",
					Action: withPGDevice(func(dev *pgdevice.Device, ctx *cli.Context) error {
						return dev.DropTable()
					}),
				}, {
					Name:        "reset",
					Description: "delete and recreate the postgres table",
					Action: withPGDevice(func(dev *pgdevice.Device, ctx *cli.Context) error {
						return dev.ResetTable()
					}),
				}, {
					Name:        "clear",
					Description: "zero every sector without dropping the table",
					Action: withPGDevice(func(dev *pgdevice.Device, ctx *cli.Context) error {
						return dev.ClearTable()
					}),
				}},
			}},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(c *Config, ctx *cli.Context) error {
	dev, closeDev, err := c.OpenDevice(false)
	if err != nil {
		return err
	}
	defer closeDev()

	opts := c.options()
	opts.Logger = log.Printf
	var fs *filesystem.FileSystem
	if c.Device == DeviceMemory {
		fs, err = filesystem.Format(dev, opts)
	} else {
		fs, err = filesystem.Open(dev, opts)
	}
	if err != nil {
		return err
	}

	service := inspect.Service{FileSystem: fs}
	server := http.Server{
		Addr:    c.Addr,
		Handler: pz.Register(pz.JSONLog(os.Stderr), service.Routes()...),
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		if err := server.Shutdown(context.Background()); err != nil {
			log.Printf("shutting down server: %v", err)
		}
	}()

	log.Printf("listening on `%s`", c.Addr)
	if err := server.ListenAndServe(); err != nil &&
		!errors.Is(err, http.ErrServerClosed) {
		fs.Close()
		return err
	}
	if err := fs.Close(); err != nil {
		return err
	}
	log.Printf("flushed filesystem; exiting")
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling to JSON: %w", err)
	}
	if _, err := fmt.Printf("%s\n", data); err != nil {
		return fmt.Errorf("writing JSON to stdout: %w", err)
	}
	return nil
}

func withConfig(f func(*Config, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c, err := LoadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if err := c.Validate(); err != nil {
			return err
		}
		return f(c, ctx)
	}
}

func withFileSystem(
	f func(*filesystem.FileSystem, *cli.Context) error,
) cli.ActionFunc {
	return withConfig(func(c *Config, ctx *cli.Context) error {
		if c.Device == DeviceMemory {
			return fmt.Errorf("the memory device only supports `serve`")
		}
		dev, closeDev, err := c.OpenDevice(false)
		if err != nil {
			return err
		}
		defer closeDev()
		fs, err := filesystem.Open(dev, c.options())
		if err != nil {
			return err
		}
		if err := f(fs, ctx); err != nil {
			fs.Close()
			return err
		}
		return fs.Close()
	})
}

func withSnapshots(
	f func(*Config, *snapshot.Store, *cli.Context) error,
) cli.ActionFunc {
	return withConfig(func(c *Config, ctx *cli.Context) error {
		snapshots, err := c.Snapshots()
		if err != nil {
			return err
		}
		return f(c, snapshots, ctx)
	})
}

func withPGDevice(f func(*pgdevice.Device, *cli.Context) error) cli.ActionFunc {
	return withConfig(func(c *Config, ctx *cli.Context) error {
		dev, err := pgdevice.Open(c.pgConfig())
		if err != nil {
			return fmt.Errorf("opening postgres device: %w", err)
		}
		defer dev.Close()
		return f(dev, ctx)
	})
}
